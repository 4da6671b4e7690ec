// Package briefing turns mail and calendar summaries into a daily briefing by
// running a small graph of persona-bound completion stages.
package briefing

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tyemirov/briefing/internal/completion"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Completer produces one completion. *completion.Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, request completion.Request) (string, error)
}

// Result is the outcome of a successful run.
type Result struct {
	RunID    string
	Briefing string
	Outputs  map[string]string
	Duration time.Duration
}

// Pipeline runs stages in dependency order. Stages whose dependencies are
// satisfied run concurrently; the last stage's output is the briefing.
type Pipeline struct {
	stages    []Stage
	waves     [][]Stage
	completer Completer
	logger    *zap.Logger
}

var placeholderPattern = regexp.MustCompile(`\{([a-z_][a-z0-9_]*)\}`)

// NewPipeline validates the stage graph and returns a runnable pipeline.
func NewPipeline(completer Completer, logger *zap.Logger, stages ...Stage) (*Pipeline, error) {
	if completer == nil {
		return nil, fmt.Errorf("%w: completer is required", ErrInvalidPipeline)
	}
	if len(stages) == 0 {
		stages = DefaultStages()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	waves, err := planWaves(stages)
	if err != nil {
		return nil, err
	}
	return &Pipeline{stages: stages, waves: waves, completer: completer, logger: logger}, nil
}

// planWaves groups stages into levels; each level depends only on earlier ones.
func planWaves(stages []Stage) ([][]Stage, error) {
	known := make(map[string]struct{}, len(stages))
	for _, stage := range stages {
		if strings.TrimSpace(stage.Name) == "" {
			return nil, fmt.Errorf("%w: stage name is required", ErrInvalidPipeline)
		}
		if _, duplicate := known[stage.Name]; duplicate {
			return nil, fmt.Errorf("%w: duplicate stage %s", ErrInvalidPipeline, stage.Name)
		}
		known[stage.Name] = struct{}{}
	}
	for _, stage := range stages {
		for _, dependency := range stage.DependsOn {
			if _, ok := known[dependency]; !ok {
				return nil, fmt.Errorf("%w: stage %s depends on unknown stage %s", ErrInvalidPipeline, stage.Name, dependency)
			}
		}
	}

	placed := make(map[string]bool, len(stages))
	var waves [][]Stage
	for len(placed) < len(stages) {
		var wave []Stage
		for _, stage := range stages {
			if placed[stage.Name] {
				continue
			}
			ready := true
			for _, dependency := range stage.DependsOn {
				if !placed[dependency] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, stage)
			}
		}
		if len(wave) == 0 {
			return nil, fmt.Errorf("%w: dependency cycle", ErrInvalidPipeline)
		}
		for _, stage := range wave {
			placed[stage.Name] = true
		}
		waves = append(waves, wave)
	}
	final := stages[len(stages)-1]
	lastWave := waves[len(waves)-1]
	if len(lastWave) != 1 || lastWave[0].Name != final.Name {
		return nil, fmt.Errorf("%w: final stage %s must run last and alone", ErrInvalidPipeline, final.Name)
	}
	return waves, nil
}

// Run executes every stage once. Any failure cancels the rest and returns a
// *StageError; there is no partial result and no retry.
func (pipeline *Pipeline) Run(ctx context.Context, inputs map[string]string) (Result, error) {
	runID := uuid.NewString()
	logger := pipeline.logger.With(zap.String("run_id", runID))
	started := time.Now()

	for _, stage := range pipeline.stages {
		if err := checkInputs(stage, inputs); err != nil {
			return Result{}, &StageError{Stage: stage.Name, Err: err}
		}
	}

	outputs := make(map[string]string, len(pipeline.stages))
	var outputsMutex sync.Mutex
	for _, wave := range pipeline.waves {
		group, groupContext := errgroup.WithContext(ctx)
		for _, stage := range wave {
			outputsMutex.Lock()
			request := buildRequest(stage, inputs, outputs)
			outputsMutex.Unlock()
			group.Go(func() error {
				stageStarted := time.Now()
				content, err := pipeline.completer.Complete(groupContext, request)
				if err != nil {
					return &StageError{Stage: stage.Name, Err: err}
				}
				outputsMutex.Lock()
				outputs[stage.Name] = strings.TrimSpace(content)
				outputsMutex.Unlock()
				logger.Info("stage completed",
					zap.String("code", "briefing.stage.completed"),
					zap.String("stage", stage.Name),
					zap.Duration("elapsed", time.Since(stageStarted)))
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			logger.Error("pipeline failed", zap.String("code", "briefing.pipeline.failure"), zap.Error(err))
			return Result{}, err
		}
	}

	final := pipeline.stages[len(pipeline.stages)-1]
	duration := time.Since(started)
	logger.Info("pipeline completed", zap.String("code", "briefing.pipeline.completed"), zap.Duration("elapsed", duration))
	return Result{
		RunID:    runID,
		Briefing: outputs[final.Name],
		Outputs:  outputs,
		Duration: duration,
	}, nil
}

func checkInputs(stage Stage, inputs map[string]string) error {
	for _, match := range placeholderPattern.FindAllStringSubmatch(stage.Description, -1) {
		if _, ok := inputs[match[1]]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingInput, match[1])
		}
	}
	return nil
}

func renderDescription(description string, inputs map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(description, func(placeholder string) string {
		return inputs[placeholder[1:len(placeholder)-1]]
	})
}

// buildRequest renders the persona as the system turn and the task, expected
// output, and dependency outputs as the user turn.
func buildRequest(stage Stage, inputs map[string]string, outputs map[string]string) completion.Request {
	system := fmt.Sprintf("You are %s.\nYour goal: %s\n\n%s", stage.Persona.Role, stage.Persona.Goal, stage.Persona.Backstory)

	var task strings.Builder
	task.WriteString(renderDescription(stage.Description, inputs))
	task.WriteString("\n\nExpected output: ")
	task.WriteString(stage.ExpectedOutput)
	if len(stage.DependsOn) > 0 {
		task.WriteString("\n\nContext from earlier steps:")
		for _, dependency := range stage.DependsOn {
			task.WriteString("\n\n## ")
			task.WriteString(dependency)
			task.WriteString("\n")
			task.WriteString(outputs[dependency])
		}
	}
	return completion.Request{
		Messages: []completion.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: task.String()},
		},
	}
}
