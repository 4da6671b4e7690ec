package briefing

import (
	"errors"
	"fmt"
)

var (
	// ErrStageFailed marks any pipeline failure.
	ErrStageFailed = errors.New("briefing.stage_failed")
	// ErrInvalidPipeline indicates a malformed stage graph.
	ErrInvalidPipeline = errors.New("briefing.invalid_pipeline")
	// ErrMissingInput indicates a stage references an input that was not supplied.
	ErrMissingInput = errors.New("briefing.missing_input")
)

// StageError names the stage that failed and why.
type StageError struct {
	Stage string
	Err   error
}

func (stageError *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStageFailed, stageError.Stage, stageError.Err)
}

// Is matches ErrStageFailed.
func (stageError *StageError) Is(target error) bool {
	return target == ErrStageFailed
}

func (stageError *StageError) Unwrap() error {
	return stageError.Err
}
