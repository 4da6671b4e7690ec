package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/briefing/internal/briefing"
	"github.com/tyemirov/briefing/internal/completion"
	"go.uber.org/zap"
)

const (
	sampleEmails = `Email 1: Meeting reminder for tomorrow at 2 PM with the development team.
Email 2: Invoice #12345 from vendor ABC Corp for $1,500 due next week.
Email 3: Project update: Phase 1 completed, moving to Phase 2.`

	sampleCalendar = `Today's Events:
- 9:00 AM: Daily standup meeting
- 2:00 PM: Client presentation
- 4:00 PM: Code review session`

	healthCheckTimeout = 10 * time.Second
)

var errHealthCheckFailed = errors.New("healthcheck.failed")

func newSelfTestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "selftest",
		Short: "Run the briefing pipeline on built-in sample data without Google",
		RunE:  runSelfTest,
	}
}

func runSelfTest(command *cobra.Command, arguments []string) error {
	output := command.OutOrStdout()
	apiKey := strings.TrimSpace(viper.GetString("openai_api_key"))
	if apiKey == "" {
		fmt.Fprintln(output, "OpenRouter API key not configured; set OPENAI_API_KEY")
		return completion.ErrMissingAPIKey
	}

	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	client := completion.NewClient(completion.Config{
		APIKey:  apiKey,
		Model:   viper.GetString("openrouter_model"),
		BaseURL: viper.GetString("completion_base_url"),
		Logger:  logger,
	})
	pipeline, pipelineErr := briefing.NewPipeline(client, logger)
	if pipelineErr != nil {
		return pipelineErr
	}

	ctx := command.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	fmt.Fprintf(output, "Model: %s\n", client.Model())
	result, runErr := pipeline.Run(ctx, map[string]string{
		briefing.InputEmailsData:   sampleEmails,
		briefing.InputCalendarData: sampleCalendar,
	})
	if runErr != nil {
		fmt.Fprintf(output, "Pipeline failed: %v\n", runErr)
		return runErr
	}
	fmt.Fprintf(output, "Generated briefing (%.2fs):\n%s\n", result.Duration.Seconds(), result.Briefing)
	return nil
}

func newHealthCheckCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "healthcheck",
		Short: "Probe a running server's /health endpoint",
		RunE:  runHealthCheck,
	}
	command.Flags().String("url", "http://localhost:8080/health", "Health endpoint to probe")
	return command
}

func runHealthCheck(command *cobra.Command, arguments []string) error {
	target, flagErr := command.Flags().GetString("url")
	if flagErr != nil {
		return flagErr
	}
	ctx := command.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	probeCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	request, requestErr := http.NewRequestWithContext(probeCtx, http.MethodGet, target, nil)
	if requestErr != nil {
		return fmt.Errorf("%w: %v", errHealthCheckFailed, requestErr)
	}
	response, responseErr := http.DefaultClient.Do(request)
	if responseErr != nil {
		return fmt.Errorf("%w: %v", errHealthCheckFailed, responseErr)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: HTTP %d", errHealthCheckFailed, response.StatusCode)
	}
	fmt.Fprintln(command.OutOrStdout(), "Health check passed")
	return nil
}
