package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/briefing/internal/authkit"
	"github.com/tyemirov/briefing/internal/briefing"
	"github.com/tyemirov/briefing/internal/completion"
	"github.com/tyemirov/briefing/internal/logstream"
	"go.uber.org/zap"
)

const (
	metricBriefingSuccess = "briefing.success"
	metricBriefingFailure = "briefing.failure"
)

// DataFetcher reads the raw mail and calendar summaries for a session.
type DataFetcher interface {
	FetchMail(ctx context.Context, credentials *authkit.Credentials) (string, error)
	FetchCalendar(ctx context.Context, credentials *authkit.Credentials) (string, error)
}

// BriefingRunner turns the summaries into a briefing.
type BriefingRunner interface {
	Run(ctx context.Context, inputs map[string]string) (briefing.Result, error)
}

// StatusProber checks the completion API.
type StatusProber interface {
	Probe(ctx context.Context) (completion.ProbeResult, error)
}

// BriefingDependencies wires HandleBriefing.
type BriefingDependencies struct {
	Logger   *zap.Logger
	Fetcher  DataFetcher
	Runner   BriefingRunner
	Sessions authkit.SessionStore
	Metrics  authkit.MetricsRecorder
}

// HandleBriefing fetches mail and calendar data for the session, runs the
// pipeline, and answers {briefing, processing_time}. Unauthenticated sessions
// still get a briefing built from the not-logged-in notices.
func HandleBriefing(dependencies BriefingDependencies) gin.HandlerFunc {
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if dependencies.Fetcher == nil || dependencies.Runner == nil {
		panic("briefing fetcher and runner are required")
	}
	record := func(event string) {
		if dependencies.Metrics != nil {
			dependencies.Metrics.Increment(event)
		}
	}

	return func(contextGin *gin.Context) {
		started := time.Now()
		requestContext := contextGin.Request.Context()
		session := authkit.SessionFromContext(contextGin)
		accessTokenBefore := ""
		if session.Credentials != nil {
			accessTokenBefore = session.Credentials.AccessToken
		}

		fail := func(err error) {
			record(metricBriefingFailure)
			logger.Error("briefing failed",
				zap.String("code", "briefing.request.failure"),
				zap.Error(err))
			contextGin.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to generate briefing: " + err.Error(),
			})
		}

		emails, mailErr := dependencies.Fetcher.FetchMail(requestContext, session.Credentials)
		if mailErr != nil {
			fail(mailErr)
			return
		}
		calendarText, calendarErr := dependencies.Fetcher.FetchCalendar(requestContext, session.Credentials)
		if calendarErr != nil {
			fail(calendarErr)
			return
		}

		if session.Credentials != nil && session.Credentials.AccessToken != accessTokenBefore && dependencies.Sessions != nil {
			if saveErr := dependencies.Sessions.Save(contextGin.Writer, session); saveErr != nil {
				logger.Warn("refreshed credentials not saved",
					zap.String("code", "briefing.session.save_failed"),
					zap.Error(saveErr))
			}
		}

		result, runErr := dependencies.Runner.Run(requestContext, map[string]string{
			briefing.InputCalendarData: calendarText,
			briefing.InputEmailsData:   emails,
		})
		if runErr != nil {
			fail(runErr)
			return
		}

		record(metricBriefingSuccess)
		logger.Info("briefing generated",
			zap.String("code", "briefing.request.success"),
			zap.String("run_id", result.RunID),
			zap.Duration("pipeline_elapsed", result.Duration),
			zap.Duration("elapsed", time.Since(started)))
		contextGin.JSON(http.StatusOK, gin.H{
			"briefing":        result.Briefing,
			"processing_time": formatSeconds(result.Duration),
		})
	}
}

// HandleAPIStatus probes the completion API and reports its health.
func HandleAPIStatus(logger *zap.Logger, prober StatusProber, model string, clock func() time.Time) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = time.Now
	}
	return func(contextGin *gin.Context) {
		result, err := prober.Probe(contextGin.Request.Context())
		timestamp := clock().Format(time.RFC3339Nano)
		if err != nil {
			logger.Error("completion api unhealthy",
				zap.String("code", "api_status.failure"),
				zap.Error(err))
			contextGin.JSON(http.StatusInternalServerError, gin.H{
				"status":    "error",
				"error":     err.Error(),
				"timestamp": timestamp,
			})
			return
		}
		if result.Model != "" {
			model = result.Model
		}
		contextGin.JSON(http.StatusOK, gin.H{
			"status":        "healthy",
			"api":           "openrouter",
			"model":         model,
			"response_time": formatSeconds(result.Elapsed),
			"test_response": result.TestResponse,
			"timestamp":     timestamp,
		})
	}
}

// HandleHealth reports liveness.
func HandleHealth(contextGin *gin.Context) {
	contextGin.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// HandleLogs streams lines appended to the log file as "data: <line>\n\n"
// until the client disconnects.
func HandleLogs(logger *zap.Logger, path string, interval time.Duration) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(contextGin *gin.Context) {
		contextGin.Header("Content-Type", "text/plain; charset=utf-8")
		contextGin.Header("Cache-Control", "no-cache")
		contextGin.Header("X-Accel-Buffering", "no")

		lines, err := logstream.Tail(contextGin.Request.Context(), path, interval)
		if err != nil {
			if !errors.Is(err, logstream.ErrLogFileNotFound) {
				logger.Warn("log stream unavailable", zap.String("code", "logs.open_failed"), zap.Error(err))
			}
			contextGin.String(http.StatusOK, "data: Log file not found\n\n")
			return
		}

		contextGin.Status(http.StatusOK)
		contextGin.Writer.WriteHeaderNow()
		contextGin.Writer.Flush()
		for line := range lines {
			if _, writeErr := fmt.Fprintf(contextGin.Writer, "data: %s\n\n", line); writeErr != nil {
				return
			}
			contextGin.Writer.Flush()
		}
	}
}

func formatSeconds(duration time.Duration) string {
	return fmt.Sprintf("%.2fs", duration.Seconds())
}
