package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/tyemirov/briefing/internal/authkit"
	"github.com/tyemirov/briefing/internal/briefing"
	"github.com/tyemirov/briefing/internal/completion"
	"github.com/tyemirov/briefing/internal/googledata"
	"github.com/tyemirov/briefing/internal/logstream"
	"github.com/tyemirov/briefing/internal/web"
	webassets "github.com/tyemirov/briefing/web"
	"go.uber.org/zap"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "briefing",
		Short:        "Daily briefing service: Gmail and Calendar summarized by an LLM pipeline",
		SilenceUsage: true,
		PreRunE:      prepareServerConfig,
		RunE:         runServer,
	}
	bindFlags(rootCmd)
	rootCmd.AddCommand(newSelfTestCommand(), newHealthCheckCommand())
	return rootCmd
}

// application holds everything buildRouter mounts.
type application struct {
	config   ServiceConfig
	logger   *zap.Logger
	gateway  *authkit.Gateway
	sessions authkit.SessionStore
	fetcher  web.DataFetcher
	runner   web.BriefingRunner
	prober   web.StatusProber
	model    string
	metrics  authkit.MetricsRecorder
}

func runServer(command *cobra.Command, arguments []string) error {
	serverConfig, configErr := serviceConfigFromCommand(command)
	if configErr != nil {
		return configErr
	}

	logger, closeLogger, loggerErr := logstream.NewLogger(serverConfig.LogFile)
	if loggerErr != nil {
		return fmt.Errorf("%s: %w", configCodeLoggerInit, loggerErr)
	}
	defer func() { _ = closeLogger() }()

	baseContext := command.Context()
	if baseContext == nil {
		baseContext = context.Background()
	}
	shutdownCtx, shutdownCancel := context.WithCancel(baseContext)
	defer shutdownCancel()

	clientSecrets, secretsErr := authkit.LoadClientSecrets(serverConfig.GoogleCredentialsBase64, serverConfig.GoogleCredentialsFile)
	if secretsErr != nil {
		return fmt.Errorf("%s: %w", configCodeGoogleClientSecrets, secretsErr)
	}
	oauthConfig, oauthErr := authkit.NewGoogleOAuthConfig(clientSecrets, serverConfig.GoogleRedirectURI)
	if oauthErr != nil {
		return fmt.Errorf("%s: %w", configCodeGoogleClientSecrets, oauthErr)
	}

	codes, codeStoreErr := openCodeStore(shutdownCtx, serverConfig)
	if codeStoreErr != nil {
		return fmt.Errorf("%s: %w", configCodeCodeStoreInit, codeStoreErr)
	}
	defer func() {
		shutdownCancel()
		codes.close()
	}()
	logger.Info("processed-code store ready", zap.String("driver", codes.driver))
	if codes.purger != nil {
		go purgeExpiredCodes(shutdownCtx, logger, codes.purger, serverConfig.Auth.FlowTTL)
	}

	clock := authkit.NewSystemClock()
	authkit.ProvideClock(clock)
	defer authkit.ProvideClock(nil)

	authkit.ProvideLogger(logger)
	defer authkit.ProvideLogger(nil)

	metricsRecorder := authkit.NewCounterMetrics()
	authkit.ProvideMetrics(metricsRecorder)
	defer authkit.ProvideMetrics(nil)

	gateway, gatewayErr := authkit.NewGateway(oauthConfig, codes.store, serverConfig.Auth)
	if gatewayErr != nil {
		return gatewayErr
	}
	sessions, sessionsErr := authkit.NewCookieSessionStore(serverConfig.Auth)
	if sessionsErr != nil {
		return sessionsErr
	}

	completionClient := completion.NewClient(completion.Config{
		APIKey:  serverConfig.CompletionAPIKey,
		Model:   serverConfig.CompletionModel,
		BaseURL: serverConfig.CompletionBaseURL,
		Logger:  logger,
	})
	pipeline, pipelineErr := briefing.NewPipeline(completionClient, logger)
	if pipelineErr != nil {
		return pipelineErr
	}

	router, routerErr := buildRouter(application{
		config:   serverConfig,
		logger:   logger,
		gateway:  gateway,
		sessions: sessions,
		fetcher: googledata.NewFetcher(googledata.Config{
			Location: serverConfig.Location,
			Logger:   logger,
		}),
		runner:  pipeline,
		prober:  completionClient,
		model:   completionClient.Model(),
		metrics: metricsRecorder,
	})
	if routerErr != nil {
		return routerErr
	}

	server := &http.Server{
		Addr:              serverConfig.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(stopSignals)
		select {
		case <-stopSignals:
		case <-shutdownCtx.Done():
			return
		}
		graceCtx, graceCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", serverConfig.ListenAddr), zap.String("model", completionClient.Model()))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}

func buildRouter(app application) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(app.logger))

	if app.config.EnableCORS {
		corsMiddleware, corsErr := web.ConfigureCORS(app.logger, app.config.CORSAllowedOrigins)
		if corsErr != nil {
			return nil, corsErr
		}
		router.Use(corsMiddleware)
	}

	router.Use(authkit.LoadSession(app.sessions))

	router.GET("/", web.ServeEmbeddedPage(webassets.FS, webassets.IndexPage))
	router.GET("/briefing-ui", web.ServeEmbeddedPage(webassets.FS, webassets.BriefingPage))
	router.GET("/static/briefing-client.js", func(contextGin *gin.Context) {
		web.ServeEmbeddedStaticJS(contextGin, webassets.FS, webassets.BriefingClientJS)
	})

	authkit.MountAuthRoutes(router, app.config.Auth, app.gateway, app.sessions)

	router.GET("/briefing", web.HandleBriefing(web.BriefingDependencies{
		Logger:   app.logger,
		Fetcher:  app.fetcher,
		Runner:   app.runner,
		Sessions: app.sessions,
		Metrics:  app.metrics,
	}))
	router.GET("/api-status", web.HandleAPIStatus(app.logger, app.prober, app.model, time.Now))
	router.GET("/health", web.HandleHealth)
	router.GET("/logs", web.HandleLogs(app.logger, app.config.LogFile, logstream.DefaultPollInterval))

	return router, nil
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", duration),
		)
	}
}
