package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/briefing/internal/authkit"
)

const (
	sessionCookieName = "briefing_session"
	sessionIssuer     = "briefing"
	defaultSessionTTL = 24 * time.Hour

	codeStoreAuto   = "auto"
	codeStoreMemory = "memory"
	codeStoreGORM   = "gorm"
	codeStorePGX    = "pgx"

	configCodeMissingSecretKey        = "config.missing_secret_key"
	configCodeInvalidSessionTTL       = "config.invalid_session_ttl"
	configCodeInvalidFlowTTL          = "config.invalid_flow_ttl"
	configCodeInvalidCodeStore        = "config.invalid_code_store"
	configCodeMissingDatabaseURL      = "config.missing_database_url"
	configCodeInvalidTimeZone         = "config.invalid_time_zone"
	configCodeMissingCORSOrigins      = "config.missing_cors_allowed_origins"
	configCodeUninitializedServerConf = "config.uninitialized_server_config"
	configCodeGoogleClientSecrets     = "config.google_client_secrets"
	configCodeCodeStoreInit           = "config.code_store_init"
	configCodeLoggerInit              = "config.logger_init"
)

// ServiceConfig is the validated runtime configuration.
type ServiceConfig struct {
	Auth                    authkit.ServerConfig
	ListenAddr              string
	GoogleRedirectURI       string
	GoogleCredentialsFile   string
	GoogleCredentialsBase64 string
	CompletionAPIKey        string
	CompletionModel         string
	CompletionBaseURL       string
	DatabaseURL             string
	CodeStore               string
	LogFile                 string
	EnableCORS              bool
	CORSAllowedOrigins      []string
	Location                *time.Location
}

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

func bindFlags(command *cobra.Command) {
	flags := command.PersistentFlags()
	flags.String("listen_addr", ":8080", "HTTP listen address")
	flags.String("secret_key", "", "Secret used to sign and encrypt the session cookie")
	flags.String("cookie_domain", "", "Cookie domain; empty for host-only")
	flags.Duration("session_ttl", defaultSessionTTL, "Session cookie lifetime")
	flags.Duration("flow_ttl", authkit.DefaultFlowTTL, "Maximum time between /login and /callback")
	flags.Bool("dev_insecure_http", false, "Allow plain HTTP callbacks and non-Secure cookies for local development")
	flags.String("google_redirect_uri", "http://localhost:8080/callback", "OAuth redirect URI registered with Google")
	flags.String("google_credentials_file", "credentials.json", "Path to the Google OAuth client secrets JSON")
	flags.String("google_credentials_base64", "", "Base64 encoded Google OAuth client secrets; takes precedence over the file")
	flags.String("openai_api_key", "", "OpenRouter API key")
	flags.String("openrouter_model", "mistralai/mistral-7b-instruct", "OpenRouter model identifier")
	flags.String("completion_base_url", "https://openrouter.ai/api/v1", "Chat completions API root")
	flags.String("database_url", "", "Database URL for the processed-code store (postgres:// or sqlite://; empty for in-memory)")
	flags.String("code_store", codeStoreAuto, "Processed-code store: auto, memory, gorm, or pgx")
	flags.String("log_file", "/tmp/app.log", "Log file appended to and streamed by /logs; empty disables")
	flags.Bool("enable_cors", false, "Enable CORS for cross-origin clients")
	flags.StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled")
	flags.String("time_zone", "", "IANA time zone deciding which calendar events are today; empty for local")

	for _, key := range []string{
		"listen_addr", "secret_key", "cookie_domain", "session_ttl", "flow_ttl", "dev_insecure_http",
		"google_redirect_uri", "google_credentials_file", "google_credentials_base64",
		"openai_api_key", "openrouter_model", "completion_base_url",
		"database_url", "code_store", "log_file", "enable_cors", "cors_allowed_origins", "time_zone",
	} {
		_ = viper.BindPFlag(key, flags.Lookup(key))
	}

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()
	bindLegacyEnv()
}

// bindLegacyEnv accepts the unprefixed variable names used by existing deployments.
func bindLegacyEnv() {
	_ = viper.BindEnv("secret_key", "APP_SECRET_KEY", "SECRET_KEY")
	_ = viper.BindEnv("openai_api_key", "APP_OPENAI_API_KEY", "OPENAI_API_KEY")
	_ = viper.BindEnv("openrouter_model", "APP_OPENROUTER_MODEL", "OPENROUTER_MODEL")
	_ = viper.BindEnv("google_redirect_uri", "APP_GOOGLE_REDIRECT_URI", "GOOGLE_REDIRECT_URI")
	_ = viper.BindEnv("google_credentials_base64", "APP_GOOGLE_CREDENTIALS_BASE64", "GOOGLE_CREDENTIALS_BASE64")
	_ = viper.BindEnv("flask_env", "FLASK_ENV")
}

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	serverConfig, loadErr := LoadServerConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, serverConfig))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

func LoadServerConfig() (ServiceConfig, error) {
	secretKey := viper.GetString("secret_key")
	if strings.TrimSpace(secretKey) == "" {
		return ServiceConfig{}, configError(configCodeMissingSecretKey, "secret_key must be provided")
	}

	sessionTTL := defaultSessionTTL
	if viper.IsSet("session_ttl") {
		sessionTTL = viper.GetDuration("session_ttl")
		if sessionTTL <= 0 {
			return ServiceConfig{}, configError(configCodeInvalidSessionTTL, "session_ttl must be greater than zero")
		}
	}

	flowTTL := authkit.DefaultFlowTTL
	if viper.IsSet("flow_ttl") {
		flowTTL = viper.GetDuration("flow_ttl")
		if flowTTL <= 0 {
			return ServiceConfig{}, configError(configCodeInvalidFlowTTL, "flow_ttl must be greater than zero")
		}
	}

	databaseURL := strings.TrimSpace(viper.GetString("database_url"))
	codeStore := strings.ToLower(strings.TrimSpace(viper.GetString("code_store")))
	if codeStore == "" {
		codeStore = codeStoreAuto
	}
	switch codeStore {
	case codeStoreAuto, codeStoreMemory:
	case codeStoreGORM, codeStorePGX:
		if databaseURL == "" {
			return ServiceConfig{}, configError(configCodeMissingDatabaseURL, "database_url must be provided when code_store is "+codeStore)
		}
	default:
		return ServiceConfig{}, configError(configCodeInvalidCodeStore, "code_store must be one of auto, memory, gorm, pgx")
	}

	location := time.Local
	if zoneName := strings.TrimSpace(viper.GetString("time_zone")); zoneName != "" {
		loaded, zoneErr := time.LoadLocation(zoneName)
		if zoneErr != nil {
			return ServiceConfig{}, configError(configCodeInvalidTimeZone, fmt.Sprintf("time_zone %q is not a known zone", zoneName))
		}
		location = loaded
	}

	enableCORS := viper.GetBool("enable_cors")
	corsAllowedOrigins := viper.GetStringSlice("cors_allowed_origins")
	if enableCORS && len(corsAllowedOrigins) == 0 {
		return ServiceConfig{}, configError(configCodeMissingCORSOrigins, "cors_allowed_origins must be provided when enable_cors is true")
	}

	devInsecureHTTP := viper.GetBool("dev_insecure_http") || strings.EqualFold(viper.GetString("flask_env"), "development")
	sameSite := http.SameSiteLaxMode
	if enableCORS {
		sameSite = http.SameSiteNoneMode
	}

	redirectURI := viper.GetString("google_redirect_uri")
	if strings.TrimSpace(redirectURI) == "" {
		redirectURI = "http://localhost:8080/callback"
	}
	listenAddr := viper.GetString("listen_addr")
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	return ServiceConfig{
		Auth: authkit.ServerConfig{
			SessionSecret:     []byte(secretKey),
			SessionIssuer:     sessionIssuer,
			SessionCookieName: sessionCookieName,
			SessionTTL:        sessionTTL,
			FlowTTL:           flowTTL,
			CookieDomain:      viper.GetString("cookie_domain"),
			SameSiteMode:      sameSite,
			AllowInsecureHTTP: devInsecureHTTP,
		},
		ListenAddr:              listenAddr,
		GoogleRedirectURI:       redirectURI,
		GoogleCredentialsFile:   viper.GetString("google_credentials_file"),
		GoogleCredentialsBase64: viper.GetString("google_credentials_base64"),
		CompletionAPIKey:        viper.GetString("openai_api_key"),
		CompletionModel:         viper.GetString("openrouter_model"),
		CompletionBaseURL:       viper.GetString("completion_base_url"),
		DatabaseURL:             databaseURL,
		CodeStore:               codeStore,
		LogFile:                 viper.GetString("log_file"),
		EnableCORS:              enableCORS,
		CORSAllowedOrigins:      corsAllowedOrigins,
		Location:                location,
	}, nil
}

func serviceConfigFromCommand(command *cobra.Command) (ServiceConfig, error) {
	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serverConfigContextKey)
	}
	serverConfig, ok := contextValue.(ServiceConfig)
	if !ok {
		return ServiceConfig{}, configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}
	return serverConfig, nil
}
