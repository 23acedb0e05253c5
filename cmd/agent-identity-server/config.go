package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	internalhttp "github.com/rty23111-ctrl/agent-identity/internal/api/http"
	"github.com/rty23111-ctrl/agent-identity/internal/audit"
	"github.com/rty23111-ctrl/agent-identity/internal/keys"
	"github.com/rty23111-ctrl/agent-identity/internal/kv"
	"github.com/rty23111-ctrl/agent-identity/internal/paid"
	"github.com/rty23111-ctrl/agent-identity/internal/ratelimit"
	"github.com/rty23111-ctrl/agent-identity/internal/token"
	"github.com/rty23111-ctrl/agent-identity/internal/worker"
	"github.com/spf13/viper"
)

type Config struct {
	Log       LogConfig
	Http      internalhttp.Config
	Grpc      GrpcConfig
	Storage   kv.Config
	Keys      keys.Config
	Token     token.Config
	RateLimit ratelimit.Config `mapstructure:"rate_limit"`
	Audit     audit.Config
	Paid      paid.Config
	Worker    worker.Config
	Registry  RegistryConfig
}

type GrpcConfig struct {
	Enabled bool      `mapstructure:"enabled"`
	Port    int       `mapstructure:"port"`
	TLS     TLSConfig `mapstructure:"tls"`
}

type TLSConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	CertFile   string `mapstructure:"cert_file"`
	KeyFile    string `mapstructure:"key_file"`
	CAFile     string `mapstructure:"ca_file"`
	ClientAuth string `mapstructure:"client_auth"`
}

type RegistryConfig struct {
	MigrateLegacyOnStart bool `mapstructure:"migrate_legacy_on_start"`
}

var config Config

// legacyEnv maps config keys to the flat variable names older deployments
// set.
var legacyEnv = map[string]string{
	"keys.private_key":            "PRIVATE_KEY",
	"keys.public_key":             "PUBLIC_KEY",
	"http.admin_api_key":          "ADMIN_API_KEY",
	"token.ttl_seconds":           "TOKEN_TTL_SECONDS",
	"rate_limit.window_seconds":   "RATE_LIMIT_WINDOW_SECONDS",
	"rate_limit.max_register":     "RATE_LIMIT_MAX_REGISTER",
	"rate_limit.max_token":        "RATE_LIMIT_MAX_TOKEN",
	"rate_limit.max_validate":     "RATE_LIMIT_MAX_VALIDATE",
	"rate_limit.max_clients":      "RATE_LIMIT_MAX_CLIENTS",
	"audit.webhook_url":           "AUDIT_WEBHOOK_URL",
	"audit.auth_token":            "AUDIT_WEBHOOK_AUTH_TOKEN",
	"audit.timeout_ms":            "AUDIT_WEBHOOK_TIMEOUT_MS",
	"paid.enabled":                "PAID_EXTENSION_ENABLED",
	"paid.test_mode":              "PAID_TEST_MODE",
	"paid.test_token":             "PAID_TEST_TOKEN",
	"paid.stripe_secret_key":      "STRIPE_SECRET_KEY",
	"paid.stripe_webhook_secret":  "STRIPE_WEBHOOK_SECRET",
	"paid.stripe_price_id":        "STRIPE_PRICE_ID",
	"paid.success_url":            "PAID_SUCCESS_URL",
	"paid.cancel_url":             "PAID_CANCEL_URL",
	"paid.provisioner_url":        "PAID_PROVISIONER_URL",
	"paid.provisioner_auth_token": "PAID_PROVISIONER_AUTH_TOKEN",
	"storage.url":                 "DATABASE_URL",
}

// envKeys have no default but must still be settable from the environment.
var envKeys = []string{
	"http.admin_api_key_hash",
	"http.trusted_proxies",
	"http.trusted_platform",
	"keys.private_key_file",
	"keys.public_key_file",
	"paid.stripe_api_base",
	"registry.migrate_legacy_on_start",
}

func setDefaults() {
	viper.SetDefault("log.level", LOG_LEVEL_INFO)
	viper.SetDefault("log.format", LOG_FORMAT_TEXT)
	viper.SetDefault("http.port", 8787)
	viper.SetDefault("http.cors_origins", []string{"*"})
	viper.SetDefault("grpc.enabled", true)
	viper.SetDefault("grpc.port", 9090)
	viper.SetDefault("grpc.tls.client_auth", "none")
	viper.SetDefault("storage.url", "memory://")
	viper.SetDefault("storage.schema", "public")
	viper.SetDefault("storage.max_conns", 10)
	viper.SetDefault("storage.cleanup_interval_seconds", 60)
	viper.SetDefault("token.ttl_seconds", 3600)

	rl := ratelimit.DefaultConfig()
	viper.SetDefault("rate_limit.window_seconds", rl.WindowSeconds)
	viper.SetDefault("rate_limit.max_register", rl.MaxRegister)
	viper.SetDefault("rate_limit.max_token", rl.MaxToken)
	viper.SetDefault("rate_limit.max_validate", rl.MaxValidate)
	viper.SetDefault("rate_limit.max_clients", rl.MaxClients)
	viper.SetDefault("rate_limit.max_paid_checkout", rl.MaxPaidCheckout)

	viper.SetDefault("audit.timeout_ms", 1500)
	viper.SetDefault("paid.webhook_tolerance_seconds", 300)
	viper.SetDefault("paid.provision_timeout_seconds", 30)
	viper.SetDefault("worker.max_concurrent", 16)
	viper.SetDefault("worker.timeout_seconds", 60)
}

func InitConfig() {
	var err error

	_ = godotenv.Load()

	viper.SetConfigName("application")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./cmd/agent-identity-server")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults()

	for key, env := range legacyEnv {
		_ = viper.BindEnv(key, envName(key), env)
	}
	for _, key := range envKeys {
		_ = viper.BindEnv(key, envName(key))
	}

	// A missing file is fine; defaults and the environment cover every key.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			panic(err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		panic(err)
	}

	// Initialize logger with configured log level
	initLogger(config.Log)

	// Pretty print config as JSON (only at DEBUG level)
	if strings.ToUpper(config.Log.Level) == LOG_LEVEL_DEBUG {
		configJSON, err := json.MarshalIndent(redacted(config), "", "  ")
		if err == nil {
			fmt.Println("Config loaded:")
			fmt.Println(string(configJSON))
		}
	}
}

func envName(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

const redactedValue = "[redacted]"

func redact(s string) string {
	if s == "" {
		return ""
	}
	return redactedValue
}

// redacted returns a copy of cfg that is safe to print.
func redacted(cfg Config) Config {
	cfg.Http.AdminAPIKey = redact(cfg.Http.AdminAPIKey)
	cfg.Http.AdminAPIKeyHash = redact(cfg.Http.AdminAPIKeyHash)
	cfg.Keys.PrivateKey = redact(cfg.Keys.PrivateKey)
	cfg.Audit.AuthToken = redact(cfg.Audit.AuthToken)
	cfg.Paid.TestToken = redact(cfg.Paid.TestToken)
	cfg.Paid.StripeSecretKey = redact(cfg.Paid.StripeSecretKey)
	cfg.Paid.StripeWebhookSecret = redact(cfg.Paid.StripeWebhookSecret)
	cfg.Paid.ProvisionerAuthToken = redact(cfg.Paid.ProvisionerAuthToken)
	if cfg.Storage.URL != "" && !strings.HasPrefix(cfg.Storage.URL, "memory://") {
		cfg.Storage.URL = strings.SplitN(cfg.Storage.URL, "://", 2)[0] + "://" + redactedValue
	}
	return cfg
}
