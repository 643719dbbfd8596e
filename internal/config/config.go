package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the gateway.
// Values come from the environment; a .env file is loaded first when present
// so local development does not need exported variables.
type Config struct {
	Env      string `validate:"oneof=dev prod"`
	HTTPAddr string `validate:"required"`
	LogLevel string

	// Postgres connection coordinates.
	DBHost     string `validate:"required"`
	DBPort     string `validate:"required"`
	DBUser     string `validate:"required"`
	DBPassword string
	DBName     string `validate:"required"`

	// Evolution API (upstream WhatsApp provider).
	EvolutionURL    string `validate:"required,url"`
	EvolutionAPIKey string `validate:"required"`

	// Home Assistant (downstream orchestrator).
	HomeAssistantURL   string `validate:"required,url"`
	HomeAssistantToken string `validate:"required"`

	// Default WhatsApp instance name maintained at the provider.
	InstanceName string `validate:"required"`

	// Home Assistant services the rule engine is allowed to call.
	AllowedServices []string `validate:"min=1"`

	// Public URL the provider should deliver webhooks to. Optional; when
	// empty the operator is expected to configure the webhook by hand.
	WebhookPublicURL string `validate:"omitempty,url"`

	// HS256 secret for the operator API. Empty disables authentication
	// (single-operator deployments behind a trusted network).
	AuthSecret string
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	// Best effort: missing .env is the normal production case.
	_ = godotenv.Load()

	cfg := &Config{
		Env:                env("ENV", "dev"),
		HTTPAddr:           env("HTTP_ADDR", ":8099"),
		LogLevel:           env("LOG_LEVEL", "info"),
		DBHost:             env("DB_HOST", "localhost"),
		DBPort:             env("DB_PORT", "5432"),
		DBUser:             env("DB_USER", "gateway"),
		DBPassword:         os.Getenv("DB_PASSWORD"),
		DBName:             env("DB_NAME", "wa_gateway"),
		EvolutionURL:       os.Getenv("EVOLUTION_URL"),
		EvolutionAPIKey:    os.Getenv("EVOLUTION_API_KEY"),
		HomeAssistantURL:   os.Getenv("HA_URL"),
		HomeAssistantToken: os.Getenv("HA_TOKEN"),
		InstanceName:       env("WA_INSTANCE", "gateway"),
		AllowedServices:    splitCSV(env("HA_ALLOWED_SERVICES", "script.turn_on,automation.trigger,notify.notify")),
		WebhookPublicURL:   os.Getenv("WEBHOOK_PUBLIC_URL"),
		AuthSecret:         os.Getenv("AUTH_SECRET"),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DatabaseURL assembles a pgx connection string from the DB coordinates.
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.DBUser, c.DBPassword),
		Host:   c.DBHost + ":" + c.DBPort,
		Path:   "/" + c.DBName,
	}
	q := u.Query()
	q.Set("sslmode", "disable")
	u.RawQuery = q.Encode()
	return u.String()
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
