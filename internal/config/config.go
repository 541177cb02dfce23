// Package config loads and validates the publish engine's configuration.
//
// Service configuration comes from the environment via envconfig struct tags
// (with an optional .env file for local development). The touch rule set is a
// separate declarative YAML file loaded once at process start; runtime
// reconfiguration means reloading the whole rule file and rebuilding the
// touch configuration.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the root configuration for the publish engine service.
type Config struct {
	App      AppConfig
	Server   ServerConfig
	Database DatabaseConfig
	AWS      AWSConfig
	Publish  PublishConfig
}

// AppConfig holds process-level settings.
type AppConfig struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"publish-engine"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s"`
}

// DatabaseConfig holds the Postgres connection settings. Only consulted when
// Publish.LedgerBackend is "postgres".
type DatabaseConfig struct {
	URL      string `envconfig:"DATABASE_URL"`
	MaxConns int32  `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns int32  `envconfig:"DB_MIN_CONNS" default:"2"`
}

// AWSConfig holds the settings for the optional SQS job-event queue and
// CloudWatch metrics. Both are disabled when their fields are empty.
type AWSConfig struct {
	Region           string `envconfig:"AWS_REGION" default:"us-east-1"`
	JobEventQueueURL string `envconfig:"JOB_EVENT_QUEUE_URL"`
	MetricNamespace  string `envconfig:"METRIC_NAMESPACE"`
}

// PublishConfig holds the engine's own settings.
type PublishConfig struct {
	// LedgerBackend selects the pending-change ledger implementation.
	LedgerBackend string `envconfig:"LEDGER_BACKEND" default:"memory" validate:"oneof=memory postgres"`
	// TouchRulesFile is the path of the declarative touch rule file.
	TouchRulesFile string `envconfig:"TOUCH_RULES_FILE" default:"touch-rules.yaml"`
	// JobRetention is how long terminal job records stay queryable before
	// the tracker evicts them.
	JobRetention time.Duration `envconfig:"JOB_RETENTION" default:"1h"`
	// ContentServiceURL is the base URL of the CMS backend that serves the
	// folder/relationship/item/edition queries.
	ContentServiceURL string `envconfig:"CONTENT_SERVICE_URL" default:"http://localhost:9980" validate:"url"`
}

// Load reads the .env file (non-fatal if absent), populates the Config from
// the environment, and validates it.
func Load() (*Config, error) {
	// Best effort; production environments set real env vars.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("processing environment config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if cfg.Publish.LedgerBackend == "postgres" && cfg.Database.URL == "" {
		return nil, fmt.Errorf("LEDGER_BACKEND=postgres requires DATABASE_URL")
	}

	return &cfg, nil
}
