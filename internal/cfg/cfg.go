package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config adds service-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	DatabaseURL           string
	APIKeys               string
	HeartbeatSeconds      int
	PipelineStepMillis    int
	SlackWebhookURL       string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.APIKeys, "api-keys", "", "comma-separated bearer keys for the ingestion API (empty = auth disabled)")
	fs.IntVar(&c.HeartbeatSeconds, "heartbeat-seconds", 30, "interval between websocket heartbeats and liveness sweeps (1..300)")
	fs.IntVar(&c.PipelineStepMillis, "pipeline-step-millis", 1000, "simulated delay per processing step in milliseconds (0..60000)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for confirmed-alert notifications")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.HeartbeatSeconds <= 0 || c.HeartbeatSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid HEARTBEAT_SECONDS %d (must be 1..300)", c.HeartbeatSeconds))
	}

	if c.PipelineStepMillis < 0 || c.PipelineStepMillis > 60000 {
		errs = append(errs, fmt.Errorf("invalid PIPELINE_STEP_MILLIS %d (must be 0..60000)", c.PipelineStepMillis))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
