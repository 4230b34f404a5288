package cfg

import (
	"flag"
	"math"
	"strings"
	"testing"
)

// validBase returns a Config with all fields set to valid values.
func validBase() Config {
	return Config{
		DrainSeconds:          60,
		ShutdownBudgetSeconds: 90,
		APIPort:               8080,
		HeartbeatSeconds:      30,
		PipelineStepMillis:    1000,
	}
}

func TestRegisterFlags_Defaults(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse empty args: %v", err)
	}

	if c.DrainSeconds != 60 {
		t.Errorf("DrainSeconds = %d, want 60", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 90 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 90", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 8080 {
		t.Errorf("APIPort = %d, want 8080", c.APIPort)
	}
	if c.HeartbeatSeconds != 30 {
		t.Errorf("HeartbeatSeconds = %d, want 30", c.HeartbeatSeconds)
	}
	if c.PipelineStepMillis != 1000 {
		t.Errorf("PipelineStepMillis = %d, want 1000", c.PipelineStepMillis)
	}
	if c.DatabaseURL != "" {
		t.Errorf("DatabaseURL = %q, want empty", c.DatabaseURL)
	}
}

func TestRegisterFlags_Override(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	args := []string{
		"-drain-seconds", "30",
		"-shutdown-budget-seconds", "120",
		"-http-port", "9090",
		"-database-url", "postgres://localhost/alerts",
		"-api-keys", "k1,k2",
		"-heartbeat-seconds", "10",
		"-pipeline-step-millis", "250",
		"-slack-webhook-url", "https://hooks.slack.com/services/T/B/x",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse args: %v", err)
	}

	if c.DrainSeconds != 30 {
		t.Errorf("DrainSeconds = %d, want 30", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 120 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 120", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 9090 {
		t.Errorf("APIPort = %d, want 9090", c.APIPort)
	}
	if c.DatabaseURL != "postgres://localhost/alerts" {
		t.Errorf("DatabaseURL = %q, want %q", c.DatabaseURL, "postgres://localhost/alerts")
	}
	if c.APIKeys != "k1,k2" {
		t.Errorf("APIKeys = %q, want %q", c.APIKeys, "k1,k2")
	}
	if c.HeartbeatSeconds != 10 {
		t.Errorf("HeartbeatSeconds = %d, want 10", c.HeartbeatSeconds)
	}
	if c.PipelineStepMillis != 250 {
		t.Errorf("PipelineStepMillis = %d, want 250", c.PipelineStepMillis)
	}
	if c.SlackWebhookURL != "https://hooks.slack.com/services/T/B/x" {
		t.Errorf("SlackWebhookURL = %q, want webhook URL", c.SlackWebhookURL)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		cfg       Config
		wantErr   bool
		errSubstr []string // substrings that must appear in error message
	}{
		{
			name:    "defaults are valid",
			cfg:     validBase(),
			wantErr: false,
		},
		{
			name: "minimum valid values",
			cfg: Config{
				DrainSeconds: 1, ShutdownBudgetSeconds: 2, APIPort: 1,
				HeartbeatSeconds: 1, PipelineStepMillis: 0,
			},
			wantErr: false,
		},
		{
			name: "maximum valid values",
			cfg: Config{
				DrainSeconds: 299, ShutdownBudgetSeconds: 300, APIPort: 65535,
				HeartbeatSeconds: 300, PipelineStepMillis: 60000,
			},
			wantErr: false,
		},
		// DrainSeconds boundaries
		{
			name:      "drain zero",
			cfg:       Config{DrainSeconds: 0, ShutdownBudgetSeconds: 90, APIPort: 8080, HeartbeatSeconds: 30},
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:      "drain negative",
			cfg:       Config{DrainSeconds: -1, ShutdownBudgetSeconds: 90, APIPort: 8080, HeartbeatSeconds: 30},
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:      "drain above max",
			cfg:       Config{DrainSeconds: 301, ShutdownBudgetSeconds: 302, APIPort: 8080, HeartbeatSeconds: 30},
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		// ShutdownBudgetSeconds boundaries
		{
			name:      "budget zero",
			cfg:       Config{DrainSeconds: 60, ShutdownBudgetSeconds: 0, APIPort: 8080, HeartbeatSeconds: 30},
			wantErr:   true,
			errSubstr: []string{"SHUTDOWN_BUDGET_SECONDS"},
		},
		{
			name:      "budget above max",
			cfg:       Config{DrainSeconds: 60, ShutdownBudgetSeconds: 301, APIPort: 8080, HeartbeatSeconds: 30},
			wantErr:   true,
			errSubstr: []string{"SHUTDOWN_BUDGET_SECONDS"},
		},
		// Cross-field: budget vs drain
		{
			name:      "budget equals drain",
			cfg:       Config{DrainSeconds: 60, ShutdownBudgetSeconds: 60, APIPort: 8080, HeartbeatSeconds: 30},
			wantErr:   true,
			errSubstr: []string{"must be greater than"},
		},
		{
			name:      "budget less than drain",
			cfg:       Config{DrainSeconds: 60, ShutdownBudgetSeconds: 30, APIPort: 8080, HeartbeatSeconds: 30},
			wantErr:   true,
			errSubstr: []string{"must be greater than"},
		},
		{
			name: "budget is drain plus one",
			cfg: Config{
				DrainSeconds: 60, ShutdownBudgetSeconds: 61, APIPort: 8080,
				HeartbeatSeconds: 30, PipelineStepMillis: 0,
			},
			wantErr: false,
		},
		// APIPort boundaries
		{
			name:      "port zero",
			cfg:       Config{DrainSeconds: 60, ShutdownBudgetSeconds: 90, APIPort: 0, HeartbeatSeconds: 30},
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		{
			name:      "port above max",
			cfg:       Config{DrainSeconds: 60, ShutdownBudgetSeconds: 90, APIPort: 65536, HeartbeatSeconds: 30},
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		// Heartbeat boundaries
		{
			name:      "heartbeat zero",
			cfg:       Config{DrainSeconds: 60, ShutdownBudgetSeconds: 90, APIPort: 8080, HeartbeatSeconds: 0},
			wantErr:   true,
			errSubstr: []string{"HEARTBEAT_SECONDS"},
		},
		{
			name:      "heartbeat above max",
			cfg:       Config{DrainSeconds: 60, ShutdownBudgetSeconds: 90, APIPort: 8080, HeartbeatSeconds: 301},
			wantErr:   true,
			errSubstr: []string{"HEARTBEAT_SECONDS"},
		},
		// Pipeline step boundaries
		{
			name:      "pipeline step negative",
			cfg:       Config{DrainSeconds: 60, ShutdownBudgetSeconds: 90, APIPort: 8080, HeartbeatSeconds: 30, PipelineStepMillis: -1},
			wantErr:   true,
			errSubstr: []string{"PIPELINE_STEP_MILLIS"},
		},
		{
			name:      "pipeline step above max",
			cfg:       Config{DrainSeconds: 60, ShutdownBudgetSeconds: 90, APIPort: 8080, HeartbeatSeconds: 30, PipelineStepMillis: 60001},
			wantErr:   true,
			errSubstr: []string{"PIPELINE_STEP_MILLIS"},
		},
		// Error accumulation: all fields invalid
		{
			name:      "all fields invalid",
			cfg:       Config{DrainSeconds: 0, ShutdownBudgetSeconds: 0, APIPort: 0, HeartbeatSeconds: 0, PipelineStepMillis: -1},
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT", "HEARTBEAT_SECONDS", "PIPELINE_STEP_MILLIS"},
		},
		// Extreme values
		{
			name:      "extreme negative values",
			cfg:       Config{DrainSeconds: math.MinInt32, ShutdownBudgetSeconds: math.MinInt32, APIPort: math.MinInt32, HeartbeatSeconds: math.MinInt32},
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT", "HEARTBEAT_SECONDS"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				errMsg := err.Error()
				for _, sub := range tt.errSubstr {
					if !strings.Contains(errMsg, sub) {
						t.Errorf("error %q does not contain %q", errMsg, sub)
					}
				}
			}
		})
	}
}

func FuzzValidate(f *testing.F) {
	// Seeds: defaults, boundaries, extremes
	seeds := []struct {
		drain, budget, port, heartbeat, step int
	}{
		{60, 90, 8080, 30, 1000},
		{1, 2, 1, 1, 0},
		{299, 300, 65535, 300, 60000},
		{0, 0, 0, 0, -1},
		{-1, -1, -1, -1, -1},
		{301, 302, 65536, 301, 60001},
		{150, 100, 8080, 30, 1000},
		{math.MinInt32, math.MinInt32, math.MinInt32, math.MinInt32, math.MinInt32},
		{math.MaxInt32, math.MaxInt32, math.MaxInt32, math.MaxInt32, math.MaxInt32},
	}
	for _, s := range seeds {
		f.Add(s.drain, s.budget, s.port, s.heartbeat, s.step)
	}

	f.Fuzz(func(t *testing.T, drain, budget, port, heartbeat, step int) {
		c := Config{
			DrainSeconds:          drain,
			ShutdownBudgetSeconds: budget,
			APIPort:               port,
			HeartbeatSeconds:      heartbeat,
			PipelineStepMillis:    step,
		}
		err := c.Validate()

		drainOK := drain >= 1 && drain <= 300
		budgetOK := budget >= 1 && budget <= 300
		portOK := port >= 1 && port <= 65535
		crossOK := budget > drain
		heartbeatOK := heartbeat >= 1 && heartbeat <= 300
		stepOK := step >= 0 && step <= 60000

		allValid := drainOK && budgetOK && portOK && crossOK && heartbeatOK && stepOK

		if allValid && err != nil {
			t.Errorf("expected no error for valid config %+v, got: %v", c, err)
		}
		if !allValid && err == nil {
			t.Errorf("expected error for invalid config %+v, got nil", c)
		}
	})
}
