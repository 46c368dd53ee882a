package cfg

import (
	"errors"
	"flag"
	"fmt"

	"github.com/linnemanlabs/fleetwatch/internal/compliance"
	"github.com/linnemanlabs/fleetwatch/internal/reconcile"
)

// Config adds fleetwatch-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	DatabaseURL           string
	DataSourceEndpoint    string
	SlackWebhookURL       string
	APIToken              string
	MergePolicy           string
	CheckIntervalSeconds  int
	CriticalDays          int
	HighDays              int
	MediumDays            int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory stores)")
	fs.StringVar(&c.DataSourceEndpoint, "datasource-endpoint", "", "base URL for compliance data sources (empty = checks find no data)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for critical alert notifications")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on API requests (empty = auth disabled)")
	fs.StringVar(&c.MergePolicy, "merge-policy", string(reconcile.LastWriteWins), "reconciliation merge policy (last_write_wins or highest_confidence)")
	fs.IntVar(&c.CheckIntervalSeconds, "check-interval-seconds", 3600, "default seconds between compliance checks per vehicle (1..86400)")
	fs.IntVar(&c.CriticalDays, "threshold-critical-days", 7, "expiries within this many days alert at critical severity")
	fs.IntVar(&c.HighDays, "threshold-high-days", 30, "expiries within this many days alert at high severity")
	fs.IntVar(&c.MediumDays, "threshold-medium-days", 90, "expiries within this many days get a renewal reminder")
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

	if _, err := reconcile.ParsePolicy(c.MergePolicy); err != nil {
		errs = append(errs, fmt.Errorf("invalid MERGE_POLICY: %w", err))
	}

	if c.CheckIntervalSeconds <= 0 || c.CheckIntervalSeconds > 86400 {
		errs = append(errs, fmt.Errorf("invalid CHECK_INTERVAL_SECONDS %d (must be 1..86400)", c.CheckIntervalSeconds))
	}

	if err := c.Thresholds().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("invalid THRESHOLD_DAYS: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Thresholds returns the configured severity windows.
func (c *Config) Thresholds() compliance.Thresholds {
	return compliance.Thresholds{
		CriticalDays: c.CriticalDays,
		HighDays:     c.HighDays,
		MediumDays:   c.MediumDays,
	}
}
