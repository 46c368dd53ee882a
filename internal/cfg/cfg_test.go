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
		MergePolicy:           "last_write_wins",
		CheckIntervalSeconds:  3600,
		CriticalDays:          7,
		HighDays:              30,
		MediumDays:            90,
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
	if c.MergePolicy != "last_write_wins" {
		t.Errorf("MergePolicy = %q, want %q", c.MergePolicy, "last_write_wins")
	}
	if c.CheckIntervalSeconds != 3600 {
		t.Errorf("CheckIntervalSeconds = %d, want 3600", c.CheckIntervalSeconds)
	}
	if c.CriticalDays != 7 || c.HighDays != 30 || c.MediumDays != 90 {
		t.Errorf("thresholds = %d/%d/%d, want 7/30/90", c.CriticalDays, c.HighDays, c.MediumDays)
	}

	// Parsed defaults must validate clean.
	if err := c.Validate(); err != nil {
		t.Errorf("Validate() on defaults = %v, want nil", err)
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
		"-database-url", "postgres://fleet:secret@db/fleetwatch",
		"-datasource-endpoint", "http://sources:8081",
		"-slack-webhook-url", "https://hooks.slack.com/services/T/B/x",
		"-api-token", "tok-123",
		"-merge-policy", "highest_confidence",
		"-check-interval-seconds", "600",
		"-threshold-critical-days", "3",
		"-threshold-high-days", "14",
		"-threshold-medium-days", "60",
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
	if c.DatabaseURL != "postgres://fleet:secret@db/fleetwatch" {
		t.Errorf("DatabaseURL = %q, want override", c.DatabaseURL)
	}
	if c.DataSourceEndpoint != "http://sources:8081" {
		t.Errorf("DataSourceEndpoint = %q, want override", c.DataSourceEndpoint)
	}
	if c.APIToken != "tok-123" {
		t.Errorf("APIToken = %q, want %q", c.APIToken, "tok-123")
	}
	if c.MergePolicy != "highest_confidence" {
		t.Errorf("MergePolicy = %q, want %q", c.MergePolicy, "highest_confidence")
	}
	if c.CheckIntervalSeconds != 600 {
		t.Errorf("CheckIntervalSeconds = %d, want 600", c.CheckIntervalSeconds)
	}
	if c.CriticalDays != 3 || c.HighDays != 14 || c.MediumDays != 60 {
		t.Errorf("thresholds = %d/%d/%d, want 3/14/60", c.CriticalDays, c.HighDays, c.MediumDays)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		errSubstr []string // substrings that must appear in error message
	}{
		{
			name:    "base is valid",
			wantErr: false,
		},
		{
			name: "minimum valid values",
			mutate: func(c *Config) {
				c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort = 1, 2, 1
				c.CheckIntervalSeconds = 1
				c.CriticalDays, c.HighDays, c.MediumDays = 1, 2, 3
			},
			wantErr: false,
		},
		{
			name: "maximum valid values",
			mutate: func(c *Config) {
				c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort = 299, 300, 65535
				c.CheckIntervalSeconds = 86400
			},
			wantErr: false,
		},
		// DrainSeconds boundaries
		{
			name:      "drain zero",
			mutate:    func(c *Config) { c.DrainSeconds = 0 },
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:      "drain negative",
			mutate:    func(c *Config) { c.DrainSeconds = -1 },
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name: "drain above max",
			mutate: func(c *Config) {
				c.DrainSeconds = 301
				c.ShutdownBudgetSeconds = 302
			},
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		// ShutdownBudgetSeconds boundaries
		{
			name:      "budget zero",
			mutate:    func(c *Config) { c.ShutdownBudgetSeconds = 0 },
			wantErr:   true,
			errSubstr: []string{"SHUTDOWN_BUDGET_SECONDS"},
		},
		{
			name:      "budget above max",
			mutate:    func(c *Config) { c.ShutdownBudgetSeconds = 301 },
			wantErr:   true,
			errSubstr: []string{"SHUTDOWN_BUDGET_SECONDS"},
		},
		// Cross-field: budget vs drain
		{
			name:      "budget equals drain",
			mutate:    func(c *Config) { c.ShutdownBudgetSeconds = c.DrainSeconds },
			wantErr:   true,
			errSubstr: []string{"must be greater than"},
		},
		{
			name:      "budget less than drain",
			mutate:    func(c *Config) { c.ShutdownBudgetSeconds = 30 },
			wantErr:   true,
			errSubstr: []string{"must be greater than"},
		},
		// APIPort boundaries
		{
			name:      "port zero",
			mutate:    func(c *Config) { c.APIPort = 0 },
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		{
			name:      "port above max",
			mutate:    func(c *Config) { c.APIPort = 65536 },
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		// Merge policy
		{
			name:      "unknown merge policy",
			mutate:    func(c *Config) { c.MergePolicy = "newest" },
			wantErr:   true,
			errSubstr: []string{"MERGE_POLICY"},
		},
		{
			name:    "empty merge policy falls back to default",
			mutate:  func(c *Config) { c.MergePolicy = "" },
			wantErr: false,
		},
		// Check interval
		{
			name:      "interval zero",
			mutate:    func(c *Config) { c.CheckIntervalSeconds = 0 },
			wantErr:   true,
			errSubstr: []string{"CHECK_INTERVAL_SECONDS"},
		},
		{
			name:      "interval above one day",
			mutate:    func(c *Config) { c.CheckIntervalSeconds = 86401 },
			wantErr:   true,
			errSubstr: []string{"CHECK_INTERVAL_SECONDS"},
		},
		// Thresholds
		{
			name:      "critical days zero",
			mutate:    func(c *Config) { c.CriticalDays = 0 },
			wantErr:   true,
			errSubstr: []string{"THRESHOLD_DAYS", "critical"},
		},
		{
			name: "unordered thresholds",
			mutate: func(c *Config) {
				c.CriticalDays, c.HighDays, c.MediumDays = 90, 30, 7
			},
			wantErr:   true,
			errSubstr: []string{"THRESHOLD_DAYS", "must exceed"},
		},
		// Error accumulation: everything invalid at once
		{
			name: "all fields invalid",
			mutate: func(c *Config) {
				*c = Config{MergePolicy: "newest"}
			},
			wantErr: true,
			errSubstr: []string{
				"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT",
				"MERGE_POLICY", "CHECK_INTERVAL_SECONDS", "THRESHOLD_DAYS",
			},
		},
		// Extreme values
		{
			name: "extreme negative values",
			mutate: func(c *Config) {
				c.DrainSeconds = math.MinInt32
				c.ShutdownBudgetSeconds = math.MinInt32
				c.APIPort = math.MinInt32
			},
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validBase()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}

			err := cfg.Validate()
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
		drain, budget, port, interval, crit, high, med int
		policy                                         string
	}{
		{60, 90, 8080, 3600, 7, 30, 90, "last_write_wins"},
		{1, 2, 1, 1, 1, 2, 3, ""},
		{299, 300, 65535, 86400, 7, 30, 90, "highest_confidence"},
		{0, 0, 0, 0, 0, 0, 0, ""},
		{-1, -1, -1, -1, -1, -1, -1, "bogus"},
		{300, 300, 65535, 86401, 90, 30, 7, "last_write_wins"},
		{150, 100, 8080, 3600, 7, 30, 90, "newest"},
		{math.MinInt32, math.MinInt32, math.MinInt32, math.MinInt32, math.MinInt32, math.MinInt32, math.MinInt32, ""},
		{math.MaxInt32, math.MaxInt32, math.MaxInt32, math.MaxInt32, math.MaxInt32, math.MaxInt32, math.MaxInt32, ""},
	}
	for _, s := range seeds {
		f.Add(s.drain, s.budget, s.port, s.interval, s.crit, s.high, s.med, s.policy)
	}

	f.Fuzz(func(t *testing.T, drain, budget, port, interval, crit, high, med int, policy string) {
		c := Config{
			DrainSeconds:          drain,
			ShutdownBudgetSeconds: budget,
			APIPort:               port,
			MergePolicy:           policy,
			CheckIntervalSeconds:  interval,
			CriticalDays:          crit,
			HighDays:              high,
			MediumDays:            med,
		}
		err := c.Validate()

		drainOK := drain >= 1 && drain <= 300
		budgetOK := budget >= 1 && budget <= 300
		portOK := port >= 1 && port <= 65535
		crossOK := budget > drain
		policyOK := policy == "" || policy == "last_write_wins" || policy == "highest_confidence"
		intervalOK := interval >= 1 && interval <= 86400
		threshOK := crit >= 1 && high > crit && med > high

		allValid := drainOK && budgetOK && portOK && crossOK && policyOK && intervalOK && threshOK

		if allValid && err != nil {
			t.Errorf("expected no error for valid config %+v, got: %v", c, err)
		}
		if !allValid && err == nil {
			t.Errorf("expected error for invalid config %+v, got nil", c)
		}
	})
}
