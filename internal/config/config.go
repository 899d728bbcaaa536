package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Local history database (SQLite)
	HistoryPath string        `json:"history_path"`
	DBTimeout   time.Duration `json:"db_timeout"`

	// Helpdesk database (MySQL)
	FlowDesk FlowDeskConfig `json:"flowdesk"`

	// Mail
	Mail MailConfig `json:"mail"`

	// Notification rules
	WaitingReminderInterval time.Duration `json:"waiting_reminder_interval"`
	EscalationInterval      time.Duration `json:"escalation_interval"`

	// Cleanup
	RetentionDays int  `json:"retention_days"`
	AutoVacuum    bool `json:"auto_vacuum"`

	// Operational
	DryRun           bool   `json:"dry_run"`
	Verbose          bool   `json:"verbose"`
	LogFormat        string `json:"log_format"`
	Stats            bool   `json:"stats"`
	EscalationsOnly  bool   `json:"-"`
	HoursOnly        bool   `json:"-"`
	ShowVersion      bool   `json:"-"`
	CheckConnections bool   `json:"-"`
	InitDB           bool   `json:"-"`
	StatsOnly        bool   `json:"-"`
	Cleanup          bool   `json:"-"`

	// Activity logging mode (-log-activity)
	LogActivity bool           `json:"-"`
	Activity    ActivityConfig `json:"-"`
}

type FlowDeskConfig struct {
	DSN     string        `json:"dsn"`
	Timeout time.Duration `json:"timeout"`
}

type MailConfig struct {
	FromName string        `json:"from_name"`
	Timeout  time.Duration `json:"timeout"`
}

// UnmarshalJSON lets config files write durations as "48h" style strings.
func (c *Config) UnmarshalJSON(data []byte) error {
	type plain Config
	aux := struct {
		DBTimeout               Duration `json:"db_timeout"`
		WaitingReminderInterval Duration `json:"waiting_reminder_interval"`
		EscalationInterval      Duration `json:"escalation_interval"`
		*plain
	}{plain: (*plain)(c)}
	aux.DBTimeout.Duration = c.DBTimeout
	aux.WaitingReminderInterval.Duration = c.WaitingReminderInterval
	aux.EscalationInterval.Duration = c.EscalationInterval

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	c.DBTimeout = aux.DBTimeout.Duration
	c.WaitingReminderInterval = aux.WaitingReminderInterval.Duration
	c.EscalationInterval = aux.EscalationInterval.Duration
	return nil
}

func (f *FlowDeskConfig) UnmarshalJSON(data []byte) error {
	type plain FlowDeskConfig
	aux := struct {
		Timeout Duration `json:"timeout"`
		*plain
	}{plain: (*plain)(f)}
	aux.Timeout.Duration = f.Timeout

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	f.Timeout = aux.Timeout.Duration
	return nil
}

func (m *MailConfig) UnmarshalJSON(data []byte) error {
	type plain MailConfig
	aux := struct {
		Timeout Duration `json:"timeout"`
		*plain
	}{plain: (*plain)(m)}
	aux.Timeout.Duration = m.Timeout

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	m.Timeout = aux.Timeout.Duration
	return nil
}

// ActivityConfig carries the -log-activity parameters.
type ActivityConfig struct {
	ClientID int64
	TicketID int64
	Title    string
	Detail   string
	User     string
	Date     string // YYYY-MM-DD, empty means today
	Start    string // HH:MM
	End      string // HH:MM
}

func ParseFlags() *Config {
	cfg := &Config{}

	configFile := flag.String("config-file", "", "Path to JSON configuration file")

	// Local history database
	flag.StringVar(&cfg.HistoryPath, "history-path", "./notifier-history.db", "Path to local SQLite history database")
	flag.DurationVar(&cfg.DBTimeout, "db-timeout", 5*time.Second, "SQLite timeout")

	// Helpdesk database. The default DSN is assembled from the same DB_*
	// environment variables the rest of the deployment uses (.env.local).
	flag.StringVar(&cfg.FlowDesk.DSN, "flowdesk-dsn", "", "FlowDesk database DSN (defaults to DB_* environment variables)")
	flag.DurationVar(&cfg.FlowDesk.Timeout, "flowdesk-timeout", 30*time.Second, "FlowDesk connection timeout")

	// Mail
	flag.StringVar(&cfg.Mail.FromName, "mail-from-name", "Innova Tickets", "Display name for the From header")
	flag.DurationVar(&cfg.Mail.Timeout, "mail-timeout", 30*time.Second, "SMTP dial timeout")

	// Notification rules
	flag.DurationVar(&cfg.WaitingReminderInterval, "waiting-reminder-interval", 48*time.Hour, "Cooldown between customer reminders for tickets waiting on a response")
	flag.DurationVar(&cfg.EscalationInterval, "escalation-interval", 24*time.Hour, "Cooldown between assignee escalations for the same ticket")

	// Cleanup
	flag.IntVar(&cfg.RetentionDays, "retention-days", 90, "Days to retain notification history")
	flag.BoolVar(&cfg.AutoVacuum, "auto-vacuum", false, "Vacuum the history database after cleanup")

	// Operational
	flag.BoolVar(&cfg.DryRun, "dry-run", false, "Evaluate rules but don't send mail or advance watermarks")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "Enable verbose logging")
	flag.StringVar(&cfg.LogFormat, "log-format", "text", "Log format (text or json)")
	flag.BoolVar(&cfg.Stats, "stats", false, "Print run statistics at end")
	flag.BoolVar(&cfg.EscalationsOnly, "escalations-only", false, "Run only the escalation evaluator")
	flag.BoolVar(&cfg.HoursOnly, "hours-only", false, "Run only the support-hours evaluator")
	flag.BoolVar(&cfg.ShowVersion, "version", false, "Print version and exit")
	flag.BoolVar(&cfg.CheckConnections, "check-connections", false, "Test connections and exit")
	flag.BoolVar(&cfg.InitDB, "init-db", false, "Initialize the history database and exit")
	flag.BoolVar(&cfg.StatsOnly, "stats-only", false, "Print history statistics and exit")
	flag.BoolVar(&cfg.Cleanup, "cleanup", false, "Clean up old history records and exit")

	// Activity logging mode
	flag.BoolVar(&cfg.LogActivity, "log-activity", false, "Record a support activity and evaluate hour thresholds")
	flag.Int64Var(&cfg.Activity.ClientID, "activity-client", 0, "Client internal id for -log-activity")
	flag.Int64Var(&cfg.Activity.TicketID, "activity-ticket", 0, "Linked ticket internal id for -log-activity (optional)")
	flag.StringVar(&cfg.Activity.Title, "activity-title", "", "Activity title for -log-activity")
	flag.StringVar(&cfg.Activity.Detail, "activity-detail", "", "Activity detail for -log-activity")
	flag.StringVar(&cfg.Activity.User, "activity-user", "", "User name for -log-activity")
	flag.StringVar(&cfg.Activity.Date, "activity-date", "", "Activity date YYYY-MM-DD for -log-activity (default today)")
	flag.StringVar(&cfg.Activity.Start, "activity-start", "", "Start time HH:MM for -log-activity")
	flag.StringVar(&cfg.Activity.End, "activity-end", "", "End time HH:MM for -log-activity")

	flag.Parse()

	if *configFile != "" {
		if err := cfg.LoadFromFile(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config file: %v\n", err)
			os.Exit(1)
		}
	}

	if cfg.FlowDesk.DSN == "" {
		cfg.FlowDesk.DSN = dsnFromEnv()
	}

	return cfg
}

// dsnFromEnv builds a MySQL DSN from the DB_* variables the surrounding
// deployment configures, loading .env.local first when present.
func dsnFromEnv() string {
	_ = godotenv.Load(".env.local")

	user := envOr("DB_USER", "root")
	pass := envOr("DB_PASS", "root")
	host := envOr("DB_HOST", "localhost")
	port := envOr("DB_PORT", "3306")
	name := envOr("DB_NAME", "innovaweb")

	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&timeout=30s", user, pass, host, port, name)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (c *Config) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (c *Config) Validate() error {
	if c.FlowDesk.DSN == "" {
		return fmt.Errorf("--flowdesk-dsn is required")
	}
	if err := c.validateDSN(); err != nil {
		return fmt.Errorf("invalid DSN: %w", err)
	}

	if c.WaitingReminderInterval <= 0 {
		return fmt.Errorf("--waiting-reminder-interval must be positive")
	}
	if c.EscalationInterval <= 0 {
		return fmt.Errorf("--escalation-interval must be positive")
	}

	if c.EscalationsOnly && c.HoursOnly {
		return fmt.Errorf("--escalations-only and --hours-only are mutually exclusive")
	}

	if c.LogActivity {
		if c.Activity.ClientID <= 0 {
			return fmt.Errorf("--activity-client is required with --log-activity")
		}
		if c.Activity.User == "" {
			return fmt.Errorf("--activity-user is required with --log-activity")
		}
		if c.Activity.Start == "" || c.Activity.End == "" {
			return fmt.Errorf("--activity-start and --activity-end are required with --log-activity")
		}
	}

	return nil
}

// validateDSN performs basic validation on the MySQL DSN format.
func (c *Config) validateDSN() error {
	dsn := c.FlowDesk.DSN

	if !strings.Contains(dsn, "@") || !strings.Contains(dsn, "/") {
		return fmt.Errorf("DSN must be in format 'user:password@tcp(host:port)/database?options'")
	}
	if strings.HasPrefix(dsn, "tcp://") {
		return fmt.Errorf("DSN should not include 'tcp://' scheme, use format: 'user:password@tcp(host:port)/database'")
	}

	return nil
}
