package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/rodriguezfdg-dev/Proyecto-FlowDesk/internal/config"
	"github.com/rodriguezfdg-dev/Proyecto-FlowDesk/internal/database"
	"github.com/rodriguezfdg-dev/Proyecto-FlowDesk/internal/logging"
	"github.com/rodriguezfdg-dev/Proyecto-FlowDesk/internal/mailer"
	"github.com/rodriguezfdg-dev/Proyecto-FlowDesk/internal/models"
	"github.com/rodriguezfdg-dev/Proyecto-FlowDesk/internal/notifier"
)

// Version information - these will be set at build time via ldflags
var (
	Version   = "dev"     // Version number
	GitCommit = "unknown" // Git commit hash
	BuildDate = "unknown" // Build date
	GoVersion = "unknown" // Go version used to build
)

func main() {
	cfg := config.ParseFlags()

	if cfg.ShowVersion {
		printVersion()
		os.Exit(0)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	logger := logging.NewLogger(cfg.LogFormat, cfg.Verbose, nil)
	logger.SetAsDefault()

	if cfg.Verbose {
		logger.Info("Starting FlowDesk Notifier",
			"version", Version,
			"git_commit", GitCommit,
			"dry_run", cfg.DryRun,
		)
	}

	ctx := context.Background()

	if cfg.CheckConnections {
		if err := checkConnections(ctx, cfg, logger); err != nil {
			logger.LogError("Connection check failed", err)
			os.Exit(1)
		}
		fmt.Println("All connections successful!")
		os.Exit(0)
	}

	db, err := database.InitSQLite(cfg.HistoryPath)
	if err != nil {
		logger.LogError("Failed to initialize history database", err)
		os.Exit(1)
	}
	defer db.Close()

	if cfg.InitDB {
		if err := database.InitSchema(db); err != nil {
			logger.LogError("Failed to initialize history schema", err)
			os.Exit(1)
		}
		fmt.Println("Database initialized successfully!")
		os.Exit(0)
	}

	if cfg.Cleanup {
		if err := performCleanup(db, cfg, logger); err != nil {
			logger.LogError("Failed to perform cleanup", err)
			os.Exit(1)
		}
		fmt.Println("Cleanup completed successfully!")
		os.Exit(0)
	}

	if cfg.StatsOnly {
		if err := printStats(db); err != nil {
			logger.LogError("Failed to print stats", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	store, err := database.ConnectFlowDesk(cfg.FlowDesk)
	if err != nil {
		logger.LogError("Failed to connect to FlowDesk database", err)
		os.Exit(1)
	}
	defer store.Close()

	smtpSettings, err := store.SMTPSettings(ctx)
	if err != nil {
		logger.LogError("Failed to load SMTP settings", err)
		os.Exit(1)
	}
	if smtpSettings == nil && !cfg.DryRun {
		logger.Warn("SMTP settings not found in database, sends will fail until configured")
	}

	sender := mailer.New(smtpSettings, cfg.Mail)

	if cfg.LogActivity {
		if err := runLogActivity(ctx, cfg, store, sender, db, logger); err != nil {
			logger.LogError("Failed to log activity", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	var total models.RunStats

	if !cfg.HoursOnly {
		esc := notifier.NewEscalations(store, sender, db, cfg)
		stats, err := esc.Run(ctx)
		total.Merge(stats)
		if err != nil {
			logger.LogError("Escalation check failed", err)
		}
	}

	if !cfg.EscalationsOnly {
		hours := notifier.NewHours(store, sender, db, cfg)
		stats, err := hours.Run(ctx)
		total.Merge(stats)
		if err != nil {
			logger.LogError("Support hours check failed", err)
		}
	}

	if cfg.Stats || cfg.Verbose {
		printRunStats(&total, logger)
	}

	if total.Errors > 0 {
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("FlowDesk Notifier\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Git Commit: %s\n", GitCommit)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Go Version: %s\n", GoVersion)
}

func checkConnections(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	logger.Info("Checking connections...")

	logger.Info("Testing FlowDesk database connection...")
	store, err := database.ConnectFlowDesk(cfg.FlowDesk)
	if err != nil {
		return fmt.Errorf("FlowDesk connection failed: %w", err)
	}
	defer store.Close()
	logger.Info("FlowDesk database connection successful")

	smtpSettings, err := store.SMTPSettings(ctx)
	if err != nil {
		return fmt.Errorf("SMTP settings lookup failed: %w", err)
	}
	if smtpSettings == nil {
		return fmt.Errorf("SMTP settings row not found in database")
	}
	logger.Info("SMTP settings found", "host", smtpSettings.Host, "port", smtpSettings.Port)

	settings, err := store.AttentionFlowSettings(ctx)
	if err != nil {
		return fmt.Errorf("attention flow settings lookup failed: %w", err)
	}
	if settings == nil {
		logger.Warn("attention flow settings row not found, escalation runs will abort")
	}

	return nil
}

func runLogActivity(ctx context.Context, cfg *config.Config, store *database.Store, sender notifier.Sender, db *database.DB, logger *logging.Logger) error {
	date := time.Now()
	if cfg.Activity.Date != "" {
		var err error
		date, err = time.Parse("2006-01-02", cfg.Activity.Date)
		if err != nil {
			return fmt.Errorf("invalid --activity-date: %w", err)
		}
	}

	start, err := database.ParseClock(cfg.Activity.Start)
	if err != nil {
		return fmt.Errorf("invalid --activity-start: %w", err)
	}
	end, err := database.ParseClock(cfg.Activity.End)
	if err != nil {
		return fmt.Errorf("invalid --activity-end: %w", err)
	}

	input := notifier.ActivityInput{
		ClientID: cfg.Activity.ClientID,
		Title:    cfg.Activity.Title,
		Detail:   cfg.Activity.Detail,
		User:     cfg.Activity.User,
		Date:     date,
		Start:    start,
		End:      end,
	}
	if cfg.Activity.TicketID > 0 {
		id := cfg.Activity.TicketID
		input.TicketID = &id
	}

	hours := notifier.NewHours(store, sender, db, cfg)
	activity, tier, err := hours.LogActivity(ctx, input)
	if err != nil {
		return err
	}

	fmt.Printf("Activity #%d recorded (%.2f hours)\n", activity.ID, activity.Duration())
	if tier != models.TierNone {
		fmt.Printf("Support hours tier reached: %d%%\n", int(tier))
	}
	return nil
}

func printStats(db *database.DB) error {
	stats, err := db.GetNotificationStats()
	if err != nil {
		return fmt.Errorf("failed to get statistics: %w", err)
	}

	printHumanReadableStats(stats)
	return nil
}

func printHumanReadableStats(stats map[string]interface{}) {
	fmt.Printf("\n=== FlowDesk Notifier Statistics ===\n\n")

	if total, ok := stats["total_notifications"].(int); ok {
		fmt.Printf("Total Notifications: %d\n\n", total)
	}

	if statusMap, ok := stats["by_status"].(map[string]int); ok {
		fmt.Printf("By Status:\n")
		for status, count := range statusMap {
			fmt.Printf("  %s: %d\n", status, count)
		}
		fmt.Println()
	}

	if typeMap, ok := stats["by_type"].(map[string]int); ok {
		fmt.Printf("By Type:\n")
		for notifType, count := range typeMap {
			fmt.Printf("  %s: %d\n", notifType, count)
		}
		fmt.Println()
	}

	if sent24h, ok := stats["sent_last_24h"].(int); ok {
		fmt.Printf("Sent in Last 24 Hours: %d\n", sent24h)
	}

	if runs, ok := stats["runs_7d"].(int); ok {
		fmt.Printf("\nRuns (Last 7 Days): %d\n", runs)
		if sent, ok := stats["run_notifications_7d"].(int); ok {
			fmt.Printf("  Notifications Sent: %d\n", sent)
		}
		if errs, ok := stats["run_errors_7d"].(int); ok {
			fmt.Printf("  Errors: %d\n", errs)
		}
	}

	if mode, ok := stats["last_run_mode"].(string); ok {
		fmt.Printf("\nLast Run: %s", mode)
		if sent, ok := stats["last_run_sent"].(int); ok {
			fmt.Printf(" (%d sent)", sent)
		}
		fmt.Println()
	}
}

func printRunStats(stats *models.RunStats, logger *logging.Logger) {
	statsMap := map[string]interface{}{
		"tickets_checked":    stats.TicketsChecked,
		"clients_checked":    stats.ClientsChecked,
		"notifications_sent": stats.NotificationsSent,
		"skipped":            stats.Skipped,
		"errors":             stats.Errors,
		"duration":           stats.Duration.String(),
	}

	logger.LogRunStats(statsMap)

	fmt.Printf("\n=== Run Statistics ===\n")
	fmt.Printf("Tickets checked: %d\n", stats.TicketsChecked)
	fmt.Printf("Clients checked: %d\n", stats.ClientsChecked)
	fmt.Printf("Notifications sent: %d\n", stats.NotificationsSent)
	fmt.Printf("Skipped: %d\n", stats.Skipped)
	fmt.Printf("Errors: %d\n", stats.Errors)
	fmt.Printf("Duration: %s\n", stats.Duration)
}

func performCleanup(db *database.DB, cfg *config.Config, logger *logging.Logger) error {
	logger.Info("Starting history cleanup",
		"retention_days", cfg.RetentionDays,
		"auto_vacuum", cfg.AutoVacuum,
	)

	if err := notifier.CleanupOldHistory(db, cfg.RetentionDays); err != nil {
		return fmt.Errorf("failed to cleanup old history: %w", err)
	}

	if cfg.AutoVacuum {
		if err := notifier.VacuumDatabase(db); err != nil {
			return fmt.Errorf("failed to vacuum database: %w", err)
		}
	}

	return nil
}
