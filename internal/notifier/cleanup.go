package notifier

import (
	"log"
	"time"

	"github.com/rodriguezfdg-dev/Proyecto-FlowDesk/internal/database"
)

// CleanupOldHistory removes old audit rows to keep the history database small.
func CleanupOldHistory(db *database.DB, retentionDays int) error {
	if retentionDays <= 0 {
		retentionDays = 90
	}

	result, err := db.Exec(`
		DELETE FROM notification_log
		WHERE created_at < datetime('now', '-' || ? || ' days')
	`, retentionDays)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err == nil && rowsAffected > 0 {
		log.Printf("Cleaned up %d old notification records", rowsAffected)
	}

	result, err = db.Exec(`
		DELETE FROM run_log
		WHERE finished_at < datetime('now', '-' || ? || ' days')
	`, retentionDays)
	if err != nil {
		return err
	}

	rowsAffected, err = result.RowsAffected()
	if err == nil && rowsAffected > 0 {
		log.Printf("Cleaned up %d old run records", rowsAffected)
	}

	return nil
}

// VacuumDatabase performs SQLite VACUUM to reclaim disk space.
func VacuumDatabase(db *database.DB) error {
	log.Printf("Performing database vacuum...")
	start := time.Now()

	if _, err := db.Exec("VACUUM"); err != nil {
		return err
	}

	log.Printf("Database vacuum completed in %s", time.Since(start))
	return nil
}
