package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rodriguezfdg-dev/Proyecto-FlowDesk/internal/models"
)

// DB is the local SQLite history database. It is purely an audit log: the
// duplicate-send guards live in the helpdesk database's watermark columns.
type DB struct {
	*sql.DB
}

func InitSQLite(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	return &DB{db}, nil
}

func InitSchema(db *DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS notification_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		notification_type TEXT NOT NULL,
		target_kind TEXT NOT NULL,
		target_id INTEGER NOT NULL,
		target_name TEXT,
		recipient TEXT NOT NULL,
		subject TEXT,
		status TEXT NOT NULL,
		error TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_notification_log_target
		ON notification_log(target_kind, target_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_notification_log_run
		ON notification_log(run_id);

	CREATE TABLE IF NOT EXISTS run_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		mode TEXT NOT NULL,
		tickets_checked INTEGER DEFAULT 0,
		clients_checked INTEGER DEFAULT 0,
		notifications_sent INTEGER DEFAULT 0,
		skipped INTEGER DEFAULT 0,
		errors INTEGER DEFAULT 0,
		duration_ms INTEGER DEFAULT 0,
		finished_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// RecordNotification appends one send attempt to the audit log.
func (db *DB) RecordNotification(rec models.NotificationRecord) error {
	_, err := db.Exec(`
		INSERT INTO notification_log
			(run_id, notification_type, target_kind, target_id, target_name,
			 recipient, subject, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.RunID, string(rec.Type), rec.TargetKind, rec.TargetID, rec.TargetName,
		rec.Recipient, rec.Subject, string(rec.Status), rec.Error)
	if err != nil {
		return fmt.Errorf("record notification: %w", err)
	}
	return nil
}

// RecordRun appends one evaluator run summary.
func (db *DB) RecordRun(runID, mode string, stats models.RunStats) error {
	_, err := db.Exec(`
		INSERT INTO run_log
			(run_id, mode, tickets_checked, clients_checked,
			 notifications_sent, skipped, errors, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, mode, stats.TicketsChecked, stats.ClientsChecked,
		stats.NotificationsSent, stats.Skipped, stats.Errors,
		stats.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// GetNotificationStats returns statistics about the notification history.
func (db *DB) GetNotificationStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var total int
	if err := db.QueryRow("SELECT COUNT(*) FROM notification_log").Scan(&total); err != nil {
		return nil, err
	}
	stats["total_notifications"] = total

	statusCounts, err := db.groupCounts("SELECT status, COUNT(*) FROM notification_log GROUP BY status")
	if err != nil {
		return nil, err
	}
	stats["by_status"] = statusCounts

	typeCounts, err := db.groupCounts("SELECT notification_type, COUNT(*) FROM notification_log GROUP BY notification_type")
	if err != nil {
		return nil, err
	}
	stats["by_type"] = typeCounts

	var last24h int
	err = db.QueryRow(`
		SELECT COUNT(*)
		FROM notification_log
		WHERE status = 'sent' AND created_at > datetime('now', '-24 hours')
	`).Scan(&last24h)
	if err != nil {
		return nil, err
	}
	stats["sent_last_24h"] = last24h

	var runs7d, sent7d, errors7d int
	err = db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(notifications_sent), 0), COALESCE(SUM(errors), 0)
		FROM run_log
		WHERE finished_at > datetime('now', '-7 days')
	`).Scan(&runs7d, &sent7d, &errors7d)
	if err != nil {
		return nil, err
	}
	stats["runs_7d"] = runs7d
	stats["run_notifications_7d"] = sent7d
	stats["run_errors_7d"] = errors7d

	var lastMode sql.NullString
	var lastSent sql.NullInt64
	err = db.QueryRow(`
		SELECT mode, notifications_sent
		FROM run_log
		ORDER BY finished_at DESC, id DESC
		LIMIT 1
	`).Scan(&lastMode, &lastSent)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	if lastMode.Valid {
		stats["last_run_mode"] = lastMode.String
		stats["last_run_sent"] = int(lastSent.Int64)
	}

	return stats, nil
}

func (db *DB) groupCounts(query string) (map[string]int, error) {
	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return nil, err
		}
		counts[key] = count
	}

	return counts, rows.Err()
}
