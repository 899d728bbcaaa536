package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/rodriguezfdg-dev/Proyecto-FlowDesk/internal/config"
	"github.com/rodriguezfdg-dev/Proyecto-FlowDesk/internal/models"
)

// Store wraps the shared helpdesk MySQL database. It only reads business
// fields and writes the two watermark columns plus new Activity rows.
type Store struct {
	db *sql.DB
}

func ConnectFlowDesk(cfg config.FlowDeskConfig) (*Store, error) {
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// AttentionFlowSettings returns the singleton threshold row, nil when the row
// does not exist.
func (s *Store) AttentionFlowSettings(ctx context.Context) (*models.AttentionFlowSettings, error) {
	query := `
		SELECT max_time_new, max_time_pending, max_time_testing, max_time_waiting,
			max_time_priority_low, max_time_priority_medium,
			max_time_priority_high, max_time_priority_critical
		FROM AttentionFlowSettings
		LIMIT 1
	`

	var cfg models.AttentionFlowSettings
	err := s.db.QueryRowContext(ctx, query).Scan(
		&cfg.MaxTimeNew,
		&cfg.MaxTimePending,
		&cfg.MaxTimeTesting,
		&cfg.MaxTimeWaiting,
		&cfg.MaxTimePriorityLow,
		&cfg.MaxTimePriorityMedium,
		&cfg.MaxTimePriorityHigh,
		&cfg.MaxTimePriorityCritical,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query attention flow settings: %w", err)
	}

	return &cfg, nil
}

// SMTPSettings returns the singleton mail configuration row, nil when absent.
func (s *Store) SMTPSettings(ctx context.Context) (*models.SMTPSettings, error) {
	query := `
		SELECT host, port, username, password,
			COALESCE(use_tls, 1), COALESCE(use_ssl, 0)
		FROM SmtpSettings
		LIMIT 1
	`

	var cfg models.SMTPSettings
	err := s.db.QueryRowContext(ctx, query).Scan(
		&cfg.Host, &cfg.Port, &cfg.Username, &cfg.Password, &cfg.UseTLS, &cfg.UseSSL,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query smtp settings: %w", err)
	}

	return &cfg, nil
}

// OpenTickets returns every ticket that is not in a terminal state and has a
// recorded state change timestamp.
func (s *Store) OpenTickets(ctx context.Context) ([]models.Ticket, error) {
	query := `
		SELECT internalId, COALESCE(Name, ''), COALESCE(State, ''),
			COALESCE(Priority, ''), COALESCE(CustCode, ''), COALESCE(Assign, ''),
			state_last_changed_date, last_escalation_sent_date
		FROM Cards
		WHERE State NOT IN ('Cerrado', 'Terminado')
			AND state_last_changed_date IS NOT NULL
		ORDER BY state_last_changed_date ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query open tickets: %w", err)
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		var t models.Ticket
		var state, priority string
		var stateChanged, lastSent sql.NullTime

		err := rows.Scan(&t.ID, &t.Name, &state, &priority, &t.CustCode, &t.Assignee,
			&stateChanged, &lastSent)
		if err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}

		t.State = models.State(state)
		t.Priority = models.ParsePriority(priority)
		if stateChanged.Valid {
			v := stateChanged.Time
			t.StateLastChanged = &v
		}
		if lastSent.Valid {
			v := lastSent.Time
			t.LastEscalationSent = &v
		}
		tickets = append(tickets, t)
	}

	return tickets, rows.Err()
}

// ActiveClients returns clients with a contracted support pool that are not
// closed.
func (s *Store) ActiveClients(ctx context.Context) ([]models.Client, error) {
	query := clientSelect + `
		WHERE SupportHours > 0
			AND COALESCE(Closed, '') <> 'Closed'
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query active clients: %w", err)
	}
	defer rows.Close()

	var clients []models.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, *c)
	}

	return clients, rows.Err()
}

const clientSelect = `
	SELECT internalId, COALESCE(Code, ''), COALESCE(Name, ''),
		COALESCE(FantasyName, ''), COALESCE(Email, ''), COALESCE(Encargados, ''),
		COALESCE(SupportHours, 0), COALESCE(SupportHoursConsumed, 0),
		COALESCE(LastAlertLevel, 0)
	FROM Customer
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClient(row rowScanner) (*models.Client, error) {
	var c models.Client
	var level float64

	err := row.Scan(&c.ID, &c.Code, &c.Name, &c.FantasyName, &c.Email,
		&c.Encargados, &c.SupportHours, &c.SupportHoursConsumed, &level)
	if err != nil {
		return nil, fmt.Errorf("scan client: %w", err)
	}

	c.LastAlertLevel = models.AlertTier(int(level))
	return &c, nil
}

// ClientByCode looks a client up by its customer code, nil when not found.
func (s *Store) ClientByCode(ctx context.Context, code string) (*models.Client, error) {
	row := s.db.QueryRowContext(ctx, clientSelect+" WHERE Code = ? LIMIT 1", code)
	c, err := scanClient(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

// ClientByID looks a client up by its internal id, nil when not found.
func (s *Store) ClientByID(ctx context.Context, id int64) (*models.Client, error) {
	row := s.db.QueryRowContext(ctx, clientSelect+" WHERE internalId = ? LIMIT 1", id)
	c, err := scanClient(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

// ContactEmail returns the registered email for a user name, empty when the
// user is unknown or has no email on file.
func (s *Store) ContactEmail(ctx context.Context, user string) (string, error) {
	var email sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT gmail FROM PersonOfCustomer WHERE user = ? LIMIT 1`, user,
	).Scan(&email)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query contact email for %q: %w", user, err)
	}

	return email.String, nil
}

// AdminEmails returns the emails of all administrators (roll '1').
func (s *Store) AdminEmails(ctx context.Context) ([]string, error) {
	return s.roleEmails(ctx,
		`SELECT gmail FROM PersonOfCustomer WHERE roll = '1' AND gmail IS NOT NULL`)
}

// SupportManagerEmails returns the emails of support managers (roll '4')
// scoped to one client.
func (s *Store) SupportManagerEmails(ctx context.Context, clientID int64) ([]string, error) {
	return s.roleEmails(ctx,
		`SELECT gmail FROM PersonOfCustomer WHERE roll = '4' AND gmail IS NOT NULL AND cliente_id = ?`,
		clientID)
}

func (s *Store) roleEmails(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query role emails: %w", err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("scan email: %w", err)
		}
		if email != "" {
			emails = append(emails, email)
		}
	}

	return emails, rows.Err()
}

// ClientActivities returns all activities for a client joined with the linked
// ticket's additional-hours status.
func (s *Store) ClientActivities(ctx context.Context, clientID int64) ([]models.Activity, error) {
	query := `
		SELECT a.internalId, a.CustCode, a.CardId, COALESCE(a.Comment, ''),
			COALESCE(a.User, ''), a.TransDate, a.StartTime, a.EndTime,
			COALESCE(c.AdditionalHoursStatus, '')
		FROM Activity a
		LEFT JOIN Cards c ON a.CardId = c.internalId
		WHERE a.CustCode = ?
	`

	rows, err := s.db.QueryContext(ctx, query, clientID)
	if err != nil {
		return nil, fmt.Errorf("query client activities: %w", err)
	}
	defer rows.Close()

	var activities []models.Activity
	for rows.Next() {
		var a models.Activity
		var cardID sql.NullInt64
		var transDate sql.NullTime
		var start, end sql.NullString

		err := rows.Scan(&a.ID, &a.ClientID, &cardID, &a.Title, &a.User,
			&transDate, &start, &end, &a.TicketAdditionalStatus)
		if err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}

		if cardID.Valid {
			v := cardID.Int64
			a.TicketID = &v
		}
		if transDate.Valid {
			a.Date = transDate.Time
		}
		// Entries without both clock times carry no measurable duration.
		if !start.Valid || !end.Valid {
			continue
		}
		if a.Start, err = ParseClock(start.String); err != nil {
			return nil, fmt.Errorf("activity %d: %w", a.ID, err)
		}
		if a.End, err = ParseClock(end.String); err != nil {
			return nil, fmt.Errorf("activity %d: %w", a.ID, err)
		}

		activities = append(activities, a)
	}

	return activities, rows.Err()
}

// ParseClock parses a MySQL TIME value ("HH:MM:SS" or "HH:MM") into an offset
// from midnight.
func ParseClock(value string) (time.Duration, error) {
	parts := strings.Split(value, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time value %q", value)
	}

	var total time.Duration
	units := []time.Duration{time.Hour, time.Minute, time.Second}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("invalid time value %q: %w", value, err)
		}
		total += time.Duration(n) * units[i]
	}

	return total, nil
}

// FormatClock renders an offset from midnight as a MySQL TIME literal.
func FormatClock(d time.Duration) string {
	d = d % (24 * time.Hour)
	h := int(d / time.Hour)
	m := int(d/time.Minute) % 60
	sec := int(d/time.Second) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
}

// MarkEscalationsSent advances the escalation watermark for every ticket that
// was successfully notified, in a single transaction. A failure anywhere rolls
// back the whole batch.
func (s *Store) MarkEscalationsSent(ctx context.Context, ticketIDs []int64, sentAt time.Time) error {
	if len(ticketIDs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin escalation watermark tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`UPDATE Cards SET last_escalation_sent_date = ? WHERE internalId = ?`)
	if err != nil {
		return fmt.Errorf("prepare escalation watermark update: %w", err)
	}
	defer stmt.Close()

	for _, id := range ticketIDs {
		if _, err := stmt.ExecContext(ctx, sentAt.UTC(), id); err != nil {
			return fmt.Errorf("update escalation watermark for ticket %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit escalation watermarks: %w", err)
	}
	return nil
}

// ApplyAlertLevels advances tier watermarks and refreshes the consumed-hours
// cache for the swept clients, in a single transaction.
func (s *Store) ApplyAlertLevels(ctx context.Context, updates []models.AlertLevelUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin alert level tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`UPDATE Customer SET LastAlertLevel = ?, SupportHoursConsumed = ? WHERE internalId = ?`)
	if err != nil {
		return fmt.Errorf("prepare alert level update: %w", err)
	}
	defer stmt.Close()

	for _, u := range updates {
		if _, err := stmt.ExecContext(ctx, float64(u.Level), u.ConsumedHours, u.ClientID); err != nil {
			return fmt.Errorf("update alert level for client %d: %w", u.ClientID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit alert levels: %w", err)
	}
	return nil
}

// SetClientUsage refreshes one client's tier watermark and consumed-hours
// cache (real-time path).
func (s *Store) SetClientUsage(ctx context.Context, clientID int64, consumed float64, level models.AlertTier) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE Customer SET LastAlertLevel = ?, SupportHoursConsumed = ? WHERE internalId = ?`,
		float64(level), consumed, clientID)
	if err != nil {
		return fmt.Errorf("update client %d usage: %w", clientID, err)
	}
	return nil
}

// HasOverlappingActivity reports whether the user already logged an activity
// on the same day whose interval intersects [start, end).
func (s *Store) HasOverlappingActivity(ctx context.Context, user string, date time.Time, start, end time.Duration) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM Activity
		WHERE User = ? AND TransDate = ?
			AND StartTime < ? AND EndTime > ?
	`, user, date.Format("2006-01-02"), FormatClock(end), FormatClock(start)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("query overlapping activities: %w", err)
	}

	return count > 0, nil
}

// InsertActivity stores a new support activity and returns its id. Fixed
// column values mirror what the activity-creation endpoint writes.
func (s *Store) InsertActivity(ctx context.Context, a models.Activity) (int64, error) {
	var cardID any
	if a.TicketID != nil {
		cardID = *a.TicketID
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO Activity
			(Comment, Detail, Priority, ActivityType, Status,
			 TransDate, StartTime, EndTime, User, CustCode, CardId)
		VALUES (?, ?, 2, 'SOPORTE', 2, ?, ?, ?, ?, ?, ?)
	`, a.Title, a.Detail, a.Date.Format("2006-01-02"),
		FormatClock(a.Start), FormatClock(a.End), a.User, a.ClientID, cardID)
	if err != nil {
		return 0, fmt.Errorf("insert activity: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("activity insert id: %w", err)
	}
	return id, nil
}
