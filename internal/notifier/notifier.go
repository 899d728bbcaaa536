package notifier

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rodriguezfdg-dev/Proyecto-FlowDesk/internal/models"
)

// Sender is the outbound notification capability. Implementations must not
// panic; a failed send is reported as an error and the evaluators move on.
type Sender interface {
	Send(to, subject, htmlBody string) error
}

// History is the local audit log. Recording failures are logged and never
// interrupt an evaluation run.
type History interface {
	RecordNotification(rec models.NotificationRecord) error
	RecordRun(runID, mode string, stats models.RunStats) error
}

// EscalationStore is the helpdesk data the escalation evaluator needs.
// Lookup methods return zero values (not errors) for missing rows.
type EscalationStore interface {
	AttentionFlowSettings(ctx context.Context) (*models.AttentionFlowSettings, error)
	OpenTickets(ctx context.Context) ([]models.Ticket, error)
	ClientByCode(ctx context.Context, code string) (*models.Client, error)
	ContactEmail(ctx context.Context, user string) (string, error)
	MarkEscalationsSent(ctx context.Context, ticketIDs []int64, sentAt time.Time) error
}

// HoursStore is the helpdesk data the support-hours evaluator needs.
type HoursStore interface {
	ActiveClients(ctx context.Context) ([]models.Client, error)
	ClientByID(ctx context.Context, id int64) (*models.Client, error)
	ClientActivities(ctx context.Context, clientID int64) ([]models.Activity, error)
	ContactEmail(ctx context.Context, user string) (string, error)
	AdminEmails(ctx context.Context) ([]string, error)
	SupportManagerEmails(ctx context.Context, clientID int64) ([]string, error)
	ApplyAlertLevels(ctx context.Context, updates []models.AlertLevelUpdate) error
	SetClientUsage(ctx context.Context, clientID int64, consumed float64, level models.AlertTier) error
	HasOverlappingActivity(ctx context.Context, user string, date time.Time, start, end time.Duration) (bool, error)
	InsertActivity(ctx context.Context, a models.Activity) (int64, error)
}

func newRunID() string {
	return uuid.NewString()
}

func record(history History, rec models.NotificationRecord) {
	if history == nil {
		return
	}
	if err := history.RecordNotification(rec); err != nil {
		slog.Warn("failed to record notification history", "error", err)
	}
}

func recordRun(history History, runID, mode string, stats models.RunStats) {
	if history == nil {
		return
	}
	if err := history.RecordRun(runID, mode, stats); err != nil {
		slog.Warn("failed to record run history", "error", err)
	}
}
