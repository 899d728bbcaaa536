package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rodriguezfdg-dev/Proyecto-FlowDesk/internal/config"
	"github.com/rodriguezfdg-dev/Proyecto-FlowDesk/internal/mailer"
	"github.com/rodriguezfdg-dev/Proyecto-FlowDesk/internal/models"
)

// Escalations scans open tickets and reminds either the customer (tickets
// waiting on their response) or the assignee (time-in-state limit exceeded).
// The last_escalation_sent_date watermark only advances after a successful
// send, and all watermark writes for a scan commit in one transaction.
type Escalations struct {
	store   EscalationStore
	sender  Sender
	history History
	cfg     *config.Config
	now     func() time.Time
}

func NewEscalations(store EscalationStore, sender Sender, history History, cfg *config.Config) *Escalations {
	return &Escalations{
		store:   store,
		sender:  sender,
		history: history,
		cfg:     cfg,
		now:     time.Now,
	}
}

// escalationDecision is the outcome of the pure rule evaluation for one
// ticket, before any recipient lookup or send.
type escalationDecision struct {
	Fire     bool
	Type     models.NotificationType
	MaxHours int
}

// evaluateEscalation applies the threshold and cooldown rules to one ticket.
// Timestamps are compared in UTC; naive database values are treated as UTC.
func evaluateEscalation(t *models.Ticket, settings *models.AttentionFlowSettings, now time.Time, waitingCooldown, generalCooldown time.Duration) escalationDecision {
	if t.StateLastChanged == nil || t.State.Terminal() {
		return escalationDecision{}
	}

	timeInState := now.Sub(t.StateLastChanged.UTC())

	if t.State == models.StateWaiting {
		maxHours := settings.MaxTimeWaiting
		if maxHours > 0 && timeInState > time.Duration(maxHours)*time.Hour &&
			cooldownElapsed(t.LastEscalationSent, now, waitingCooldown) {
			return escalationDecision{Fire: true, Type: models.WaitingResponseReminder, MaxHours: maxHours}
		}
		return escalationDecision{}
	}

	// Priority limit takes precedence; state limits only apply to the states
	// that have one configured.
	maxHours := settings.PriorityLimit(t.Priority)
	if maxHours <= 0 {
		maxHours = settings.StateLimit(t.State)
	}

	if maxHours > 0 && timeInState > time.Duration(maxHours)*time.Hour &&
		cooldownElapsed(t.LastEscalationSent, now, generalCooldown) {
		return escalationDecision{Fire: true, Type: models.StateLimitExceeded, MaxHours: maxHours}
	}
	return escalationDecision{}
}

func cooldownElapsed(lastSent *time.Time, now time.Time, cooldown time.Duration) bool {
	return lastSent == nil || now.Sub(lastSent.UTC()) >= cooldown
}

// Run performs one full escalation scan.
func (e *Escalations) Run(ctx context.Context) (models.RunStats, error) {
	start := e.now()
	runID := newRunID()
	stats := models.RunStats{}
	defer func() {
		stats.Duration = e.now().Sub(start)
		recordRun(e.history, runID, "escalations", stats)
	}()

	settings, err := e.store.AttentionFlowSettings(ctx)
	if err != nil {
		stats.Errors++
		return stats, fmt.Errorf("load attention flow settings: %w", err)
	}
	if settings == nil {
		// No configuration row means nothing to compare against. Abort the
		// whole run without partial effects.
		slog.Warn("attention flow settings not found, aborting escalation check")
		return stats, nil
	}

	tickets, err := e.store.OpenTickets(ctx)
	if err != nil {
		stats.Errors++
		return stats, fmt.Errorf("load open tickets: %w", err)
	}

	slog.Debug("escalation scan starting",
		"open_tickets", len(tickets),
		"max_time_waiting", settings.MaxTimeWaiting,
	)

	now := e.now().UTC()
	var notified []int64

	for i := range tickets {
		t := &tickets[i]
		stats.TicketsChecked++

		decision := evaluateEscalation(t, settings, now,
			e.cfg.WaitingReminderInterval, e.cfg.EscalationInterval)
		if !decision.Fire {
			continue
		}

		var sent bool
		switch decision.Type {
		case models.WaitingResponseReminder:
			sent = e.notifyCustomer(ctx, t, runID, &stats)
		case models.StateLimitExceeded:
			sent = e.notifyAssignee(ctx, t, decision.MaxHours, runID, &stats)
		}

		if sent {
			notified = append(notified, t.ID)
			stats.NotificationsSent++
		}
	}

	if e.cfg.DryRun {
		slog.Info("dry run, escalation watermarks left untouched", "would_mark", len(notified))
		return stats, nil
	}

	if err := e.store.MarkEscalationsSent(ctx, notified, now); err != nil {
		stats.Errors++
		return stats, fmt.Errorf("mark escalations sent: %w", err)
	}

	return stats, nil
}

// notifyCustomer sends the waiting-response reminder to the ticket's client
// primary contact. Lookup misses skip the ticket with a log line.
func (e *Escalations) notifyCustomer(ctx context.Context, t *models.Ticket, runID string, stats *models.RunStats) bool {
	client, err := e.store.ClientByCode(ctx, t.CustCode)
	if err != nil {
		slog.Error("client lookup failed", "ticket", t.ID, "cust_code", t.CustCode, "error", err)
		stats.Errors++
		return false
	}
	if client == nil || client.Email == "" {
		slog.Info("could not find customer email for ticket, skipping", "ticket", t.ID, "cust_code", t.CustCode)
		stats.Skipped++
		return false
	}

	msg, err := mailer.BuildWaitingReminder(t)
	if err != nil {
		slog.Error("failed to render waiting reminder", "ticket", t.ID, "error", err)
		stats.Errors++
		return false
	}

	return e.deliver(t, models.WaitingResponseReminder, client.Email, msg, runID, stats)
}

// notifyAssignee sends the exceeded-limit alert to the assignee's registered
// email.
func (e *Escalations) notifyAssignee(ctx context.Context, t *models.Ticket, maxHours int, runID string, stats *models.RunStats) bool {
	if t.Assignee == "" {
		slog.Info("ticket has no assignee, skipping escalation", "ticket", t.ID, "state", t.State)
		stats.Skipped++
		return false
	}

	email, err := e.store.ContactEmail(ctx, t.Assignee)
	if err != nil {
		slog.Error("assignee lookup failed", "ticket", t.ID, "assignee", t.Assignee, "error", err)
		stats.Errors++
		return false
	}
	if email == "" {
		slog.Info("could not find assignee email, skipping escalation", "ticket", t.ID, "assignee", t.Assignee)
		stats.Skipped++
		return false
	}

	msg, err := mailer.BuildLimitAlert(t, maxHours)
	if err != nil {
		slog.Error("failed to render limit alert", "ticket", t.ID, "error", err)
		stats.Errors++
		return false
	}

	return e.deliver(t, models.StateLimitExceeded, email, msg, runID, stats)
}

// deliver sends one message, records it in the history log, and reports
// whether the watermark may advance for this ticket.
func (e *Escalations) deliver(t *models.Ticket, kind models.NotificationType, to string, msg mailer.Message, runID string, stats *models.RunStats) bool {
	rec := models.NotificationRecord{
		RunID:      runID,
		Type:       kind,
		TargetKind: "ticket",
		TargetID:   t.ID,
		TargetName: t.Name,
		Recipient:  to,
		Subject:    msg.Subject,
	}

	if e.cfg.DryRun {
		slog.Info("dry run, would send escalation", "ticket", t.ID, "type", kind, "to", to)
		rec.Status = models.StatusDryRun
		record(e.history, rec)
		return true
	}

	if err := e.sender.Send(to, msg.Subject, msg.Body); err != nil {
		// The watermark stays put so the ticket is retried next run.
		slog.Error("failed to send escalation", "ticket", t.ID, "to", to, "error", err)
		stats.Errors++
		rec.Status = models.StatusFailed
		rec.Error = err.Error()
		record(e.history, rec)
		return false
	}

	slog.Info("escalation sent", "ticket", t.ID, "type", kind, "to", to, "state", t.State)
	rec.Status = models.StatusSent
	record(e.history, rec)
	return true
}
