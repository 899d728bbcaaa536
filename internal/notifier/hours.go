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

// Hours evaluates support-hour consumption against the 80/100/120 tiers.
// Consumed hours are always recomputed from the activity history; the
// SupportHoursConsumed column is only a cache refreshed on the way out.
// Only the single highest newly-crossed tier fires, in both the periodic
// sweep and the per-activity path.
type Hours struct {
	store   HoursStore
	sender  Sender
	history History
	cfg     *config.Config
	now     func() time.Time
}

func NewHours(store HoursStore, sender Sender, history History, cfg *config.Config) *Hours {
	return &Hours{
		store:   store,
		sender:  sender,
		history: history,
		cfg:     cfg,
		now:     time.Now,
	}
}

// usage is the recomputed consumption picture for one client.
type usage struct {
	Consumed   float64
	Percentage float64
	Tier       models.AlertTier
}

// evaluateUsage recomputes consumption for a client from its activities.
// Activities billed as approved additional hours are excluded.
func evaluateUsage(c *models.Client, activities []models.Activity) usage {
	consumed := models.ConsumedHours(activities)
	if c.SupportHours <= 0 {
		return usage{Consumed: consumed}
	}

	pct := consumed / c.SupportHours * 100
	return usage{
		Consumed:   consumed,
		Percentage: pct,
		Tier:       models.TierFor(pct),
	}
}

// Run performs one periodic sweep over all active clients. Tier watermarks
// and consumed-hours caches for every notified client commit in a single
// transaction at the end.
func (h *Hours) Run(ctx context.Context) (models.RunStats, error) {
	start := h.now()
	runID := newRunID()
	stats := models.RunStats{}
	defer func() {
		stats.Duration = h.now().Sub(start)
		recordRun(h.history, runID, "support_hours", stats)
	}()

	admins, err := h.store.AdminEmails(ctx)
	if err != nil {
		stats.Errors++
		return stats, fmt.Errorf("load admin emails: %w", err)
	}

	clients, err := h.store.ActiveClients(ctx)
	if err != nil {
		stats.Errors++
		return stats, fmt.Errorf("load active clients: %w", err)
	}

	slog.Debug("support hours sweep starting", "clients", len(clients), "admins", len(admins))

	var updates []models.AlertLevelUpdate

	for i := range clients {
		c := &clients[i]
		stats.ClientsChecked++

		if c.SupportHours <= 0 {
			continue
		}

		activities, err := h.store.ClientActivities(ctx, c.ID)
		if err != nil {
			slog.Error("failed to load activities", "client", c.ID, "error", err)
			stats.Errors++
			continue
		}

		u := evaluateUsage(c, activities)
		if u.Tier == models.TierNone || u.Tier <= c.LastAlertLevel {
			continue
		}

		recipients, err := h.clientRecipients(ctx, c)
		if err != nil {
			stats.Errors++
			continue
		}
		if len(recipients)+len(admins) == 0 {
			slog.Info("no reachable recipients for client, skipping tier alert",
				"client", c.ID, "tier", int(u.Tier))
			stats.Skipped++
			continue
		}

		msg, err := mailer.BuildTierAlert(c, u.Tier, u.Percentage, u.Consumed)
		if err != nil {
			slog.Error("failed to render tier alert", "client", c.ID, "error", err)
			stats.Errors++
			continue
		}

		slog.Info("support hours tier reached",
			"client", c.ID,
			"name", c.DisplayName(),
			"consumed", u.Consumed,
			"contracted", c.SupportHours,
			"tier", int(u.Tier),
			"previous_tier", int(c.LastAlertLevel),
		)

		for _, to := range recipients {
			h.deliverTier(c, models.SupportHoursTier, to, msg, runID, &stats)
		}
		adminMsg := mailer.Message{Subject: "[ADMIN] " + msg.Subject, Body: msg.Body}
		for _, to := range admins {
			h.deliverTier(c, models.SupportHoursTier, to, adminMsg, runID, &stats)
		}

		// At least one send path was attempted, so the tier watermark
		// advances even if individual deliveries failed.
		updates = append(updates, models.AlertLevelUpdate{
			ClientID:      c.ID,
			Level:         u.Tier,
			ConsumedHours: u.Consumed,
		})
	}

	if h.cfg.DryRun {
		slog.Info("dry run, alert levels left untouched", "would_update", len(updates))
		return stats, nil
	}

	if err := h.store.ApplyAlertLevels(ctx, updates); err != nil {
		stats.Errors++
		return stats, fmt.Errorf("apply alert levels: %w", err)
	}

	return stats, nil
}

// clientRecipients resolves the client's primary email plus every encargado
// with a registered address.
func (h *Hours) clientRecipients(ctx context.Context, c *models.Client) ([]string, error) {
	var recipients []string
	if c.Email != "" {
		recipients = append(recipients, c.Email)
	}

	for _, name := range c.EncargadoNames() {
		email, err := h.store.ContactEmail(ctx, name)
		if err != nil {
			slog.Error("encargado lookup failed", "client", c.ID, "encargado", name, "error", err)
			return nil, err
		}
		if email == "" {
			slog.Debug("encargado has no registered email", "client", c.ID, "encargado", name)
			continue
		}
		recipients = append(recipients, email)
	}

	return recipients, nil
}

func (h *Hours) deliverTier(c *models.Client, kind models.NotificationType, to string, msg mailer.Message, runID string, stats *models.RunStats) {
	rec := models.NotificationRecord{
		RunID:      runID,
		Type:       kind,
		TargetKind: "client",
		TargetID:   c.ID,
		TargetName: c.DisplayName(),
		Recipient:  to,
		Subject:    msg.Subject,
	}

	if h.cfg.DryRun {
		slog.Info("dry run, would send tier alert", "client", c.ID, "to", to)
		rec.Status = models.StatusDryRun
		record(h.history, rec)
		return
	}

	if err := h.sender.Send(to, msg.Subject, msg.Body); err != nil {
		slog.Error("failed to send tier alert", "client", c.ID, "to", to, "error", err)
		stats.Errors++
		rec.Status = models.StatusFailed
		rec.Error = err.Error()
		record(h.history, rec)
		return
	}

	stats.NotificationsSent++
	rec.Status = models.StatusSent
	record(h.history, rec)
}

// ActivityLogged runs the real-time threshold check for one client right
// after a new activity was persisted. Recipients are the support managers
// scoped to the client. Returns the tier that fired, TierNone when none did.
func (h *Hours) ActivityLogged(ctx context.Context, client *models.Client) (models.AlertTier, error) {
	runID := newRunID()

	activities, err := h.store.ClientActivities(ctx, client.ID)
	if err != nil {
		return models.TierNone, fmt.Errorf("load activities for client %d: %w", client.ID, err)
	}

	u := evaluateUsage(client, activities)
	newLevel := client.LastAlertLevel

	if client.SupportHours > 0 && u.Tier > client.LastAlertLevel {
		managers, err := h.store.SupportManagerEmails(ctx, client.ID)
		if err != nil {
			return models.TierNone, fmt.Errorf("load support managers for client %d: %w", client.ID, err)
		}

		if len(managers) == 0 {
			slog.Info("no support managers registered for client, tier alert unsent",
				"client", client.ID, "tier", int(u.Tier))
		} else {
			msg, err := mailer.BuildManagerAlert(client, u.Tier, u.Percentage, u.Consumed)
			if err != nil {
				return models.TierNone, fmt.Errorf("render manager alert: %w", err)
			}

			for _, to := range managers {
				rec := models.NotificationRecord{
					RunID:      runID,
					Type:       models.SupportHoursManager,
					TargetKind: "client",
					TargetID:   client.ID,
					TargetName: client.DisplayName(),
					Recipient:  to,
					Subject:    msg.Subject,
				}
				if h.cfg.DryRun {
					rec.Status = models.StatusDryRun
					record(h.history, rec)
					continue
				}
				if err := h.sender.Send(to, msg.Subject, msg.Body); err != nil {
					slog.Error("failed to send manager alert", "client", client.ID, "to", to, "error", err)
					rec.Status = models.StatusFailed
					rec.Error = err.Error()
					record(h.history, rec)
					continue
				}
				rec.Status = models.StatusSent
				record(h.history, rec)
			}

			newLevel = u.Tier
		}
	}

	if h.cfg.DryRun {
		return newLevel, nil
	}

	if err := h.store.SetClientUsage(ctx, client.ID, u.Consumed, newLevel); err != nil {
		return newLevel, err
	}

	client.SupportHoursConsumed = u.Consumed
	client.LastAlertLevel = newLevel
	return newLevel, nil
}

// ActivityInput is one support activity to record via LogActivity.
type ActivityInput struct {
	ClientID int64
	TicketID *int64
	Title    string
	Detail   string
	User     string
	Date     time.Time
	Start    time.Duration
	End      time.Duration
}

// LogActivity validates and persists a new support activity, then runs the
// real-time threshold check. Mirrors the activity-creation endpoint: zero
// duration and same-user same-day overlaps are rejected.
func (h *Hours) LogActivity(ctx context.Context, in ActivityInput) (*models.Activity, models.AlertTier, error) {
	client, err := h.store.ClientByID(ctx, in.ClientID)
	if err != nil {
		return nil, models.TierNone, fmt.Errorf("look up client %d: %w", in.ClientID, err)
	}
	if client == nil {
		return nil, models.TierNone, fmt.Errorf("client %d not found", in.ClientID)
	}

	if models.SessionHours(in.Start, in.End) <= 0 {
		return nil, models.TierNone, fmt.Errorf("end time must be after start time")
	}

	overlaps, err := h.store.HasOverlappingActivity(ctx, in.User, in.Date, in.Start, in.End)
	if err != nil {
		return nil, models.TierNone, fmt.Errorf("check overlapping activities: %w", err)
	}
	if overlaps {
		return nil, models.TierNone, fmt.Errorf("activity overlaps an existing entry for user %s on %s",
			in.User, in.Date.Format("2006-01-02"))
	}

	activity := models.Activity{
		ClientID: in.ClientID,
		TicketID: in.TicketID,
		Title:    in.Title,
		Detail:   in.Detail,
		User:     in.User,
		Date:     in.Date,
		Start:    in.Start,
		End:      in.End,
	}

	id, err := h.store.InsertActivity(ctx, activity)
	if err != nil {
		return nil, models.TierNone, err
	}
	activity.ID = id

	slog.Info("activity recorded",
		"activity", id,
		"client", client.ID,
		"user", in.User,
		"hours", activity.Duration(),
	)

	tier, err := h.ActivityLogged(ctx, client)
	if err != nil {
		return &activity, tier, fmt.Errorf("post-activity threshold check: %w", err)
	}

	return &activity, tier, nil
}
