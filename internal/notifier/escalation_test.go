package notifier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rodriguezfdg-dev/Proyecto-FlowDesk/internal/config"
	"github.com/rodriguezfdg-dev/Proyecto-FlowDesk/internal/models"
)

func testConfig() *config.Config {
	return &config.Config{
		WaitingReminderInterval: 48 * time.Hour,
		EscalationInterval:      24 * time.Hour,
	}
}

func testSettings() *models.AttentionFlowSettings {
	return &models.AttentionFlowSettings{
		MaxTimeNew:              5,
		MaxTimePending:          10,
		MaxTimeTesting:          15,
		MaxTimeWaiting:          10,
		MaxTimePriorityCritical: 2,
	}
}

func hoursAgo(now time.Time, h float64) *time.Time {
	t := now.Add(-time.Duration(h * float64(time.Hour)))
	return &t
}

func TestEvaluateEscalationWaiting(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	settings := testSettings()

	t.Run("fires past the waiting limit", func(t *testing.T) {
		ticket := &models.Ticket{State: models.StateWaiting, StateLastChanged: hoursAgo(now, 11)}
		d := evaluateEscalation(ticket, settings, now, 48*time.Hour, 24*time.Hour)
		assert.True(t, d.Fire)
		assert.Equal(t, models.WaitingResponseReminder, d.Type)
		assert.Equal(t, 10, d.MaxHours)
	})

	t.Run("silent below the limit", func(t *testing.T) {
		ticket := &models.Ticket{State: models.StateWaiting, StateLastChanged: hoursAgo(now, 9)}
		d := evaluateEscalation(ticket, settings, now, 48*time.Hour, 24*time.Hour)
		assert.False(t, d.Fire)
	})

	t.Run("cooldown suppresses repeat reminders", func(t *testing.T) {
		ticket := &models.Ticket{
			State:              models.StateWaiting,
			StateLastChanged:   hoursAgo(now, 60),
			LastEscalationSent: hoursAgo(now, 1),
		}
		d := evaluateEscalation(ticket, settings, now, 48*time.Hour, 24*time.Hour)
		assert.False(t, d.Fire)
	})

	t.Run("fires again once the cooldown elapses", func(t *testing.T) {
		ticket := &models.Ticket{
			State:              models.StateWaiting,
			StateLastChanged:   hoursAgo(now, 60),
			LastEscalationSent: hoursAgo(now, 49),
		}
		d := evaluateEscalation(ticket, settings, now, 48*time.Hour, 24*time.Hour)
		assert.True(t, d.Fire)
	})

	t.Run("zero limit disables the rule", func(t *testing.T) {
		s := testSettings()
		s.MaxTimeWaiting = 0
		ticket := &models.Ticket{State: models.StateWaiting, StateLastChanged: hoursAgo(now, 500)}
		d := evaluateEscalation(ticket, s, now, 48*time.Hour, 24*time.Hour)
		assert.False(t, d.Fire)
	})
}

func TestEvaluateEscalationStateLimits(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	settings := testSettings()

	t.Run("priority limit beats the state limit", func(t *testing.T) {
		// Critical limit is 2h, Nuevo limit is 5h; at 3h only the priority
		// rule has tripped, and it wins.
		ticket := &models.Ticket{
			State:            models.StateNew,
			Priority:         models.PriorityCritical,
			StateLastChanged: hoursAgo(now, 3),
		}
		d := evaluateEscalation(ticket, settings, now, 48*time.Hour, 24*time.Hour)
		assert.True(t, d.Fire)
		assert.Equal(t, models.StateLimitExceeded, d.Type)
		assert.Equal(t, 2, d.MaxHours)
	})

	t.Run("falls back to the state limit without a priority limit", func(t *testing.T) {
		ticket := &models.Ticket{
			State:            models.StateNew,
			Priority:         models.PriorityLow,
			StateLastChanged: hoursAgo(now, 6),
		}
		d := evaluateEscalation(ticket, settings, now, 48*time.Hour, 24*time.Hour)
		assert.True(t, d.Fire)
		assert.Equal(t, 5, d.MaxHours)
	})

	t.Run("no limit configured for the state", func(t *testing.T) {
		ticket := &models.Ticket{
			State:            models.StateInProgress,
			Priority:         models.PriorityLow,
			StateLastChanged: hoursAgo(now, 500),
		}
		d := evaluateEscalation(ticket, settings, now, 48*time.Hour, 24*time.Hour)
		assert.False(t, d.Fire)
	})

	t.Run("terminal states never escalate", func(t *testing.T) {
		ticket := &models.Ticket{
			State:            models.StateClosed,
			Priority:         models.PriorityCritical,
			StateLastChanged: hoursAgo(now, 500),
		}
		d := evaluateEscalation(ticket, settings, now, 48*time.Hour, 24*time.Hour)
		assert.False(t, d.Fire)
	})

	t.Run("missing change timestamp skips the ticket", func(t *testing.T) {
		ticket := &models.Ticket{State: models.StateNew, Priority: models.PriorityCritical}
		d := evaluateEscalation(ticket, settings, now, 48*time.Hour, 24*time.Hour)
		assert.False(t, d.Fire)
	})
}

func TestEscalationRunMissingSettingsAborts(t *testing.T) {
	store := &fakeEscalationStore{
		tickets: []models.Ticket{{ID: 1, State: models.StateWaiting}},
	}
	sender := &fakeSender{}
	history := &fakeHistory{}

	esc := NewEscalations(store, sender, history, testConfig())
	stats, err := esc.Run(context.Background())

	require.NoError(t, err)
	assert.Zero(t, stats.TicketsChecked)
	assert.Empty(t, sender.sent)
	assert.Empty(t, store.marked)
	require.Len(t, history.runs, 1)
	assert.Equal(t, "escalations", history.runs[0].Mode)
}

func TestEscalationRunNotifiesAndMarks(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	store := &fakeEscalationStore{
		settings: testSettings(),
		tickets: []models.Ticket{
			{ID: 1, Name: "Error en reportes", State: models.StateWaiting,
				CustCode: "AC01", StateLastChanged: hoursAgo(now, 20)},
			{ID: 2, Name: "Caída del portal", State: models.StateNew,
				Priority: models.PriorityCritical, Assignee: "jperez",
				StateLastChanged: hoursAgo(now, 3)},
			{ID: 3, Name: "Consulta menor", State: models.StateNew,
				Priority: models.PriorityLow, StateLastChanged: hoursAgo(now, 1)},
		},
		clients: map[string]*models.Client{
			"AC01": {ID: 10, Code: "AC01", Name: "Acme SA", Email: "contacto@acme.cl"},
		},
		emails: map[string]string{"jperez": "jperez@innova.cl"},
	}
	sender := &fakeSender{}
	history := &fakeHistory{}

	esc := NewEscalations(store, sender, history, testConfig())
	esc.now = func() time.Time { return now }

	stats, err := esc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, stats.TicketsChecked)
	assert.Equal(t, 2, stats.NotificationsSent)
	assert.Zero(t, stats.Errors)

	require.Len(t, sender.sent, 2)
	assert.Equal(t, "contacto@acme.cl", sender.sent[0].To)
	assert.Contains(t, sender.sent[0].Subject, "Ticket #1")
	assert.Equal(t, "jperez@innova.cl", sender.sent[1].To)
	assert.Contains(t, sender.sent[1].Subject, "Ticket #2")

	assert.Equal(t, []int64{1, 2}, store.marked)
	assert.Equal(t, now.UTC(), store.markedAt)

	require.Len(t, history.records, 2)
	assert.Equal(t, models.StatusSent, history.records[0].Status)
	assert.Equal(t, models.WaitingResponseReminder, history.records[0].Type)
	assert.Equal(t, models.StateLimitExceeded, history.records[1].Type)
}

func TestEscalationRunSendFailureKeepsWatermark(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	store := &fakeEscalationStore{
		settings: testSettings(),
		tickets: []models.Ticket{
			{ID: 1, State: models.StateWaiting, CustCode: "AC01", StateLastChanged: hoursAgo(now, 20)},
		},
		clients: map[string]*models.Client{
			"AC01": {ID: 10, Code: "AC01", Email: "contacto@acme.cl"},
		},
	}
	sender := &fakeSender{failFor: map[string]error{"contacto@acme.cl": errSendFailed}}
	history := &fakeHistory{}

	esc := NewEscalations(store, sender, history, testConfig())
	esc.now = func() time.Time { return now }

	stats, err := esc.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, stats.NotificationsSent)
	assert.Equal(t, 1, stats.Errors)
	assert.Empty(t, store.marked)

	require.Len(t, history.records, 1)
	assert.Equal(t, models.StatusFailed, history.records[0].Status)
	assert.Equal(t, errSendFailed.Error(), history.records[0].Error)
}

func TestEscalationRunSkipsMissingRecipients(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	store := &fakeEscalationStore{
		settings: testSettings(),
		tickets: []models.Ticket{
			// Client unknown for the waiting ticket, assignee missing for the
			// escalated one.
			{ID: 1, State: models.StateWaiting, CustCode: "NOPE", StateLastChanged: hoursAgo(now, 20)},
			{ID: 2, State: models.StateNew, Priority: models.PriorityCritical, StateLastChanged: hoursAgo(now, 3)},
		},
	}
	sender := &fakeSender{}

	esc := NewEscalations(store, sender, &fakeHistory{}, testConfig())
	esc.now = func() time.Time { return now }

	stats, err := esc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Skipped)
	assert.Empty(t, sender.sent)
	assert.Empty(t, store.marked)
}

func TestEscalationRunDryRun(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	store := &fakeEscalationStore{
		settings: testSettings(),
		tickets: []models.Ticket{
			{ID: 1, State: models.StateWaiting, CustCode: "AC01", StateLastChanged: hoursAgo(now, 20)},
		},
		clients: map[string]*models.Client{
			"AC01": {ID: 10, Code: "AC01", Email: "contacto@acme.cl"},
		},
	}
	sender := &fakeSender{}
	history := &fakeHistory{}

	cfg := testConfig()
	cfg.DryRun = true
	esc := NewEscalations(store, sender, history, cfg)
	esc.now = func() time.Time { return now }

	stats, err := esc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.NotificationsSent)
	assert.Empty(t, sender.sent)
	assert.Empty(t, store.marked)

	require.Len(t, history.records, 1)
	assert.Equal(t, models.StatusDryRun, history.records[0].Status)
}
