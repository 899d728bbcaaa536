package notifier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rodriguezfdg-dev/Proyecto-FlowDesk/internal/models"
)

// supportActivities builds workday entries summing to the given hours.
func supportActivities(totalHours int) []models.Activity {
	var out []models.Activity
	for totalHours > 0 {
		h := totalHours
		if h > 8 {
			h = 8
		}
		out = append(out, models.Activity{
			Start: 9 * time.Hour,
			End:   time.Duration(9+h) * time.Hour,
		})
		totalHours -= h
	}
	return out
}

func TestEvaluateUsage(t *testing.T) {
	c := &models.Client{SupportHours: 100}

	u := evaluateUsage(c, supportActivities(85))
	assert.Equal(t, 85.0, u.Consumed)
	assert.Equal(t, 85.0, u.Percentage)
	assert.Equal(t, models.Tier80, u.Tier)

	u = evaluateUsage(c, supportActivities(130))
	assert.Equal(t, models.Tier120, u.Tier)

	u = evaluateUsage(c, nil)
	assert.Equal(t, models.TierNone, u.Tier)
}

func TestEvaluateUsageExcludesApprovedAdditional(t *testing.T) {
	c := &models.Client{SupportHours: 100}

	activities := supportActivities(70)
	extra := supportActivities(60)
	for i := range extra {
		extra[i].TicketAdditionalStatus = models.AdditionalApproved
	}
	activities = append(activities, extra...)

	u := evaluateUsage(c, activities)
	assert.Equal(t, 70.0, u.Consumed)
	assert.Equal(t, models.TierNone, u.Tier)
}

func TestEvaluateUsageNoContractedHours(t *testing.T) {
	c := &models.Client{SupportHours: 0}
	u := evaluateUsage(c, supportActivities(40))
	assert.Equal(t, 40.0, u.Consumed)
	assert.Zero(t, u.Percentage)
	assert.Equal(t, models.TierNone, u.Tier)
}

func TestHoursRunFiresHighestNewTierOnce(t *testing.T) {
	store := &fakeHoursStore{
		clients: []models.Client{
			{ID: 10, Code: "AC01", Name: "Acme SA", Email: "contacto@acme.cl",
				Encargados: "mlopez", SupportHours: 100, LastAlertLevel: models.Tier80},
		},
		activities: map[int64][]models.Activity{10: supportActivities(130)},
		emails:     map[string]string{"mlopez": "mlopez@acme.cl"},
		admins:     []string{"admin@innova.cl"},
	}
	sender := &fakeSender{}
	history := &fakeHistory{}

	h := NewHours(store, sender, history, testConfig())
	stats, err := h.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.ClientsChecked)
	assert.Equal(t, 3, stats.NotificationsSent)

	// Jumping from the 80 watermark past 130% fires only the 120 tier.
	require.Len(t, sender.sent, 3)
	assert.Equal(t, "contacto@acme.cl", sender.sent[0].To)
	assert.Equal(t, "mlopez@acme.cl", sender.sent[1].To)
	assert.Equal(t, "admin@innova.cl", sender.sent[2].To)
	assert.Contains(t, sender.sent[0].Subject, "excedido")
	assert.Equal(t, "[ADMIN] "+sender.sent[0].Subject, sender.sent[2].Subject)

	require.Len(t, store.updates, 1)
	assert.Equal(t, int64(10), store.updates[0].ClientID)
	assert.Equal(t, models.Tier120, store.updates[0].Level)
	assert.Equal(t, 130.0, store.updates[0].ConsumedHours)
}

func TestHoursRunIdempotentAfterWatermark(t *testing.T) {
	store := &fakeHoursStore{
		clients: []models.Client{
			{ID: 10, Email: "contacto@acme.cl", SupportHours: 100, LastAlertLevel: models.Tier120},
		},
		activities: map[int64][]models.Activity{10: supportActivities(130)},
	}
	sender := &fakeSender{}

	h := NewHours(store, sender, &fakeHistory{}, testConfig())
	stats, err := h.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, stats.NotificationsSent)
	assert.Empty(t, sender.sent)
	assert.Empty(t, store.updates)
}

func TestHoursRunSkipsWithoutRecipients(t *testing.T) {
	store := &fakeHoursStore{
		clients: []models.Client{
			{ID: 10, SupportHours: 100}, // no email, no encargados
		},
		activities: map[int64][]models.Activity{10: supportActivities(90)},
	}
	sender := &fakeSender{}

	h := NewHours(store, sender, &fakeHistory{}, testConfig())
	stats, err := h.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Skipped)
	assert.Empty(t, sender.sent)
	// Watermark must not advance, the next run retries the alert.
	assert.Empty(t, store.updates)
}

func TestHoursRunDryRun(t *testing.T) {
	store := &fakeHoursStore{
		clients: []models.Client{
			{ID: 10, Email: "contacto@acme.cl", SupportHours: 100},
		},
		activities: map[int64][]models.Activity{10: supportActivities(90)},
	}
	sender := &fakeSender{}
	history := &fakeHistory{}

	cfg := testConfig()
	cfg.DryRun = true
	h := NewHours(store, sender, history, cfg)

	_, err := h.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, sender.sent)
	assert.Empty(t, store.updates)
	require.Len(t, history.records, 1)
	assert.Equal(t, models.StatusDryRun, history.records[0].Status)
}

func TestActivityLoggedNotifiesManagers(t *testing.T) {
	client := &models.Client{ID: 10, Name: "Acme SA", SupportHours: 100, LastAlertLevel: models.TierNone}
	store := &fakeHoursStore{
		byID:       map[int64]*models.Client{10: client},
		activities: map[int64][]models.Activity{10: supportActivities(85)},
		managers:   map[int64][]string{10: {"soporte1@innova.cl", "soporte2@innova.cl"}},
	}
	sender := &fakeSender{}

	h := NewHours(store, sender, &fakeHistory{}, testConfig())
	tier, err := h.ActivityLogged(context.Background(), client)
	require.NoError(t, err)

	assert.Equal(t, models.Tier80, tier)
	require.Len(t, sender.sent, 2)
	assert.Contains(t, sender.sent[0].Subject, "Bolsa de Horas")

	assert.True(t, store.usageApplied)
	assert.Equal(t, int64(10), store.usageClient)
	assert.Equal(t, 85.0, store.usageHours)
	assert.Equal(t, models.Tier80, store.usageLevel)

	// The in-memory client reflects the write-back.
	assert.Equal(t, 85.0, client.SupportHoursConsumed)
	assert.Equal(t, models.Tier80, client.LastAlertLevel)
}

func TestActivityLoggedWithoutManagersKeepsWatermark(t *testing.T) {
	client := &models.Client{ID: 10, SupportHours: 100, LastAlertLevel: models.TierNone}
	store := &fakeHoursStore{
		byID:       map[int64]*models.Client{10: client},
		activities: map[int64][]models.Activity{10: supportActivities(85)},
	}
	sender := &fakeSender{}

	h := NewHours(store, sender, &fakeHistory{}, testConfig())
	tier, err := h.ActivityLogged(context.Background(), client)
	require.NoError(t, err)

	assert.Equal(t, models.TierNone, tier)
	assert.Empty(t, sender.sent)

	// Consumed hours cache still refreshes even when no alert went out.
	assert.True(t, store.usageApplied)
	assert.Equal(t, 85.0, store.usageHours)
	assert.Equal(t, models.TierNone, store.usageLevel)
}

func TestLogActivity(t *testing.T) {
	base := ActivityInput{
		ClientID: 10,
		Title:    "Revisión de logs",
		User:     "jperez",
		Date:     time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		Start:    9 * time.Hour,
		End:      11 * time.Hour,
	}

	t.Run("rejects unknown client", func(t *testing.T) {
		store := &fakeHoursStore{byID: map[int64]*models.Client{}}
		h := NewHours(store, &fakeSender{}, &fakeHistory{}, testConfig())

		_, _, err := h.LogActivity(context.Background(), base)
		assert.ErrorContains(t, err, "not found")
	})

	t.Run("rejects zero duration", func(t *testing.T) {
		store := &fakeHoursStore{
			byID: map[int64]*models.Client{10: {ID: 10, SupportHours: 100}},
		}
		h := NewHours(store, &fakeSender{}, &fakeHistory{}, testConfig())

		in := base
		in.End = in.Start
		_, _, err := h.LogActivity(context.Background(), in)
		assert.ErrorContains(t, err, "end time")
		assert.Empty(t, store.inserted)
	})

	t.Run("rejects overlapping entries", func(t *testing.T) {
		store := &fakeHoursStore{
			byID:    map[int64]*models.Client{10: {ID: 10, SupportHours: 100}},
			overlap: true,
		}
		h := NewHours(store, &fakeSender{}, &fakeHistory{}, testConfig())

		_, _, err := h.LogActivity(context.Background(), base)
		assert.ErrorContains(t, err, "overlaps")
		assert.Empty(t, store.inserted)
	})

	t.Run("records and runs the threshold check", func(t *testing.T) {
		store := &fakeHoursStore{
			byID:       map[int64]*models.Client{10: {ID: 10, SupportHours: 100}},
			activities: map[int64][]models.Activity{10: supportActivities(85)},
			managers:   map[int64][]string{10: {"soporte1@innova.cl"}},
		}
		sender := &fakeSender{}
		h := NewHours(store, sender, &fakeHistory{}, testConfig())

		activity, tier, err := h.LogActivity(context.Background(), base)
		require.NoError(t, err)

		assert.Equal(t, int64(1), activity.ID)
		assert.Equal(t, 2.0, activity.Duration())
		require.Len(t, store.inserted, 1)
		assert.Equal(t, "jperez", store.inserted[0].User)

		assert.Equal(t, models.Tier80, tier)
		require.Len(t, sender.sent, 1)
	})
}
