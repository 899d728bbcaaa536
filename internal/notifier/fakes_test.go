package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/rodriguezfdg-dev/Proyecto-FlowDesk/internal/models"
)

type sentMail struct {
	To      string
	Subject string
	Body    string
}

type fakeSender struct {
	sent    []sentMail
	failFor map[string]error
}

func (f *fakeSender) Send(to, subject, htmlBody string) error {
	if err, ok := f.failFor[to]; ok {
		return err
	}
	f.sent = append(f.sent, sentMail{To: to, Subject: subject, Body: htmlBody})
	return nil
}

type recordedRun struct {
	RunID string
	Mode  string
	Stats models.RunStats
}

type fakeHistory struct {
	records []models.NotificationRecord
	runs    []recordedRun
}

func (f *fakeHistory) RecordNotification(rec models.NotificationRecord) error {
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeHistory) RecordRun(runID, mode string, stats models.RunStats) error {
	f.runs = append(f.runs, recordedRun{RunID: runID, Mode: mode, Stats: stats})
	return nil
}

type fakeEscalationStore struct {
	settings *models.AttentionFlowSettings
	tickets  []models.Ticket
	clients  map[string]*models.Client
	emails   map[string]string
	marked   []int64
	markedAt time.Time
}

func (f *fakeEscalationStore) AttentionFlowSettings(ctx context.Context) (*models.AttentionFlowSettings, error) {
	return f.settings, nil
}

func (f *fakeEscalationStore) OpenTickets(ctx context.Context) ([]models.Ticket, error) {
	return f.tickets, nil
}

func (f *fakeEscalationStore) ClientByCode(ctx context.Context, code string) (*models.Client, error) {
	return f.clients[code], nil
}

func (f *fakeEscalationStore) ContactEmail(ctx context.Context, user string) (string, error) {
	return f.emails[user], nil
}

func (f *fakeEscalationStore) MarkEscalationsSent(ctx context.Context, ticketIDs []int64, sentAt time.Time) error {
	f.marked = append(f.marked, ticketIDs...)
	f.markedAt = sentAt
	return nil
}

type fakeHoursStore struct {
	clients    []models.Client
	byID       map[int64]*models.Client
	activities map[int64][]models.Activity
	emails     map[string]string
	admins     []string
	managers   map[int64][]string
	overlap    bool

	updates      []models.AlertLevelUpdate
	usageClient  int64
	usageHours   float64
	usageLevel   models.AlertTier
	usageApplied bool
	inserted     []models.Activity
	nextID       int64
}

func (f *fakeHoursStore) ActiveClients(ctx context.Context) ([]models.Client, error) {
	return f.clients, nil
}

func (f *fakeHoursStore) ClientByID(ctx context.Context, id int64) (*models.Client, error) {
	return f.byID[id], nil
}

func (f *fakeHoursStore) ClientActivities(ctx context.Context, clientID int64) ([]models.Activity, error) {
	return f.activities[clientID], nil
}

func (f *fakeHoursStore) ContactEmail(ctx context.Context, user string) (string, error) {
	return f.emails[user], nil
}

func (f *fakeHoursStore) AdminEmails(ctx context.Context) ([]string, error) {
	return f.admins, nil
}

func (f *fakeHoursStore) SupportManagerEmails(ctx context.Context, clientID int64) ([]string, error) {
	return f.managers[clientID], nil
}

func (f *fakeHoursStore) ApplyAlertLevels(ctx context.Context, updates []models.AlertLevelUpdate) error {
	f.updates = append(f.updates, updates...)
	return nil
}

func (f *fakeHoursStore) SetClientUsage(ctx context.Context, clientID int64, consumed float64, level models.AlertTier) error {
	f.usageClient = clientID
	f.usageHours = consumed
	f.usageLevel = level
	f.usageApplied = true
	return nil
}

func (f *fakeHoursStore) HasOverlappingActivity(ctx context.Context, user string, date time.Time, start, end time.Duration) (bool, error) {
	return f.overlap, nil
}

func (f *fakeHoursStore) InsertActivity(ctx context.Context, a models.Activity) (int64, error) {
	f.nextID++
	f.inserted = append(f.inserted, a)
	return f.nextID, nil
}

var errSendFailed = fmt.Errorf("connection refused")
