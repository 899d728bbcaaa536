package models

import (
	"math"
	"strings"
	"time"
)

// Ticket is the projection of a Cards row that the evaluators work with.
// Only LastEscalationSent is ever written back.
type Ticket struct {
	ID                 int64
	Name               string
	State              State
	Priority           Priority
	CustCode           string
	Assignee           string
	StateLastChanged   *time.Time
	LastEscalationSent *time.Time
}

// Client is the projection of a Customer row. LastAlertLevel is the tier
// watermark; SupportHoursConsumed is a cache refreshed by the evaluators and
// never read as a source of truth.
type Client struct {
	ID                   int64
	Code                 string
	Name                 string
	FantasyName          string
	Email                string
	Encargados           string
	SupportHours         float64
	SupportHoursConsumed float64
	LastAlertLevel       AlertTier
}

// DisplayName follows the original precedence: legal name, fantasy name, code.
func (c *Client) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	if c.FantasyName != "" {
		return c.FantasyName
	}
	return c.Code
}

// EncargadoNames splits the comma-separated contact list.
func (c *Client) EncargadoNames() []string {
	if strings.TrimSpace(c.Encargados) == "" {
		return nil
	}
	parts := strings.Split(c.Encargados, ",")
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			names = append(names, p)
		}
	}
	return names
}

// AdditionalApproved marks a ticket whose extra hours were quoted and approved
// by the client; activities linked to such a ticket are billed separately.
const AdditionalApproved = "Aprobado"

// Activity is a logged time entry. Start and End are clock times (offsets from
// midnight); an entry may cross midnight. TicketAdditionalStatus is joined in
// from the linked ticket, empty when the activity has no ticket.
type Activity struct {
	ID                     int64
	ClientID               int64
	TicketID               *int64
	Title                  string
	Detail                 string
	User                   string
	Date                   time.Time
	Start                  time.Duration
	End                    time.Duration
	TicketAdditionalStatus string
}

// Duration returns the entry length in hours, rounded to two decimals.
// An end before the start means the entry crossed midnight.
func (a *Activity) Duration() float64 {
	return SessionHours(a.Start, a.End)
}

// CountsAgainstSupport reports whether the entry consumes support-pool hours.
func (a *Activity) CountsAgainstSupport() bool {
	return a.TicketAdditionalStatus != AdditionalApproved
}

// SessionHours computes hours between two clock times, wrapping past midnight.
func SessionHours(start, end time.Duration) float64 {
	d := end - start
	if d < 0 {
		d += 24 * time.Hour
	}
	return math.Round(d.Hours()*100) / 100
}

// ConsumedHours sums the durations of all activities that count against the
// support pool.
func ConsumedHours(activities []Activity) float64 {
	var total float64
	for i := range activities {
		if activities[i].CountsAgainstSupport() {
			total += activities[i].Duration()
		}
	}
	return total
}

// AttentionFlowSettings is the singleton threshold configuration. All values
// are hours; zero disables the corresponding limit.
type AttentionFlowSettings struct {
	MaxTimeNew              int
	MaxTimePending          int
	MaxTimeTesting          int
	MaxTimeWaiting          int
	MaxTimePriorityLow      int
	MaxTimePriorityMedium   int
	MaxTimePriorityHigh     int
	MaxTimePriorityCritical int
}

// PriorityLimit returns the configured per-priority limit in hours, zero when
// none applies.
func (s *AttentionFlowSettings) PriorityLimit(p Priority) int {
	switch p {
	case PriorityLow:
		return s.MaxTimePriorityLow
	case PriorityMedium:
		return s.MaxTimePriorityMedium
	case PriorityHigh:
		return s.MaxTimePriorityHigh
	case PriorityCritical:
		return s.MaxTimePriorityCritical
	}
	return 0
}

// StateLimit returns the configured per-state limit in hours for the states
// that have one, zero otherwise.
func (s *AttentionFlowSettings) StateLimit(st State) int {
	switch st {
	case StateNew:
		return s.MaxTimeNew
	case StatePending:
		return s.MaxTimePending
	case StateTesting:
		return s.MaxTimeTesting
	case StateWaiting:
		return s.MaxTimeWaiting
	}
	return 0
}

// SMTPSettings is the singleton mail transport configuration row.
type SMTPSettings struct {
	Host     string
	Port     int
	Username string
	Password string
	UseTLS   bool
	UseSSL   bool
}

// NotificationType identifies what rule produced a notification.
type NotificationType string

const (
	WaitingResponseReminder NotificationType = "waiting_response_reminder"
	StateLimitExceeded      NotificationType = "state_limit_exceeded"
	SupportHoursTier        NotificationType = "support_hours_tier"
	SupportHoursManager     NotificationType = "support_hours_manager"
)

// NotificationStatus records the outcome of a single send attempt.
type NotificationStatus string

const (
	StatusSent   NotificationStatus = "sent"
	StatusFailed NotificationStatus = "failed"
	StatusDryRun NotificationStatus = "dry_run"
)

// NotificationRecord is one history row for the local audit database.
type NotificationRecord struct {
	RunID      string
	Type       NotificationType
	TargetKind string // "ticket" or "client"
	TargetID   int64
	TargetName string
	Recipient  string
	Subject    string
	Status     NotificationStatus
	Error      string
}

// AlertLevelUpdate is one pending Customer watermark/cache write, applied in
// a single transaction at the end of a sweep.
type AlertLevelUpdate struct {
	ClientID      int64
	Level         AlertTier
	ConsumedHours float64
}

// RunStats summarizes one evaluator run.
type RunStats struct {
	TicketsChecked    int
	ClientsChecked    int
	NotificationsSent int
	Skipped           int
	Errors            int
	Duration          time.Duration
}

// Merge folds another run's counters into this one.
func (s *RunStats) Merge(other RunStats) {
	s.TicketsChecked += other.TicketsChecked
	s.ClientsChecked += other.ClientsChecked
	s.NotificationsSent += other.NotificationsSent
	s.Skipped += other.Skipped
	s.Errors += other.Errors
	s.Duration += other.Duration
}
