package mailer

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"

	"github.com/rodriguezfdg-dev/Proyecto-FlowDesk/internal/models"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

var mailTemplates = template.Must(template.ParseFS(templatesFS, "templates/*.tmpl"))

// Message is a rendered notification ready for Send.
type Message struct {
	Subject string
	Body    string
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := mailTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

// BuildWaitingReminder renders the reminder sent to a customer whose ticket
// has been waiting on their response too long.
func BuildWaitingReminder(t *models.Ticket) (Message, error) {
	body, err := render("escalation_waiting.tmpl", map[string]any{
		"TicketName": t.Name,
	})
	if err != nil {
		return Message{}, err
	}

	return Message{
		Subject: fmt.Sprintf("Recordatorio: Ticket #%d en espera de su respuesta", t.ID),
		Body:    body,
	}, nil
}

// BuildLimitAlert renders the alert sent to an assignee whose ticket exceeded
// its time-in-state limit.
func BuildLimitAlert(t *models.Ticket, maxHours int) (Message, error) {
	body, err := render("escalation_limit.tmpl", map[string]any{
		"Assignee":   t.Assignee,
		"TicketName": t.Name,
		"Priority":   string(t.Priority),
		"State":      string(t.State),
		"MaxHours":   maxHours,
	})
	if err != nil {
		return Message{}, err
	}

	return Message{
		Subject: fmt.Sprintf("Alerta: Ticket #%d ha excedido el tiempo límite", t.ID),
		Body:    body,
	}, nil
}

type tierData struct {
	Icon           string
	Color          template.CSS
	ClientName     string
	Tier           int
	SupportHours   float64
	ConsumedHours  float64
	RemainingHours float64
	Percentage     float64
	Year           int
}

// BuildTierAlert renders the client-facing usage alert for a reached tier.
func BuildTierAlert(c *models.Client, tier models.AlertTier, percentage, consumed float64) (Message, error) {
	name := c.DisplayName()
	remaining := c.SupportHours - consumed
	if remaining < 0 {
		remaining = 0
	}

	data := tierData{
		ClientName:     name,
		Tier:           int(tier),
		SupportHours:   c.SupportHours,
		ConsumedHours:  consumed,
		RemainingHours: remaining,
		Percentage:     percentage,
		Year:           time.Now().Year(),
	}

	var subject string
	switch tier {
	case models.Tier120:
		subject = fmt.Sprintf("⚠️ %s: Has excedido tus horas de soporte en un %d%%", name, int(percentage-100))
		data.Icon, data.Color = "🔴", "#dc2626"
	case models.Tier100:
		subject = fmt.Sprintf("🔴 %s: Has agotado tus horas de soporte", name)
		data.Icon, data.Color = "🔴", "#dc2626"
	default:
		subject = fmt.Sprintf("⚠️ %s: Has consumido el %d%% de tus horas de soporte", name, int(percentage))
		data.Icon, data.Color = "⚠️", "#f59e0b"
	}

	body, err := render("hours_threshold.tmpl", data)
	if err != nil {
		return Message{}, err
	}

	return Message{Subject: subject, Body: body}, nil
}

// BuildManagerAlert renders the support-manager alert used by the real-time
// per-activity check.
func BuildManagerAlert(c *models.Client, tier models.AlertTier, percentage, consumed float64) (Message, error) {
	name := c.DisplayName()
	body, err := render("hours_manager.tmpl", map[string]any{
		"ClientName":    name,
		"ClientID":      c.ID,
		"Tier":          int(tier),
		"SupportHours":  c.SupportHours,
		"ConsumedHours": consumed,
		"Percentage":    percentage,
	})
	if err != nil {
		return Message{}, err
	}

	return Message{
		Subject: fmt.Sprintf("Alerta de Bolsa de Horas - Cliente %s al %d%%", name, int(tier)),
		Body:    body,
	}, nil
}
