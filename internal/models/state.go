package models

// State is a ticket lifecycle state. The original data uses Spanish labels;
// they are kept verbatim because they live in the shared database.
type State string

const (
	StateNew        State = "Nuevo"
	StatePending    State = "Pendiente"
	StateInProgress State = "En proceso"
	StateTesting    State = "En pruebas"
	StateWaiting    State = "Esperando respuesta"
	StateClosed     State = "Cerrado"
	StateFinished   State = "Terminado"
)

// transitions is the fixed adjacency table for manual state changes.
var transitions = map[State][]State{
	StateNew:        {StatePending},
	StatePending:    {StateInProgress, StateTesting, StateClosed},
	StateInProgress: {StatePending, StateTesting, StateClosed, StateWaiting},
	StateTesting:    {StateClosed, StateInProgress, StatePending, StateWaiting},
	StateClosed:     {StatePending, StateInProgress, StateTesting, StateWaiting},
	StateWaiting:    {StateInProgress, StateTesting, StateClosed, StatePending},
}

// Normalize folds the legacy "Terminado" label into "Cerrado".
func (s State) Normalize() State {
	if s == StateFinished {
		return StateClosed
	}
	return s
}

// Terminal reports whether the ticket is closed for escalation purposes.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFinished
}

// CanTransitionTo reports whether a manual change from s to next is allowed by
// the adjacency table. Unknown source states are rejected.
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range transitions[s.Normalize()] {
		if allowed == next.Normalize() {
			return true
		}
	}
	return false
}

// Priority is a ticket priority label.
type Priority string

const (
	PriorityLow      Priority = "Baja"
	PriorityMedium   Priority = "Media"
	PriorityHigh     Priority = "Alta"
	PriorityCritical Priority = "Crítica"
)

// ParsePriority maps a raw database value to a Priority, tolerating the
// accent-less "Critica" spelling present in legacy rows. Unknown values are
// returned as-is so they simply match no configured limit.
func ParsePriority(raw string) Priority {
	if raw == "Critica" {
		return PriorityCritical
	}
	return Priority(raw)
}

// AlertTier is a support-hours usage threshold, in percent of the contracted
// pool. TierNone means no threshold reached.
type AlertTier int

const (
	TierNone AlertTier = 0
	Tier80   AlertTier = 80
	Tier100  AlertTier = 100
	Tier120  AlertTier = 120
)

// TierFor returns the highest tier reached by a usage percentage.
func TierFor(percentage float64) AlertTier {
	switch {
	case percentage >= 120:
		return Tier120
	case percentage >= 100:
		return Tier100
	case percentage >= 80:
		return Tier80
	}
	return TierNone
}
