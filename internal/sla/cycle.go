package sla

import "time"

// AlertType names an escalation alert raised for a cycle.
type AlertType string

const (
	AlertFirstBreach AlertType = "FIRST_BREACH"
	AlertFirstRisk   AlertType = "FIRST_RISK"
	AlertResBreach   AlertType = "RES_BREACH"
	AlertResRisk     AlertType = "RES_RISK"
)

// RiskWindow is the lookahead inside which a due date counts as at risk.
const RiskWindow = 4 * time.Hour

// Cycle is one attempt at resolving a ticket. Cycles are append-only per
// ticket; the one with the highest Number is the only one that may still have
// a nil ResolvedAt.
type Cycle struct {
	TicketID              string     `json:"ticket_id"`
	Number                int        `json:"cycle_number"`
	OpenedAt              time.Time  `json:"opened_at"`
	FirstResponseDueAt    time.Time  `json:"first_response_due_at"`
	FirstResponseAt       *time.Time `json:"first_response_at,omitempty"`
	FirstResponseBreached bool       `json:"first_response_breached"`
	ResolutionDueAt       time.Time  `json:"resolution_due_at"`
	ResolvedAt            *time.Time `json:"resolved_at,omitempty"`
	ResolutionBreached    bool       `json:"resolution_breached"`
	PausedAt              *time.Time `json:"paused_at,omitempty"`
	ManualOverride        bool       `json:"manual_override"`
	OverrideReason        *string    `json:"override_reason,omitempty"`
	OverrideBy            *string    `json:"override_by,omitempty"`
	OverrideAt            *time.Time `json:"override_at,omitempty"`
}

// NewCycle opens cycle number for ticketID at openedAt.
func NewCycle(ticketID string, number int, openedAt time.Time, due DueDates) Cycle {
	return Cycle{
		TicketID:           ticketID,
		Number:             number,
		OpenedAt:           openedAt,
		FirstResponseDueAt: due.FirstResponseDueAt,
		ResolutionDueAt:    due.ResolutionDueAt,
	}
}

func (c Cycle) Active() bool { return c.ResolvedAt == nil }

func (c Cycle) Paused() bool { return c.PausedAt != nil }

// RecordFirstResponse stamps the first response once. It reports whether the
// cycle changed.
func (c *Cycle) RecordFirstResponse(now time.Time) bool {
	if c.FirstResponseAt != nil || !c.Active() {
		return false
	}
	t := now
	c.FirstResponseAt = &t
	if now.After(c.FirstResponseDueAt) {
		c.FirstResponseBreached = true
	}
	return true
}

// Resolve stamps the resolution once. It reports whether the cycle changed.
func (c *Cycle) Resolve(now time.Time) bool {
	if !c.Active() {
		return false
	}
	t := now
	c.ResolvedAt = &t
	c.PausedAt = nil
	if now.After(c.ResolutionDueAt) {
		c.ResolutionBreached = true
	}
	return true
}

// Close ends the cycle without a resolution (cancellation). Breach flags keep
// whatever value they already had.
func (c *Cycle) Close(now time.Time) bool {
	if !c.Active() {
		return false
	}
	t := now
	c.ResolvedAt = &t
	c.PausedAt = nil
	return true
}

func (c *Cycle) Pause(now time.Time) {
	if c.PausedAt == nil && c.Active() {
		t := now
		c.PausedAt = &t
	}
}

// Resume clears the pause. Deadlines are not shifted by the paused span.
func (c *Cycle) Resume() { c.PausedAt = nil }

// OverrideResolutionDue replaces the resolution deadline of this cycle only.
func (c *Cycle) OverrideResolutionDue(due time.Time, reason, by string, now time.Time) {
	c.ResolutionDueAt = due
	c.ManualOverride = true
	if reason != "" {
		r := reason
		c.OverrideReason = &r
	} else {
		c.OverrideReason = nil
	}
	u := by
	c.OverrideBy = &u
	t := now
	c.OverrideAt = &t
}

// Evaluate returns the alerts that apply to an active, unpaused cycle at now.
func (c Cycle) Evaluate(now time.Time, riskWindow time.Duration) []AlertType {
	if !c.Active() || c.Paused() {
		return nil
	}
	var out []AlertType
	if c.FirstResponseAt == nil {
		if now.After(c.FirstResponseDueAt) {
			out = append(out, AlertFirstBreach)
		} else if c.FirstResponseDueAt.Sub(now) < riskWindow {
			out = append(out, AlertFirstRisk)
		}
	}
	if now.After(c.ResolutionDueAt) {
		out = append(out, AlertResBreach)
	} else if c.ResolutionDueAt.Sub(now) < riskWindow {
		out = append(out, AlertResRisk)
	}
	return out
}
