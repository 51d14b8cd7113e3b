// Package escalation raises SLA risk and breach alerts for active ticket
// cycles and fans them out as in-app notifications.
package escalation

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/mark3748/intranet-portal/internal/sla"
)

// NotificationCategory is the notification setting that gates the scan.
const NotificationCategory = "ticket_status"

// Candidate is a ticket whose latest cycle is still open.
type Candidate struct {
	TicketID string
	Title    string
	Cycle    sla.Cycle
}

// Notification is one in-app notification for one recipient.
type Notification struct {
	UserID  string         `json:"user_id"`
	Type    string         `json:"type"`
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Link    string         `json:"link"`
	Data    map[string]any `json:"data"`
}

// Store is the persistence the scanner reads and writes.
type Store interface {
	NotificationCategoryEnabled(ctx context.Context, key string) (bool, error)
	// ActiveCycles lists tickets in an active status whose latest cycle is unresolved.
	ActiveCycles(ctx context.Context) ([]Candidate, error)
	// InsertAlertOnce reports whether this (ticket, cycle, alert) was recorded
	// for the first time. An existing row is not an error.
	InsertAlertOnce(ctx context.Context, ticketID string, cycle int, alert sla.AlertType, at time.Time) (bool, error)
	AssigneeIDs(ctx context.Context, ticketID string) ([]string, error)
	AdminIDs(ctx context.Context) ([]string, error)
	InsertNotifications(ctx context.Context, ns []Notification) error
	// MarkBreached sets the given breach flags on a cycle. Flags are never cleared.
	MarkBreached(ctx context.Context, ticketID string, cycle int, first, resolution bool) error
}

// Result summarizes one scan.
type Result struct {
	At            time.Time `json:"at"`
	Skipped       bool      `json:"skipped"`
	Scanned       int       `json:"scanned"`
	Paused        int       `json:"paused"`
	Alerts        int       `json:"alerts"`
	Notifications int       `json:"notifications"`
	Failures      int       `json:"failures"`
}

var (
	scansTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sla_scans_total",
		Help: "SLA escalation scans by outcome",
	}, []string{"outcome"})
	alertsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sla_alerts_total",
		Help: "SLA alerts raised by type",
	}, []string{"type"})
	notificationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sla_alert_notifications_total",
		Help: "Notifications written for SLA alerts",
	})
)

func init() { prometheus.MustRegister(scansTotal, alertsTotal, notificationsTotal) }

type message struct {
	title string
	body  *template.Template
}

var messages = map[sla.AlertType]message{
	sla.AlertFirstRisk:   {"Primeira resposta em risco", template.Must(template.New("fr").Parse(`O chamado "{{.Title}}" está próximo do prazo de primeira resposta ({{.Due}}).`))},
	sla.AlertFirstBreach: {"Primeira resposta atrasada", template.Must(template.New("fb").Parse(`O chamado "{{.Title}}" ultrapassou o prazo de primeira resposta ({{.Due}}).`))},
	sla.AlertResRisk:     {"Resolução em risco", template.Must(template.New("rr").Parse(`O chamado "{{.Title}}" está próximo do prazo de resolução ({{.Due}}).`))},
	sla.AlertResBreach:   {"Resolução atrasada", template.Must(template.New("rb").Parse(`O chamado "{{.Title}}" ultrapassou o prazo de resolução ({{.Due}}).`))},
}

// Link is the deep link of a ticket in the portal.
func Link(ticketID string) string { return "/helpdesk/tickets/" + ticketID }

// Scanner evaluates every active cycle against its deadlines.
type Scanner struct {
	Store      Store
	RiskWindow time.Duration
	// Location formats due dates in messages.
	Location *time.Location
}

// NewScanner returns a scanner using the default risk window and calendar zone.
func NewScanner(st Store) *Scanner {
	return &Scanner{Store: st, RiskWindow: sla.RiskWindow, Location: sla.DefaultCalendar().Location}
}

// Scan runs one pass at now. Failures on one ticket are logged and counted;
// they never abort the pass.
func (s *Scanner) Scan(ctx context.Context, now time.Time) (Result, error) {
	res := Result{At: now}
	enabled, err := s.Store.NotificationCategoryEnabled(ctx, NotificationCategory)
	if err != nil {
		scansTotal.WithLabelValues("error").Inc()
		return res, fmt.Errorf("notification category: %w", err)
	}
	if !enabled {
		res.Skipped = true
		scansTotal.WithLabelValues("skipped").Inc()
		return res, nil
	}
	cands, err := s.Store.ActiveCycles(ctx)
	if err != nil {
		scansTotal.WithLabelValues("error").Inc()
		return res, fmt.Errorf("active cycles: %w", err)
	}
	window := s.RiskWindow
	if window <= 0 {
		window = sla.RiskWindow
	}
	var admins []string
	adminsLoaded := false
	for _, cand := range cands {
		res.Scanned++
		if cand.Cycle.Paused() {
			res.Paused++
			continue
		}
		alerts := cand.Cycle.Evaluate(now, window)
		if len(alerts) == 0 {
			continue
		}
		if !adminsLoaded {
			// assignees are still notified when the admin lookup fails
			admins, err = s.Store.AdminIDs(ctx)
			if err != nil {
				res.Failures++
				log.Error().Err(err).Msg("sla escalation admin ids")
				admins = nil
			}
			adminsLoaded = true
		}
		n, raised, err := s.escalate(ctx, cand, alerts, admins, now)
		res.Alerts += raised
		res.Notifications += n
		if err != nil {
			res.Failures++
			log.Error().Err(err).Str("ticket", cand.TicketID).Int("cycle", cand.Cycle.Number).Msg("sla escalation")
		}
	}
	scansTotal.WithLabelValues("ok").Inc()
	return res, nil
}

func (s *Scanner) escalate(ctx context.Context, cand Candidate, alerts []sla.AlertType, admins []string, now time.Time) (int, int, error) {
	c := cand.Cycle
	var first, resolution bool
	for _, a := range alerts {
		switch a {
		case sla.AlertFirstBreach:
			first = !c.FirstResponseBreached
		case sla.AlertResBreach:
			resolution = !c.ResolutionBreached
		}
	}
	if first || resolution {
		if err := s.Store.MarkBreached(ctx, cand.TicketID, c.Number, first, resolution); err != nil {
			return 0, 0, fmt.Errorf("mark breached: %w", err)
		}
	}

	var recipients []string
	written, raised := 0, 0
	for _, a := range alerts {
		fresh, err := s.Store.InsertAlertOnce(ctx, cand.TicketID, c.Number, a, now)
		if err != nil {
			return written, raised, fmt.Errorf("dedup %s: %w", a, err)
		}
		if !fresh {
			continue
		}
		raised++
		alertsTotal.WithLabelValues(string(a)).Inc()
		log.Info().Str("ticket", cand.TicketID).Int("cycle", c.Number).Str("alert", string(a)).Msg("sla alert")
		if recipients == nil {
			assignees, err := s.Store.AssigneeIDs(ctx, cand.TicketID)
			if err != nil {
				return written, raised, fmt.Errorf("assignees: %w", err)
			}
			recipients = union(assignees, admins)
		}
		ns, err := s.notifications(cand, a, recipients)
		if err != nil {
			return written, raised, err
		}
		if len(ns) == 0 {
			continue
		}
		if err := s.Store.InsertNotifications(ctx, ns); err != nil {
			return written, raised, fmt.Errorf("notifications %s: %w", a, err)
		}
		written += len(ns)
		notificationsTotal.Add(float64(len(ns)))
	}
	return written, raised, nil
}

func (s *Scanner) notifications(cand Candidate, a sla.AlertType, recipients []string) ([]Notification, error) {
	m, ok := messages[a]
	if !ok {
		return nil, fmt.Errorf("no message for alert %s", a)
	}
	due := cand.Cycle.ResolutionDueAt
	if a == sla.AlertFirstBreach || a == sla.AlertFirstRisk {
		due = cand.Cycle.FirstResponseDueAt
	}
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	var buf bytes.Buffer
	if err := m.body.Execute(&buf, struct{ Title, Due string }{cand.Title, due.In(loc).Format("02/01/2006 15:04")}); err != nil {
		return nil, fmt.Errorf("render %s: %w", a, err)
	}
	out := make([]Notification, 0, len(recipients))
	for _, uid := range recipients {
		out = append(out, Notification{
			UserID:  uid,
			Type:    NotificationCategory,
			Title:   m.title,
			Message: buf.String(),
			Link:    Link(cand.TicketID),
			Data: map[string]any{
				"alertType":   string(a),
				"ticketId":    cand.TicketID,
				"cycleNumber": cand.Cycle.Number,
			},
		})
	}
	return out, nil
}

func union(lists ...[]string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, l := range lists {
		for _, id := range l {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
