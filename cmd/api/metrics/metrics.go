// Package metrics exposes helpdesk Prometheus counters and the SLA
// attainment report.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	app "github.com/mark3748/intranet-portal/cmd/api/app"
)

var (
	TicketsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "portal_tickets_created_total",
		Help: "Tickets opened through the API",
	})
	TicketTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_ticket_transitions_total",
		Help: "Ticket status changes by target status",
	}, []string{"to"})
	ApprovalDecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_approval_decisions_total",
		Help: "Approval decisions by verdict",
	}, []string{"decision"})
	AttachmentsUploadedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "portal_attachments_uploaded_total",
		Help: "Attachments stored",
	})
)

func init() {
	prometheus.MustRegister(TicketsCreatedTotal, TicketTransitionsTotal, ApprovalDecisionsTotal, AttachmentsUploadedTotal)
}

// Attainment summarizes closed cycles in a period.
type Attainment struct {
	Since              time.Time `json:"since"`
	Closed             int       `json:"closed"`
	FirstResponseMet   int       `json:"first_response_met"`
	ResolutionMet      int       `json:"resolution_met"`
	FirstResponseRatio float64   `json:"first_response_ratio"`
	ResolutionRatio    float64   `json:"resolution_ratio"`
}

const attainmentSQL = `select count(*),
    count(*) filter (where first_response_at is not null and not first_response_breached),
    count(*) filter (where not resolution_breached)
from ticket_sla_cycles where resolved_at is not null and resolved_at >= $1`

// SLA reports how many cycles closed within their targets. The window is
// ?days=N, default 30.
func SLA(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		days := 30
		if v, ok := c.GetQuery("days"); ok {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 || n > 366 {
				app.AbortError(c, http.StatusBadRequest, "validation", "days must be between 1 and 366", map[string]string{"days": "range"})
				return
			}
			days = n
		}
		out := Attainment{Since: time.Now().UTC().AddDate(0, 0, -days).Truncate(24 * time.Hour)}
		if a.DB != nil {
			if err := a.DB.QueryRow(c.Request.Context(), attainmentSQL, out.Since).Scan(&out.Closed, &out.FirstResponseMet, &out.ResolutionMet); err != nil {
				app.Fail(c, err)
				return
			}
		}
		if out.Closed > 0 {
			out.FirstResponseRatio = float64(out.FirstResponseMet) / float64(out.Closed)
			out.ResolutionRatio = float64(out.ResolutionMet) / float64(out.Closed)
		}
		c.JSON(http.StatusOK, out)
	}
}

// TicketVolume counts tickets per status.
func TicketVolume(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		out := map[string]int{}
		if a.DB == nil {
			c.JSON(http.StatusOK, out)
			return
		}
		rows, err := a.DB.Query(c.Request.Context(), `select status, count(*) from tickets group by status`)
		if err != nil {
			app.Fail(c, err)
			return
		}
		defer rows.Close()
		for rows.Next() {
			var status string
			var n int
			if err := rows.Scan(&status, &n); err != nil {
				app.Fail(c, err)
				return
			}
			out[status] = n
		}
		c.JSON(http.StatusOK, out)
	}
}
