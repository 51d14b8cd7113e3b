package tickets

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	app "github.com/mark3748/intranet-portal/cmd/api/app"
	authpkg "github.com/mark3748/intranet-portal/cmd/api/auth"
	metrics "github.com/mark3748/intranet-portal/cmd/api/metrics"
	"github.com/mark3748/intranet-portal/internal/lifecycle"
	"github.com/mark3748/intranet-portal/internal/sla"
)

// createTicketReq mirrors the JSON body for creating a ticket.
type createTicketReq struct {
	Title          string   `json:"title" binding:"required,min=3,max=200"`
	Description    string   `json:"description" binding:"max=10000"`
	Priority       string   `json:"priority"`
	CategoryID     *string  `json:"category_id" binding:"omitempty,uuid"`
	TargetSectorID string   `json:"target_sector_id" binding:"omitempty,uuid"`
	Tags           []string `json:"tags" binding:"max=20,dive,min=1,max=40"`
}

// Create opens a ticket and its first SLA cycle.
func Create(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := authpkg.MustActor(c)
		if !ok {
			return
		}
		var in createTicketReq
		if err := c.ShouldBindJSON(&in); err != nil {
			app.BindError(c, err)
			return
		}
		var prio sla.Priority
		if in.Priority != "" {
			p, err := sla.ParsePriority(in.Priority)
			if err != nil {
				app.AbortError(c, http.StatusBadRequest, "validation", "invalid request", map[string]string{"priority": "oneof"})
				return
			}
			prio = p
		}
		t, err := a.Svc.CreateTicket(c.Request.Context(), lifecycle.CreateInput{
			Title:          in.Title,
			Description:    in.Description,
			Priority:       prio,
			CategoryID:     in.CategoryID,
			TargetSectorID: in.TargetSectorID,
			Tags:           in.Tags,
		}, actor)
		if err != nil {
			app.Fail(c, err)
			return
		}
		metrics.TicketsCreatedTotal.Inc()
		c.JSON(http.StatusCreated, t)
	}
}

// List returns tickets visible to the caller. Filters: status and priority
// (comma separated), limit.
func List(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := authpkg.MustActor(c)
		if !ok {
			return
		}
		var f lifecycle.ListFilter
		for _, v := range splitQuery(c, "status") {
			s, err := lifecycle.ParseStatus(v)
			if err != nil {
				app.AbortError(c, http.StatusBadRequest, "validation", err.Error(), map[string]string{"status": "oneof"})
				return
			}
			f.Statuses = append(f.Statuses, s)
		}
		for _, v := range splitQuery(c, "priority") {
			p, err := sla.ParsePriority(v)
			if err != nil {
				app.AbortError(c, http.StatusBadRequest, "validation", err.Error(), map[string]string{"priority": "oneof"})
				return
			}
			f.Priorities = append(f.Priorities, p)
		}
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				app.AbortError(c, http.StatusBadRequest, "validation", "limit must be a number", map[string]string{"limit": "numeric"})
				return
			}
			f.Limit = n
		}
		out, err := a.Svc.ListTickets(c.Request.Context(), f, actor)
		if err != nil {
			app.Fail(c, err)
			return
		}
		if out == nil {
			out = []lifecycle.Ticket{}
		}
		c.JSON(http.StatusOK, out)
	}
}

func splitQuery(c *gin.Context, key string) []string {
	var out []string
	for _, raw := range c.QueryArray(key) {
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

// Get returns a ticket by id.
func Get(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := authpkg.MustActor(c)
		if !ok {
			return
		}
		t, err := a.Svc.GetTicket(c.Request.Context(), c.Param("id"), actor)
		if err != nil {
			app.Fail(c, err)
			return
		}
		c.JSON(http.StatusOK, t)
	}
}

type updateReq struct {
	Status   *string `json:"status"`
	Priority *string `json:"priority"`
	// CategoryID set to "" clears the category.
	CategoryID *string `json:"category_id"`
}

// Update changes priority, category and status, in that order. Each change
// goes through the lifecycle so SLA cycles follow along.
func Update(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := authpkg.MustActor(c)
		if !ok {
			return
		}
		var in updateReq
		if err := c.ShouldBindJSON(&in); err != nil {
			app.BindError(c, err)
			return
		}
		if in.Status == nil && in.Priority == nil && in.CategoryID == nil {
			app.AbortError(c, http.StatusBadRequest, "validation", "no fields", nil)
			return
		}
		var (
			status lifecycle.Status
			prio   sla.Priority
			err    error
		)
		if in.Status != nil {
			if status, err = lifecycle.ParseStatus(*in.Status); err != nil {
				app.AbortError(c, http.StatusBadRequest, "validation", err.Error(), map[string]string{"status": "oneof"})
				return
			}
		}
		if in.Priority != nil {
			if prio, err = sla.ParsePriority(*in.Priority); err != nil {
				app.AbortError(c, http.StatusBadRequest, "validation", err.Error(), map[string]string{"priority": "oneof"})
				return
			}
		}
		ctx, id := c.Request.Context(), c.Param("id")
		var t lifecycle.Ticket
		if in.Priority != nil {
			if t, err = a.Svc.UpdatePriority(ctx, id, prio, actor); err != nil {
				app.Fail(c, err)
				return
			}
		}
		if in.CategoryID != nil {
			var cat *string
			if *in.CategoryID != "" {
				cat = in.CategoryID
			}
			if t, err = a.Svc.UpdateCategory(ctx, id, cat, actor); err != nil {
				app.Fail(c, err)
				return
			}
		}
		if in.Status != nil {
			if t, err = a.Svc.UpdateStatus(ctx, id, status, actor); err != nil {
				app.Fail(c, err)
				return
			}
			metrics.TicketTransitionsTotal.WithLabelValues(string(status)).Inc()
		}
		c.JSON(http.StatusOK, t)
	}
}

// Cycles returns the ticket's SLA cycle history.
func Cycles(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := authpkg.MustActor(c)
		if !ok {
			return
		}
		out, err := a.Svc.Cycles(c.Request.Context(), c.Param("id"), actor)
		if err != nil {
			app.Fail(c, err)
			return
		}
		if out == nil {
			out = []sla.Cycle{}
		}
		c.JSON(http.StatusOK, out)
	}
}

// Events returns the ticket's history.
func Events(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := authpkg.MustActor(c)
		if !ok {
			return
		}
		out, err := a.Svc.History(c.Request.Context(), c.Param("id"), actor)
		if err != nil {
			app.Fail(c, err)
			return
		}
		if out == nil {
			out = []lifecycle.Event{}
		}
		c.JSON(http.StatusOK, out)
	}
}
