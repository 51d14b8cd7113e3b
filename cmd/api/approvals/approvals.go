// Package approvals exposes the approval gate of tickets whose category
// requires sign-off.
package approvals

import (
	"net/http"

	"github.com/gin-gonic/gin"

	app "github.com/mark3748/intranet-portal/cmd/api/app"
	authpkg "github.com/mark3748/intranet-portal/cmd/api/auth"
	metrics "github.com/mark3748/intranet-portal/cmd/api/metrics"
	"github.com/mark3748/intranet-portal/internal/lifecycle"
)

// Get returns the ticket's latest approval.
func Get(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := authpkg.MustActor(c)
		if !ok {
			return
		}
		ap, err := a.Svc.LatestApproval(c.Request.Context(), c.Param("id"), actor)
		if err != nil {
			app.Fail(c, err)
			return
		}
		c.JSON(http.StatusOK, ap)
	}
}

// Pending lists the tickets waiting on the caller's decision.
func Pending(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := authpkg.MustActor(c)
		if !ok {
			return
		}
		out, err := a.Svc.PendingApprovals(c.Request.Context(), actor)
		if err != nil {
			app.Fail(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

type decideReq struct {
	Decision string `json:"decision" binding:"required,oneof=approve reject"`
	Note     string `json:"note" binding:"max=2000"`
}

// Decide records the caller's verdict on the pending approval.
func Decide(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := authpkg.MustActor(c)
		if !ok {
			return
		}
		var in decideReq
		if err := c.ShouldBindJSON(&in); err != nil {
			app.BindError(c, err)
			return
		}
		ap, err := a.Svc.DecideApproval(c.Request.Context(), c.Param("id"), actor, lifecycle.Decision(in.Decision), in.Note)
		if err != nil {
			app.Fail(c, err)
			return
		}
		metrics.ApprovalDecisionsTotal.WithLabelValues(in.Decision).Inc()
		c.JSON(http.StatusOK, ap)
	}
}
