package tickets

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apppkg "github.com/mark3748/intranet-portal/cmd/api/app"
	authpkg "github.com/mark3748/intranet-portal/cmd/api/auth"
)

type assigneesReq struct {
	UserIDs []string `json:"user_ids" binding:"max=20,dive,uuid"`
}

// SetAssignees replaces the ticket's assignees. Admin only.
func SetAssignees(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := authpkg.MustActor(c)
		if !ok {
			return
		}
		var in assigneesReq
		if err := c.ShouldBindJSON(&in); err != nil {
			apppkg.BindError(c, err)
			return
		}
		t, err := a.Svc.SetAssignees(c.Request.Context(), c.Param("id"), in.UserIDs, actor)
		if err != nil {
			apppkg.Fail(c, err)
			return
		}
		c.JSON(http.StatusOK, t)
	}
}

type deadlineReq struct {
	ResolutionDueAt time.Time `json:"resolution_due_at" binding:"required"`
	Reason          string    `json:"reason" binding:"max=500"`
}

// SetDeadline overrides the resolution deadline of the active SLA cycle.
func SetDeadline(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := authpkg.MustActor(c)
		if !ok {
			return
		}
		var in deadlineReq
		if err := c.ShouldBindJSON(&in); err != nil {
			apppkg.BindError(c, err)
			return
		}
		cyc, err := a.Svc.SetManualResolutionDeadline(c.Request.Context(), c.Param("id"), in.ResolutionDueAt, in.Reason, actor)
		if err != nil {
			apppkg.Fail(c, err)
			return
		}
		c.JSON(http.StatusOK, cyc)
	}
}
