package slas

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apppkg "github.com/mark3748/intranet-portal/cmd/api/app"
	authpkg "github.com/mark3748/intranet-portal/cmd/api/auth"
	"github.com/mark3748/intranet-portal/internal/audit"
	slapkg "github.com/mark3748/intranet-portal/internal/sla"
)

// List returns SLA policies.
func List(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		slas, err := slapkg.ListPolicies(c.Request.Context(), a.DB)
		if err != nil {
			apppkg.Fail(c, err)
			return
		}
		c.JSON(http.StatusOK, slas)
	}
}

type upsertReq struct {
	FirstResponseMinutes int   `json:"first_response_minutes" binding:"required,min=1,max=525600"`
	ResolutionMinutes    int   `json:"resolution_minutes" binding:"required,min=1,max=525600"`
	IsActive             *bool `json:"is_active"`
}

// Upsert replaces the policy of the :priority in the path. New cycles pick it
// up; open cycles keep their deadlines.
func Upsert(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		prio, err := slapkg.ParsePriority(c.Param("priority"))
		if err != nil {
			apppkg.AbortError(c, http.StatusNotFound, "not_found", err.Error(), nil)
			return
		}
		var in upsertReq
		if err := c.ShouldBindJSON(&in); err != nil {
			apppkg.BindError(c, err)
			return
		}
		if in.ResolutionMinutes < in.FirstResponseMinutes {
			apppkg.AbortError(c, http.StatusBadRequest, "validation", "resolution target must not precede first response",
				map[string]string{"resolution_minutes": "gtefield"})
			return
		}
		p := slapkg.Policy{Priority: prio, FirstResponseMinutes: in.FirstResponseMinutes, ResolutionMinutes: in.ResolutionMinutes, IsActive: true}
		if in.IsActive != nil {
			p.IsActive = *in.IsActive
		}
		ctx := c.Request.Context()
		if err := slapkg.UpsertPolicy(ctx, a.DB, p); err != nil {
			apppkg.Fail(c, err)
			return
		}
		u, _ := authpkg.Current(c)
		ri := audit.FromContext(ctx)
		audit.Log(ctx, a.Audit, audit.Entry{ActorID: u.ID, EntityType: "sla_policy", EntityID: string(prio), Action: "update", Diff: p, IP: ri.IP, UA: ri.UA})
		c.JSON(http.StatusOK, p)
	}
}
