package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apppkg "github.com/mark3748/intranet-portal/cmd/api/app"
	authpkg "github.com/mark3748/intranet-portal/cmd/api/auth"
	"github.com/mark3748/intranet-portal/internal/audit"
)

// NotificationCategory switches a family of in-app notifications on or off.
type NotificationCategory struct {
	Key     string `json:"key"`
	Enabled bool   `json:"enabled"`
}

// ListNotificationCategories returns every category row.
func ListNotificationCategories(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		out := []NotificationCategory{}
		if a.DB == nil {
			c.JSON(http.StatusOK, out)
			return
		}
		rows, err := a.DB.Query(c.Request.Context(), `select key, enabled from notification_categories order by key`)
		if err != nil {
			apppkg.Fail(c, err)
			return
		}
		defer rows.Close()
		for rows.Next() {
			var nc NotificationCategory
			if err := rows.Scan(&nc.Key, &nc.Enabled); err != nil {
				apppkg.Fail(c, err)
				return
			}
			out = append(out, nc)
		}
		c.JSON(http.StatusOK, out)
	}
}

type toggleReq struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SetNotificationCategory turns a category on or off. Disabling
// "ticket_status" silences SLA escalation notifications.
func SetNotificationCategory(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in toggleReq
		if err := c.ShouldBindJSON(&in); err != nil {
			apppkg.BindError(c, err)
			return
		}
		nc := NotificationCategory{Key: c.Param("key"), Enabled: *in.Enabled}
		if a.DB != nil {
			if _, err := a.DB.Exec(c.Request.Context(), `insert into notification_categories (key, enabled) values ($1, $2)
                on conflict (key) do update set enabled = excluded.enabled`, nc.Key, nc.Enabled); err != nil {
				apppkg.Fail(c, err)
				return
			}
		}
		u, _ := authpkg.Current(c)
		ri := audit.FromContext(c.Request.Context())
		audit.Log(c.Request.Context(), a.Audit, audit.Entry{ActorID: u.ID, EntityType: "notification_category", EntityID: nc.Key,
			Action: "update", Diff: nc, IP: ri.IP, UA: ri.UA})
		c.JSON(http.StatusOK, nc)
	}
}
