// Package notifications serves the in-app notification inbox filled by the
// SLA escalation scanner.
package notifications

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	app "github.com/mark3748/intranet-portal/cmd/api/app"
	authpkg "github.com/mark3748/intranet-portal/cmd/api/auth"
	"github.com/mark3748/intranet-portal/internal/lifecycle"
)

// Notification is one inbox entry.
type Notification struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Link      string          `json:"link,omitempty"`
	Data      json.RawMessage `json:"data"`
	ReadAt    *time.Time      `json:"read_at,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

const listSQL = `select id::text, type, title, message, coalesce(link,''), data, read_at, created_at
from notifications where user_id=$1 and ($2 = false or read_at is null)
order by created_at desc limit 100`

// List returns the caller's latest notifications; ?unread=true keeps only
// unread ones.
func List(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := authpkg.Current(c)
		if !ok {
			app.AbortError(c, http.StatusUnauthorized, "unauthenticated", "authentication required", nil)
			return
		}
		rows, err := a.DB.Query(c.Request.Context(), listSQL, u.ID, c.Query("unread") == "true")
		if err != nil {
			app.Fail(c, err)
			return
		}
		defer rows.Close()
		out := []Notification{}
		for rows.Next() {
			var n Notification
			var data []byte
			if err := rows.Scan(&n.ID, &n.Type, &n.Title, &n.Message, &n.Link, &data, &n.ReadAt, &n.CreatedAt); err != nil {
				app.Fail(c, err)
				return
			}
			n.Data = data
			out = append(out, n)
		}
		if err := rows.Err(); err != nil {
			app.Fail(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

// MarkRead marks one of the caller's notifications read. Notifications of
// other users are reported as not found.
func MarkRead(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := authpkg.Current(c)
		if !ok {
			app.AbortError(c, http.StatusUnauthorized, "unauthenticated", "authentication required", nil)
			return
		}
		tag, err := a.DB.Exec(c.Request.Context(), `update notifications set read_at=coalesce(read_at, now()) where id=$1 and user_id=$2`, c.Param("id"), u.ID)
		if err != nil {
			app.Fail(c, err)
			return
		}
		if tag.RowsAffected() == 0 {
			app.Fail(c, lifecycle.ErrNotFound)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// MarkAllRead clears the caller's unread notifications.
func MarkAllRead(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := authpkg.Current(c)
		if !ok {
			app.AbortError(c, http.StatusUnauthorized, "unauthenticated", "authentication required", nil)
			return
		}
		tag, err := a.DB.Exec(c.Request.Context(), `update notifications set read_at=now() where user_id=$1 and read_at is null`, u.ID)
		if err != nil {
			app.Fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"updated": tag.RowsAffected()})
	}
}
