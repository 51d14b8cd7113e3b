package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/mark3748/intranet-portal/cmd/api/ws"
)

// RoleUser is the minimal interface required for role-based filtering.
type RoleUser interface {
	GetRoles() []string
}

// Events streams live ticket events as server-sent events, for clients that
// cannot hold a websocket.
func Events(rdb *redis.Client) gin.HandlerFunc {
	return events(rdb, 15*time.Second, 32)
}

// events writes a ":hb" comment every heartbeat and keeps at most backlog
// undelivered messages; older ones are dropped when the client is slow.
func events(rdb *redis.Client, heartbeat time.Duration, backlog int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rdb == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "events not available"})
			return
		}
		uVal, ok := c.Get("user")
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		user, ok := uVal.(RoleUser)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid user"})
			return
		}
		isAdmin := hasRole(user.GetRoles(), "admin")

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		flusher, ok := c.Writer.(http.Flusher)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}

		ctx := c.Request.Context()
		sub := rdb.Subscribe(ctx, ws.Channel)
		defer sub.Close()
		ch := sub.Channel(redis.WithChannelSize(backlog))

		tick := time.NewTicker(heartbeat)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				fmt.Fprint(c.Writer, ":hb\n\n")
				flusher.Flush()
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev ws.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				if !ws.Visible(ev.Type, isAdmin) {
					continue
				}
				fmt.Fprintf(c.Writer, "event: %s\n", ev.Type)
				fmt.Fprintf(c.Writer, "data: %s\n\n", msg.Payload)
				flusher.Flush()
			}
		}
	}
}

func hasRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
