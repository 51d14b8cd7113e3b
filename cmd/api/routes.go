package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	app "github.com/mark3748/intranet-portal/cmd/api/app"
	"github.com/mark3748/intranet-portal/cmd/api/approvals"
	"github.com/mark3748/intranet-portal/cmd/api/attachments"
	"github.com/mark3748/intranet-portal/cmd/api/auth"
	"github.com/mark3748/intranet-portal/cmd/api/comments"
	"github.com/mark3748/intranet-portal/cmd/api/handlers"
	"github.com/mark3748/intranet-portal/cmd/api/metrics"
	"github.com/mark3748/intranet-portal/cmd/api/notifications"
	"github.com/mark3748/intranet-portal/cmd/api/sectors"
	"github.com/mark3748/intranet-portal/cmd/api/slas"
	"github.com/mark3748/intranet-portal/cmd/api/tickets"
	"github.com/mark3748/intranet-portal/cmd/api/users"
	"github.com/mark3748/intranet-portal/cmd/api/ws"
	"github.com/mark3748/intranet-portal/internal/ratelimit"
)

// deps are the optional collaborators routes need besides the App.
type deps struct {
	Hub        *ws.Hub
	Presigner  attachments.Presigner
	Categories tickets.CategoryLister
	Login      *ratelimit.Limiter
	Uploads    *ratelimit.Limiter
}

func routes(a *app.App, d deps) {
	r := a.R
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/features", handlers.Features(a))

	if a.Cfg.AuthMode == "local" {
		r.POST("/login", auth.Login(a, d.Login))
		r.POST("/logout", auth.Logout())
	}

	g := r.Group("/")
	g.Use(auth.Middleware(a))
	admin := auth.RequireRole(auth.RoleAdmin)

	g.GET("/me", auth.Me)
	g.GET("/me/profile", users.GetProfile(a))
	g.PATCH("/me/profile", users.UpdateProfile(a))
	g.POST("/me/password", users.ChangePassword(a))
	g.GET("/notifications", notifications.List(a))
	g.POST("/notifications/read-all", notifications.MarkAllRead(a))
	g.POST("/notifications/:id/read", notifications.MarkRead(a))

	g.GET("/events", handlers.Events(a.Q))
	if d.Hub != nil {
		g.GET("/ws", ws.Serve(d.Hub, func(c *gin.Context) bool {
			u, _ := auth.Current(c)
			return u.IsAdmin()
		}))
	}

	if d.Categories != nil {
		g.GET("/categories", tickets.Categories(d.Categories))
	}
	g.GET("/tickets", tickets.List(a))
	g.POST("/tickets", tickets.Create(a))
	g.GET("/tickets/:id", tickets.Get(a))
	g.PATCH("/tickets/:id", admin, tickets.Update(a))
	g.PUT("/tickets/:id/assignees", admin, tickets.SetAssignees(a))
	g.PUT("/tickets/:id/sla/deadline", admin, tickets.SetDeadline(a))
	g.GET("/tickets/:id/sla", tickets.Cycles(a))
	g.GET("/tickets/:id/events", tickets.Events(a))

	g.GET("/tickets/:id/comments", comments.List(a))
	g.POST("/tickets/:id/comments", comments.Add(a))

	g.GET("/tickets/:id/attachments", attachments.List(a))
	g.POST("/tickets/:id/attachments", d.Uploads.Middleware(userKey), attachments.Upload(a))
	g.GET("/tickets/:id/attachments/:attID", attachments.Download(a, d.Presigner))
	g.DELETE("/tickets/:id/attachments/:attID", attachments.Delete(a))

	g.GET("/approvals/pending", approvals.Pending(a))
	g.GET("/tickets/:id/approval", approvals.Get(a))
	g.POST("/tickets/:id/approval/decision", approvals.Decide(a))

	g.GET("/sectors", sectors.List(a))
	g.GET("/sectors/:id/members", sectors.Members(a))

	g.GET("/slas", slas.List(a))
	g.PUT("/slas/:priority", admin, slas.Upsert(a))

	g.GET("/users", admin, users.List(a))
	g.POST("/users", admin, users.CreateLocal(a))
	g.GET("/users/:id", admin, users.Get(a))
	g.PUT("/users/:id/roles", admin, users.SetRoles(a))
	g.GET("/roles", admin, users.ListRoles(a))

	g.GET("/settings/notification-categories", admin, handlers.ListNotificationCategories(a))
	g.PUT("/settings/notification-categories/:key", admin, handlers.SetNotificationCategory(a))

	g.GET("/metrics/sla", admin, metrics.SLA(a))
	g.GET("/metrics/tickets", admin, metrics.TicketVolume(a))
}

func userKey(c *gin.Context) string {
	u, _ := auth.Current(c)
	return u.ID
}
