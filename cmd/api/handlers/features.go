package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apppkg "github.com/mark3748/intranet-portal/cmd/api/app"
)

// Features reports simple capability flags the UI can use to toggle features.
func Features(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, fs := a.M.(*apppkg.FsObjectStore)
		c.JSON(http.StatusOK, gin.H{
			"attachments":        a.M != nil,
			"presigned_download": a.M != nil && !fs,
			"live_events":        a.Q != nil,
			"local_login":        a.Cfg.AuthMode == "local",
		})
	}
}
