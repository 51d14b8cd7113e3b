package sectors

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apppkg "github.com/mark3748/intranet-portal/cmd/api/app"
	sectorsvc "github.com/mark3748/intranet-portal/internal/sectors"
)

// List returns all sectors.
func List(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		sectors, err := sectorsvc.List(c.Request.Context(), a.DB)
		if err != nil {
			apppkg.Fail(c, err)
			return
		}
		c.JSON(http.StatusOK, sectors)
	}
}

// Members lists the users of a sector with their roles, so the approver UI
// can show who coordinates it.
func Members(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		members, err := sectorsvc.Members(c.Request.Context(), a.DB, c.Param("id"))
		if err != nil {
			apppkg.Fail(c, err)
			return
		}
		c.JSON(http.StatusOK, members)
	}
}
