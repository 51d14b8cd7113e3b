package tickets

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	app "github.com/mark3748/intranet-portal/cmd/api/app"
	"github.com/mark3748/intranet-portal/internal/lifecycle"
)

// CategoryLister is implemented by store.Store.
type CategoryLister interface {
	ListCategories(ctx context.Context) ([]lifecycle.Category, error)
}

// Categories lists ticket categories with their approval configuration.
func Categories(cl CategoryLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := cl.ListCategories(c.Request.Context())
		if err != nil {
			app.Fail(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}
