package comments

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"

	app "github.com/mark3748/intranet-portal/cmd/api/app"
	authpkg "github.com/mark3748/intranet-portal/cmd/api/auth"
	"github.com/mark3748/intranet-portal/internal/lifecycle"
)

// bodies may carry simple formatting; scripts and event handlers are stripped
var policy = bluemonday.UGCPolicy()

// List returns the ticket's comments. Internal comments are only listed for
// admins.
func List(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := authpkg.MustActor(c)
		if !ok {
			return
		}
		out, err := a.Svc.ListComments(c.Request.Context(), c.Param("id"), actor)
		if err != nil {
			app.Fail(c, err)
			return
		}
		if out == nil {
			out = []lifecycle.Comment{}
		}
		c.JSON(http.StatusOK, out)
	}
}

type addReq struct {
	Body       string `json:"body" binding:"required,max=20000"`
	IsInternal bool   `json:"is_internal"`
}

// Add appends a comment. Requesters may only comment while the ticket waits
// on them.
func Add(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := authpkg.MustActor(c)
		if !ok {
			return
		}
		var in addReq
		if err := c.ShouldBindJSON(&in); err != nil {
			app.BindError(c, err)
			return
		}
		cm, err := a.Svc.AddComment(c.Request.Context(), c.Param("id"), actor, policy.Sanitize(in.Body), in.IsInternal)
		if err != nil {
			app.Fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, cm)
	}
}
