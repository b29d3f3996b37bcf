package gin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jassus213/go-lockout/guard"
)

// RegisterAdmin mounts the administrative endpoints on r:
//
//	GET    /limits/:policy/blocked
//	POST   /limits/:policy/principals/:principal/block
//	DELETE /limits/:policy/principals/:principal
//
// Requests must carry "Authorization: Bearer <token>" unless token is empty.
func RegisterAdmin(r gin.IRouter, admin *guard.Admin, token string) {
	grp := r.Group("/limits", func(c *gin.Context) {
		if !guard.Authorized(c.Request, token) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, guard.NewUnauthorized())
			return
		}
		c.Next()
	})

	grp.GET("", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"policies": admin.Policies()})
	})

	grp.GET("/:policy/blocked", func(c *gin.Context) {
		entries, err := admin.Blocked(c.Request.Context(), c.Param("policy"))
		if err != nil {
			adminError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"policy": c.Param("policy"), "blocked": entries})
	})

	grp.POST("/:policy/principals/:principal/block", func(c *gin.Context) {
		var req guard.BlockRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
			return
		}
		if err := admin.Block(c.Request.Context(), c.Param("policy"), c.Param("principal"), req); err != nil {
			adminError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	grp.DELETE("/:policy/principals/:principal", func(c *gin.Context) {
		if err := admin.Unblock(c.Request.Context(), c.Param("policy"), c.Param("principal")); err != nil {
			adminError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})
}

func adminError(c *gin.Context, err error) {
	c.JSON(guard.AdminStatus(err), gin.H{"message": err.Error()})
}
