package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func registerRootRoutes(r *gin.Engine, info ServiceInfo) {
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, info)
	})
}
