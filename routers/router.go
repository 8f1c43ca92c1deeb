package routers

import (
	"net/http"

	"ShortsStudio-server/routers/api"

	"github.com/gin-gonic/gin"
)

func InitRouter(h *api.Handler, outputsDir string) *gin.Engine {
	r := gin.Default()
	r.Use(cors())
	if outputsDir != "" {
		r.Static("/outputs", outputsDir)
	}
	r.GET("/health", api.Health)
	v1 := r.Group("/api")
	{
		v1.GET("/home", h.HomeListing)
		v1.GET("/projects", h.ListProjects)
		v1.POST("/projects", h.CreateProject)
		v1.GET("/projects/:project_id", h.GetProject)
		v1.PATCH("/projects/:project_id", h.UpdateProject)
		v1.DELETE("/projects/:project_id", h.DeleteProject)
		v1.POST("/storyboard", h.GenerateStoryboard)
		v1.POST("/images", h.SubmitImages)
		v1.GET("/images/progress/:job_id", h.GetImageProgress)
		v1.POST("/video", h.ComposeVideo)
	}
	return r
}

// cors 允许任意来源
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
