package api

import (
	"errors"
	"log"
	"net/http"

	"ShortsStudio-server/models"
	"ShortsStudio-server/service"

	"github.com/gin-gonic/gin"
)

// Handler HTTP 接口依赖的服务
type Handler struct {
	Projects   *service.ProjectService
	Storyboard *service.StoryboardService
	Engine     *service.Engine
	Video      *service.VideoComposer
	Home       *service.HomeService
}

// respondError 按错误类型映射状态码
func respondError(c *gin.Context, err error) {
	var upstream *service.UpstreamError
	var backend *service.BackendError
	switch {
	case errors.Is(err, models.ErrProjectNotFound), errors.Is(err, models.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, models.ErrInvalidState):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrJobInProgress), errors.Is(err, models.ErrProjectExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrProviderUnavailable), errors.Is(err, service.ErrLLMUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.As(err, &upstream), errors.As(err, &backend):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		log.Printf("[Error] %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
