package api

import (
	"net/http"

	"ShortsStudio-server/service"

	"github.com/gin-gonic/gin"
)

// 生成分镜和提示词：POST /api/storyboard
func (h *Handler) GenerateStoryboard(c *gin.Context) {
	var req service.StoryboardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := h.Storyboard.Generate(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
