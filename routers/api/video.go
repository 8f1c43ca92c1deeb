package api

import (
	"net/http"

	"ShortsStudio-server/service"

	"github.com/gin-gonic/gin"
)

// 图片序列合成视频：POST /api/video
func (h *Handler) ComposeVideo(c *gin.Context) {
	var req service.VideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := h.Video.Compose(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
