package api

import (
	"net/http"

	"ShortsStudio-server/service"

	"github.com/gin-gonic/gin"
)

// 提交生图任务：POST /api/images，立即返回 job_id
func (h *Handler) SubmitImages(c *gin.Context) {
	var req service.ImageJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	jobID, err := h.Engine.Submit(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": jobID})
}

// 查询任务进度：GET /api/images/progress/:job_id
func (h *Handler) GetImageProgress(c *gin.Context) {
	snap, err := h.Engine.Progress(c.Param("job_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}
