package api

import (
	"net/http"

	"ShortsStudio-server/models"

	"github.com/gin-gonic/gin"
)

// 创建项目：POST /api/projects
func (h *Handler) CreateProject(c *gin.Context) {
	var req struct {
		Title string `json:"title"`
		Mode  string `json:"mode"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	project, err := h.Projects.Create(c.Request.Context(), req.Title, req.Mode)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

// 项目列表：GET /api/projects
func (h *Handler) ListProjects(c *gin.Context) {
	projects, err := h.Projects.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects})
}

// 获取项目详情：GET /api/projects/:project_id
func (h *Handler) GetProject(c *gin.Context) {
	detail, err := h.Projects.Get(c.Request.Context(), c.Param("project_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// 局部更新项目状态：PATCH /api/projects/:project_id
// 只写入请求中出现的字段，image_progress 按键合并
func (h *Handler) UpdateProject(c *gin.Context) {
	var patch models.StatePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	detail, err := h.Projects.Patch(c.Request.Context(), c.Param("project_id"), patch)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// 删除项目：DELETE /api/projects/:project_id
func (h *Handler) DeleteProject(c *gin.Context) {
	projectID := c.Param("project_id")
	if err := h.Projects.Delete(c.Request.Context(), projectID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": projectID})
}
