package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// 首页概览：GET /api/home
func (h *Handler) HomeListing(c *gin.Context) {
	listing, err := h.Home.Listing(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
