package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/fleeteye/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type serverRequest struct {
	Name              string `json:"name" binding:"required"`
	Category          string `json:"category"`
	TDPWatts          int    `json:"tdp_watts"`
	HeartbeatInterval int    `json:"heartbeat_interval"`
}

func (s *Server) createServer(c *gin.Context) {
	var req serverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.HeartbeatInterval <= 0 {
		req.HeartbeatInterval = 30
	}

	server := models.Server{
		ServerID:          uuid.NewString(),
		Name:              req.Name,
		Category:          req.Category,
		TDPWatts:          req.TDPWatts,
		HeartbeatInterval: req.HeartbeatInterval,
		Enabled:           true,
	}
	if err := s.db.Create(&server).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register server"})
		return
	}
	c.JSON(http.StatusCreated, server)
}

func (s *Server) listServers(c *gin.Context) {
	var servers []models.Server
	if err := s.db.Find(&servers).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list servers"})
		return
	}
	c.JSON(http.StatusOK, servers)
}

func (s *Server) getServer(c *gin.Context) {
	var server models.Server
	if err := s.db.First(&server, "server_id = ?", c.Param("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "server not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load server"})
		return
	}
	c.JSON(http.StatusOK, server)
}

func (s *Server) updateServer(c *gin.Context) {
	var server models.Server
	if err := s.db.First(&server, "server_id = ?", c.Param("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "server not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load server"})
		return
	}

	var req serverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	server.Name = req.Name
	server.Category = req.Category
	server.TDPWatts = req.TDPWatts
	if req.HeartbeatInterval > 0 {
		server.HeartbeatInterval = req.HeartbeatInterval
	}
	if err := s.db.Save(&server).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update server"})
		return
	}
	c.JSON(http.StatusOK, server)
}

func (s *Server) deleteServer(c *gin.Context) {
	result := s.db.Where("server_id = ?", c.Param("id")).Delete(&models.Server{})
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete server"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "server not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getServerMetrics(c *gin.Context) {
	query := s.db.Where("server_id = ?", c.Param("id"))

	if start := c.Query("start"); start != "" {
		if t, err := time.Parse(time.RFC3339, start); err == nil {
			query = query.Where("timestamp >= ?", t)
		}
	}
	if end := c.Query("end"); end != "" {
		if t, err := time.Parse(time.RFC3339, end); err == nil {
			query = query.Where("timestamp <= ?", t)
		}
	}
	limit := 500
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	var samples []models.MetricSample
	if err := query.Order("timestamp desc").Limit(limit).Find(&samples).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch samples"})
		return
	}
	c.JSON(http.StatusOK, samples)
}
