package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/fleeteye/internal/alert"
	"github.com/fleeteye/internal/models"
	"github.com/gin-gonic/gin"
)

func (s *Server) listAlerts(c *gin.Context) {
	filter := alert.AlertFilter{
		ServerID:  c.Query("server_id"),
		Condition: models.Condition(c.Query("condition")),
		OpenOnly:  c.Query("open") == "true",
	}
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filter.Limit = n
		}
	}

	alerts, err := s.store.ListAlerts(filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list alerts"})
		return
	}
	c.JSON(http.StatusOK, alerts)
}

type operatorRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

func (s *Server) acknowledgeAlert(c *gin.Context) {
	var req operatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	a, err := s.store.Acknowledge(c.Param("id"), req.UserID, time.Now())
	if err != nil {
		if errors.Is(err, alert.ErrAlertNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to acknowledge alert"})
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) resolveAlert(c *gin.Context) {
	var req operatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	a, err := s.store.Resolve(c.Param("id"), req.UserID, time.Now())
	if err != nil {
		if errors.Is(err, alert.ErrAlertNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve alert"})
		return
	}
	c.JSON(http.StatusOK, a)
}
