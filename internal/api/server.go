package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/fleeteye/internal/alert"
	"github.com/fleeteye/internal/auth"
	"github.com/fleeteye/internal/monitor"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

type Server struct {
	db       *gorm.DB
	store    *alert.Store
	ingestor *monitor.Ingestor
	router   *gin.Engine
	secret   string
}

func NewServer(db *gorm.DB, store *alert.Store, ingestor *monitor.Ingestor, jwtSecret string) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		db:       db,
		store:    store,
		ingestor: ingestor,
		router:   gin.New(),
		secret:   jwtSecret,
	}
	s.router.Use(gin.Recovery())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api/v1")
	if s.secret != "" {
		api.Use(auth.Middleware(s.secret))
	}

	api.POST("/heartbeat", s.postHeartbeat)

	api.GET("/servers", s.listServers)
	api.GET("/servers/:id", s.getServer)
	api.GET("/servers/:id/metrics", s.getServerMetrics)
	api.GET("/alerts", s.listAlerts)

	// Fleet registry changes and alert actions are operator-only; agent
	// tokens can only push heartbeats and read.
	operator := api.Group("")
	if s.secret != "" {
		operator.Use(auth.RequireRole(auth.RoleOperator))
	}
	operator.POST("/servers", s.createServer)
	operator.PUT("/servers/:id", s.updateServer)
	operator.DELETE("/servers/:id", s.deleteServer)
	operator.PUT("/alerts/:id/acknowledge", s.acknowledgeAlert)
	operator.PUT("/alerts/:id/resolve", s.resolveAlert)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) Start(port int) error {
	return s.router.Run(fmt.Sprintf(":%d", port))
}

func (s *Server) postHeartbeat(c *gin.Context) {
	var hb monitor.Heartbeat
	if err := c.ShouldBindJSON(&hb); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.ingestor.Ingest(hb); err != nil {
		if errors.Is(err, monitor.ErrUnknownServer) {
			c.JSON(http.StatusNotFound, gin.H{"error": "server not registered"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}
