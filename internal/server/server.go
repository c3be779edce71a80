package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"hallboard/internal/display"
	"hallboard/internal/pipeline"
	"hallboard/internal/store"
)

// Server exposes the thin HTTP layer over the pipeline: reminder
// creation, reminder listing and a manual update trigger. Validation
// happens here so the pipeline never sees malformed input.
type Server struct {
	store        *store.Store
	orchestrator *pipeline.Orchestrator
	apiToken     string
	log          *zap.Logger
}

// New creates a Server. An empty apiToken leaves the API open, which is
// only sensible on a private network.
func New(recordStore *store.Store, orchestrator *pipeline.Orchestrator, apiToken string, log *zap.Logger) *Server {
	return &Server{
		store:        recordStore,
		orchestrator: orchestrator,
		apiToken:     apiToken,
		log:          log,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	if s.apiToken != "" {
		api.Use(s.requireToken)
	}
	api.POST("/reminders", s.createReminder)
	api.GET("/reminders", s.listReminders)
	api.POST("/update", s.runUpdate)

	return router
}

func (s *Server) requireToken(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	if header == "" || token == header || token != s.apiToken {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing token"})
		return
	}
	c.Next()
}

type createReminderRequest struct {
	Date string `json:"date" binding:"required"`
	Text string `json:"text" binding:"required"`
}

// createReminder upserts the day's reminder and refreshes the display.
// The write is reported as successful once stored; the push outcome is
// returned as a separate flag.
func (s *Server) createReminder(c *gin.Context) {
	var req createReminderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date and text are required"})
		return
	}

	date, err := store.NormalizeDate(req.Date)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY/MM/DD or YYYY-MM-DD"})
		return
	}
	if len(req.Text) > display.MaxReminderTextLen {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text too long for the display"})
		return
	}

	event, err := s.store.UpsertEvent(c.Request.Context(), date, req.Text)
	if err != nil {
		s.log.Error("reminder upsert failed", zap.String("date", date), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store reminder"})
		return
	}

	run := s.orchestrator.RunOnDemand(c.Request.Context())
	c.JSON(http.StatusCreated, gin.H{
		"reminder": event,
		"pushed":   run.Success && run.Pushed,
	})
}

func (s *Server) listReminders(c *gin.Context) {
	date, err := store.NormalizeDate(c.Query("date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY/MM/DD or YYYY-MM-DD"})
		return
	}

	events, err := s.store.EventsByDate(c.Request.Context(), date)
	if err != nil {
		s.log.Error("reminder query failed", zap.String("date", date), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list reminders"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reminders": events})
}

// runUpdate forces a full scheduled run, useful after changing the
// property or device configuration.
func (s *Server) runUpdate(c *gin.Context) {
	result := s.orchestrator.RunScheduled(c.Request.Context())
	status := http.StatusOK
	if !result.Success {
		status = http.StatusInternalServerError
	}
	c.JSON(status, result)
}
