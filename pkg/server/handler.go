package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/export"
	"github.com/mikeboe/deep-research/pkg/history"
	"github.com/mikeboe/deep-research/pkg/metrics"
	"github.com/mikeboe/deep-research/pkg/pipeline"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/session"
)

// StreamEvent represents a single event in the research stream
type StreamEvent struct {
	Type    string `json:"type"` // "progress", "record", "error", "done"
	Payload any    `json:"payload"`
}

type Progress struct {
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

type ResearchRequest struct {
	Topic string `json:"topic"`
}

type Handler struct {
	Service *Service
	Metrics *metrics.Metrics

	mcpMu       sync.RWMutex
	mcpSessions map[string]*MCPSession
}

func NewHandler(s *Service, m *metrics.Metrics) *Handler {
	return &Handler{Service: s, Metrics: m, mcpSessions: make(map[string]*MCPSession)}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.POST("/mcp", h.MCPHandler)
	if h.Metrics != nil {
		r.GET("/metrics", gin.WrapH(h.Metrics.Handler()))
	}

	api := r.Group("/api")
	{
		api.GET("/modes", h.listModes)

		api.POST("/sessions", h.createSession)
		api.GET("/sessions/:id", h.getSession)
		api.GET("/sessions/:id/config", h.getConfig)
		api.PUT("/sessions/:id/config", h.updateConfig)
		api.POST("/sessions/:id/research", h.research)
		api.GET("/sessions/:id/history", h.getHistory)
		api.GET("/sessions/:id/history/latest", h.getLatest)
		api.GET("/sessions/:id/history/:rid/export/:format", h.exportRecord)
		api.GET("/sessions/:id/archive", h.getArchive)

		api.GET("/runs/:id/logs", h.getRunLogs)
	}
}

func (h *Handler) listModes(c *gin.Context) {
	modes := []gin.H{}
	for _, m := range []session.ResearchMode{session.Fast, session.Standard, session.Deep} {
		modes = append(modes, gin.H{
			"mode":           m,
			"description":    m.Description(),
			"estimated_time": m.EstimatedTime(),
		})
	}
	c.JSON(http.StatusOK, modes)
}

func (h *Handler) createSession(c *gin.Context) {
	var req ConfigRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	sess, err := h.Service.CreateSession(req)
	if err != nil {
		c.JSON(configStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, NewSessionView(sess))
}

func (h *Handler) getSession(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, NewSessionView(sess))
}

func (h *Handler) getConfig(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, SessionConfigView(sess))
}

func (h *Handler) updateConfig(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req ConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := h.Service.UpdateConfig(id, req)
	if err != nil {
		c.JSON(configStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, SessionConfigView(sess))
}

// research runs a submission. Clients that accept text/event-stream get
// progress events followed by the record; others get the record as JSON.
func (h *Handler) research(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	var req ResearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !strings.Contains(c.GetHeader("Accept"), "text/event-stream") {
		rec, err := h.Service.Research(c.Request.Context(), sess.ID, req.Topic, nil)
		if err != nil {
			c.JSON(statusFor(err), NewErrorBody(err, DebugEnabled(sess)))
			return
		}
		c.JSON(http.StatusOK, rec)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	var mu sync.Mutex
	observer := research.ProgressFunc(func(percent int, message string) {
		mu.Lock()
		defer mu.Unlock()
		writeEvent(c, StreamEvent{Type: "progress", Payload: Progress{Percent: percent, Message: message}})
	})

	rec, err := h.Service.Research(c.Request.Context(), sess.ID, req.Topic, observer)

	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		writeEvent(c, StreamEvent{Type: "error", Payload: NewErrorBody(err, DebugEnabled(sess))})
		return
	}
	writeEvent(c, StreamEvent{Type: "record", Payload: rec})
	writeEvent(c, StreamEvent{Type: "done", Payload: "done"})
}

func writeEvent(c *gin.Context, event StreamEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	_, _ = c.Writer.Write([]byte("data: "))
	_, _ = c.Writer.Write(data)
	_, _ = c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}

func (h *Handler) getHistory(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	records, err := h.Service.History(id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if records == nil {
		records = []history.ResearchRecord{}
	}
	c.JSON(http.StatusOK, records)
}

func (h *Handler) getLatest(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	rec, err := h.Service.Latest(id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) exportRecord(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	recordID, ok := parseID(c, "rid")
	if !ok {
		return
	}
	format, err := export.ParseFormat(c.Param("format"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	body, fileName, err := h.Service.Export(id, recordID, format)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+fileName+`"`)
	c.Data(http.StatusOK, format.ContentType()+"; charset=utf-8", []byte(body))
}

func (h *Handler) getArchive(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	records, err := h.Service.Archive(c.Request.Context(), id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if records == nil {
		records = []history.ResearchRecord{}
	}
	c.JSON(http.StatusOK, records)
}

func (h *Handler) getRunLogs(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	logs, err := h.Service.RunLogs(c.Request.Context(), id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if logs == nil {
		logs = []database.LogEntry{}
	}
	c.JSON(http.StatusOK, logs)
}

func (h *Handler) session(c *gin.Context) (*session.Session, bool) {
	id, ok := parseID(c, "id")
	if !ok {
		return nil, false
	}
	sess, err := h.Service.GetSession(id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return nil, false
	}
	return sess, true
}

func parseID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
		return uuid.Nil, false
	}
	return id, true
}

func statusFor(err error) int {
	var (
		cfgErr   *session.ConfigurationError
		stateErr *session.InvalidStateError
		pipeErr  *pipeline.PipelineError
	)
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, ErrNoDatabase):
		return http.StatusNotImplemented
	case errors.As(err, &cfgErr), errors.As(err, &stateErr), errors.Is(err, session.ErrOutOfRange):
		return http.StatusBadRequest
	case errors.As(err, &pipeErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// configStatus treats unclassified errors as bad input.
func configStatus(err error) int {
	if status := statusFor(err); status != http.StatusInternalServerError {
		return status
	}
	return http.StatusBadRequest
}
