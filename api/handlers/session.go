// Package handlers provides HTTP API request handlers.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/telnet-web-access/backend/internal/history"
	"github.com/telnet-web-access/backend/internal/model"
	"github.com/telnet-web-access/backend/internal/repository"
	"github.com/telnet-web-access/backend/internal/session"
)

// maxHistoryDownload caps the bytes parameter of the history endpoint.
const maxHistoryDownload = 1 << 20

// SessionStore reads session audit records.
type SessionStore interface {
	GetByID(ctx context.Context, id string) (*model.Session, error)
	List(ctx context.Context, opts repository.ListOptions) ([]*model.Session, error)
}

// LiveSessions reports the sessions currently running.
type LiveSessions interface {
	Snapshot() []session.LiveSession
}

// SessionHandler handles HTTP requests for session records and history.
type SessionHandler struct {
	store        SessionStore // nil when auditing is disabled
	live         LiveSessions
	history      history.Resolver
	recordingDir string
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(store SessionStore, live LiveSessions, resolver history.Resolver, recordingDir string) *SessionHandler {
	return &SessionHandler{
		store:        store,
		live:         live,
		history:      resolver,
		recordingDir: recordingDir,
	}
}

// SessionResponse represents a session record in API responses.
type SessionResponse struct {
	ID        string `json:"id"`
	Key       string `json:"key"`
	ClientID  string `json:"clientId,omitempty"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Status    string `json:"status"`
	BytesIn   int64  `json:"bytesIn"`
	BytesOut  int64  `json:"bytesOut"`
	Error     string `json:"error,omitempty"`
	Duration  string `json:"duration"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func toSessionResponse(s *model.Session) *SessionResponse {
	return &SessionResponse{
		ID:        s.ID,
		Key:       s.Key,
		ClientID:  s.ClientID,
		Host:      s.Host,
		Port:      s.Port,
		Status:    string(s.Status),
		BytesIn:   s.BytesIn,
		BytesOut:  s.BytesOut,
		Error:     s.Error,
		Duration:  formatDuration(s.Duration()),
		CreatedAt: s.CreatedAt.Format(time.RFC3339),
		UpdatedAt: s.UpdatedAt.Format(time.RFC3339),
	}
}

// formatDuration formats a duration rounded to the second.
func formatDuration(d time.Duration) string {
	return d.Round(time.Second).String()
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

func (h *SessionHandler) requireStore(c *gin.Context) bool {
	if h.store == nil {
		sendError(c, http.StatusServiceUnavailable, "AUDIT_DISABLED", "Session auditing is disabled")
		return false
	}
	return true
}

// List handles GET /api/sessions - lists audit records.
// Query: host, port, status, limit.
func (h *SessionHandler) List(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}

	opts := repository.ListOptions{
		Host:   c.Query("host"),
		Status: model.SessionStatus(c.Query("status")),
		Limit:  100,
	}
	if v := c.Query("port"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port < 1 || port > 65535 {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid port: "+v)
			return
		}
		opts.Port = port
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid limit: "+v)
			return
		}
		opts.Limit = limit
	}

	sessions, err := h.store.List(c.Request.Context(), opts)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list sessions: "+err.Error())
		return
	}

	response := make([]*SessionResponse, len(sessions))
	for i, sess := range sessions {
		response[i] = toSessionResponse(sess)
	}
	c.JSON(http.StatusOK, gin.H{"sessions": response})
}

// Get handles GET /api/sessions/:id - returns one audit record.
func (h *SessionHandler) Get(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}

	sessionID := c.Param("id")
	sess, err := h.store.GetByID(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Session "+sessionID+" not found")
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get session: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, toSessionResponse(sess))
}

// Live handles GET /api/sessions/live - lists running sessions.
func (h *SessionHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.live.Snapshot()})
}

// GetRecording handles GET /api/sessions/:id/recording - downloads the asciicast.
func (h *SessionHandler) GetRecording(c *gin.Context) {
	if h.recordingDir == "" {
		sendError(c, http.StatusNotFound, "RECORDING_DISABLED", "Session recording is disabled")
		return
	}

	sessionID := c.Param("id")
	if filepath.Base(sessionID) != sessionID {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid session ID")
		return
	}

	path := filepath.Join(h.recordingDir, sessionID+".cast")
	if _, err := os.Stat(path); err != nil {
		sendError(c, http.StatusNotFound, "RECORDING_NOT_FOUND", "Recording not found for session "+sessionID)
		return
	}

	c.Header("Content-Type", "application/x-asciicast")
	c.Header("Content-Disposition", "attachment; filename="+sessionID+".cast")
	c.File(path)
}

// History handles GET /api/history/:host/:port?bytes=N - returns the raw
// history tail of an endpoint.
func (h *SessionHandler) History(c *gin.Context) {
	ep, err := model.ParseEndpoint(c.Param("host"), c.Param("port"))
	if err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	n := history.DefaultReplayBytes
	if v := c.Query("bytes"); v != "" {
		n, err = strconv.Atoi(v)
		if err != nil || n < 0 {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid bytes: "+v)
			return
		}
		n = min(n, maxHistoryDownload)
	}

	store, ok := h.history.Lookup(ep)
	if !ok {
		c.Data(http.StatusOK, "application/octet-stream", []byte{})
		return
	}

	tail, err := store.Tail(c.Request.Context(), n)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "STORAGE_ERROR", "Failed to read history: "+err.Error())
		return
	}

	c.Data(http.StatusOK, "application/octet-stream", tail)
}

// RegisterRoutes registers the session and history routes.
func (h *SessionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	sessions := rg.Group("/sessions")
	{
		sessions.GET("", h.List)
		sessions.GET("/live", h.Live)
		sessions.GET("/:id", h.Get)
		sessions.GET("/:id/recording", h.GetRecording)
	}
	rg.GET("/history/:host/:port", h.History)
}
