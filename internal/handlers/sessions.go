package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"dev.ragsuite.platform/internal/database"
	"dev.ragsuite.platform/internal/domain"
)

// SessionDirectory is the persisted-session surface behind the CRUD
// routes. Both chat variants share one store.
type SessionDirectory interface {
	List(ctx context.Context, projectID string) ([]domain.SessionSummary, error)
	Create(ctx context.Context, params database.CreateSessionParams) (*domain.SessionRecord, error)
	Get(ctx context.Context, sessionID string) (*domain.SessionRecord, error)
	Update(ctx context.Context, sessionID string, params database.UpdateSessionParams) (*domain.SessionRecord, error)
	Delete(ctx context.Context, sessionID string) error
}

// CreateSessionRequest opens a persistent session under a project.
type CreateSessionRequest struct {
	ProjectID           string   `json:"project_id"`
	Title               string   `json:"title,omitempty"`
	SelectedDocumentIDs []string `json:"selected_document_ids,omitempty"`
}

// UpdateSessionRequest patches individual session fields. Absent fields
// stay untouched.
type UpdateSessionRequest struct {
	ProjectID           *string              `json:"project_id,omitempty"`
	Title               *string              `json:"title,omitempty"`
	SelectedDocumentIDs *[]string            `json:"selected_document_ids,omitempty"`
	SelectedSourceID    *string              `json:"selected_source_id,omitempty"`
	LatestResponse      *domain.ChatResponse `json:"latest_response,omitempty"`
	Messages            *[]domain.Message    `json:"messages,omitempty"`
}

// SessionHandler serves session CRUD for the orchestrator UI.
type SessionHandler struct {
	sessions SessionDirectory
	logger   *logrus.Logger
}

// NewSessionHandler creates the session handler.
func NewSessionHandler(sessions SessionDirectory, logger *logrus.Logger) *SessionHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &SessionHandler{sessions: sessions, logger: logger}
}

// RegisterRoutes mounts the session routes on a /v1 group.
func (h *SessionHandler) RegisterRoutes(router *gin.RouterGroup) {
	sessions := router.Group("/sessions")
	{
		sessions.GET("", h.ListSessions)
		sessions.POST("", h.CreateSession)
		sessions.GET("/:session_id", h.GetSession)
		sessions.PATCH("/:session_id", h.UpdateSession)
		sessions.DELETE("/:session_id", h.DeleteSession)
	}
}

// ListSessions handles GET /v1/sessions, sorted by latest activity,
// optionally filtered by project_id.
func (h *SessionHandler) ListSessions(c *gin.Context) {
	sessions, err := h.sessions.List(c.Request.Context(), c.Query("project_id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// CreateSession handles POST /v1/sessions.
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, h.logger, err)
		return
	}

	record, err := h.sessions.Create(c.Request.Context(), database.CreateSessionParams{
		ProjectID:           req.ProjectID,
		Title:               req.Title,
		SelectedDocumentIDs: req.SelectedDocumentIDs,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"session_id": record.ID,
		"project_id": record.ProjectID,
	}).Info("Session created")

	c.JSON(http.StatusCreated, record)
}

// GetSession handles GET /v1/sessions/:session_id.
func (h *SessionHandler) GetSession(c *gin.Context) {
	record, err := h.sessions.Get(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// UpdateSession handles PATCH /v1/sessions/:session_id.
func (h *SessionHandler) UpdateSession(c *gin.Context) {
	var req UpdateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, h.logger, err)
		return
	}

	record, err := h.sessions.Update(c.Request.Context(), c.Param("session_id"), database.UpdateSessionParams{
		ProjectID:           req.ProjectID,
		Title:               req.Title,
		Messages:            req.Messages,
		SelectedDocumentIDs: req.SelectedDocumentIDs,
		SelectedSourceID:    req.SelectedSourceID,
		LatestResponse:      req.LatestResponse,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// DeleteSession handles DELETE /v1/sessions/:session_id.
func (h *SessionHandler) DeleteSession(c *gin.Context) {
	sessionID := c.Param("session_id")
	if err := h.sessions.Delete(c.Request.Context(), sessionID); err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.WithField("session_id", sessionID).Info("Session deleted")
	c.Status(http.StatusNoContent)
}
