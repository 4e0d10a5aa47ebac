package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"dev.ragsuite.platform/internal/domain"
	"dev.ragsuite.platform/internal/rag"
)

// ChatRunner is one orchestrator chat variant, hybrid or reranked.
type ChatRunner interface {
	Chat(ctx context.Context, mode string, req rag.ChatRequest) (*domain.ChatResponse, error)
	ChatStream(ctx context.Context, mode string, req rag.ChatRequest, emit rag.StreamEmitter) error
}

// RAGHandler serves both chat variants and their status probes.
type RAGHandler struct {
	hybrid   ChatRunner
	reranked ChatRunner
	logger   *logrus.Logger
}

// NewRAGHandler creates the orchestrator handler over the two variants.
func NewRAGHandler(hybrid, reranked ChatRunner, logger *logrus.Logger) *RAGHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &RAGHandler{hybrid: hybrid, reranked: reranked, logger: logger}
}

// RegisterRoutes mounts the chat routes on a /v1 group.
func (h *RAGHandler) RegisterRoutes(router *gin.RouterGroup) {
	hybrid := router.Group("/rag")
	{
		hybrid.GET("/status", h.HybridStatus)
		hybrid.POST("/chat/stateless", h.HybridChatStateless)
		hybrid.POST("/chat/session", h.HybridChatSession)
		hybrid.POST("/chat/stateless/stream", h.HybridChatStatelessStream)
		hybrid.POST("/chat/session/stream", h.HybridChatSessionStream)
	}

	reranked := router.Group("/rag/reranked")
	{
		reranked.GET("/status", h.RerankedStatus)
		reranked.POST("/chat/stateless", h.RerankedChatStateless)
		reranked.POST("/chat/session", h.RerankedChatSession)
		reranked.POST("/chat/stateless/stream", h.RerankedChatStatelessStream)
		reranked.POST("/chat/session/stream", h.RerankedChatSessionStream)
	}
}

// HybridStatus handles GET /v1/rag/status.
func (h *RAGHandler) HybridStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ready",
		"message": "Hybrid endpoints available: /chat/stateless, /chat/session, and SSE stream variants.",
	})
}

// RerankedStatus handles GET /v1/rag/reranked/status.
func (h *RAGHandler) RerankedStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ready",
		"message": "Hybrid + reranked endpoints available: /chat/stateless, /chat/session, and SSE stream variants.",
	})
}

// HybridChatStateless handles POST /v1/rag/chat/stateless.
func (h *RAGHandler) HybridChatStateless(c *gin.Context) {
	h.chat(c, h.hybrid, domain.ModeStateless)
}

// HybridChatSession handles POST /v1/rag/chat/session.
func (h *RAGHandler) HybridChatSession(c *gin.Context) {
	h.chat(c, h.hybrid, domain.ModeSession)
}

// HybridChatStatelessStream handles POST /v1/rag/chat/stateless/stream.
func (h *RAGHandler) HybridChatStatelessStream(c *gin.Context) {
	h.stream(c, h.hybrid, domain.ModeStateless)
}

// HybridChatSessionStream handles POST /v1/rag/chat/session/stream.
func (h *RAGHandler) HybridChatSessionStream(c *gin.Context) {
	h.stream(c, h.hybrid, domain.ModeSession)
}

// RerankedChatStateless handles POST /v1/rag/reranked/chat/stateless.
func (h *RAGHandler) RerankedChatStateless(c *gin.Context) {
	h.chat(c, h.reranked, domain.ModeStateless)
}

// RerankedChatSession handles POST /v1/rag/reranked/chat/session.
func (h *RAGHandler) RerankedChatSession(c *gin.Context) {
	h.chat(c, h.reranked, domain.ModeSession)
}

// RerankedChatStatelessStream handles POST /v1/rag/reranked/chat/stateless/stream.
func (h *RAGHandler) RerankedChatStatelessStream(c *gin.Context) {
	h.stream(c, h.reranked, domain.ModeStateless)
}

// RerankedChatSessionStream handles POST /v1/rag/reranked/chat/session/stream.
func (h *RAGHandler) RerankedChatSessionStream(c *gin.Context) {
	h.stream(c, h.reranked, domain.ModeSession)
}

// chat runs one batch chat call for a variant and mode.
func (h *RAGHandler) chat(c *gin.Context, runner ChatRunner, mode string) {
	var req rag.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, h.logger, err)
		return
	}

	response, err := runner.Chat(c.Request.Context(), mode, req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, response)
}

// stream runs one SSE chat call. Once the emitter has started, every
// failure becomes the stream's single error event.
func (h *RAGHandler) stream(c *gin.Context, runner ChatRunner, mode string) {
	var req rag.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, h.logger, err)
		return
	}

	stream, ok := newSSEWriter(c)
	if !ok {
		return
	}

	if err := runner.ChatStream(c.Request.Context(), mode, req, stream.Event); err != nil {
		h.emitStreamError(stream, err)
	}
}

// emitStreamError delivers a failed stream's error event. Domain errors
// keep their message; anything else is masked.
func (h *RAGHandler) emitStreamError(stream *sseWriter, err error) {
	detail := "Unexpected streaming error"
	if domain.IsValidation(err) || domain.IsNotFound(err) || domain.IsExternal(err) || domain.IsCancelled(err) {
		detail = err.Error()
	}

	if domain.IsCancelled(err) {
		h.logger.Info(err.Error())
	} else {
		h.logger.WithError(err).Warn("Chat stream failed")
	}

	if emitErr := stream.Event("error", errorDetail{Detail: detail}); emitErr != nil {
		h.logger.WithError(emitErr).Debug("Failed to deliver stream error event")
	}
}
