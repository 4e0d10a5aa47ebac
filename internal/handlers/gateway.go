package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"dev.ragsuite.platform/internal/inference"
)

// GatewayService is the OpenAI-compatible surface behind the gateway
// routes.
type GatewayService interface {
	ChatCompletions(ctx context.Context, req inference.ChatCompletionsRequest) (*inference.ChatCompletionsResponse, error)
	ChatCompletionsStream(ctx context.Context, req inference.ChatCompletionsRequest, emit func(frame string) error) error
	Completions(ctx context.Context, req inference.CompletionsRequest) (*inference.CompletionsResponse, error)
	Embeddings(ctx context.Context, req inference.EmbeddingsRequest) (*inference.EmbeddingsResponse, error)
	Rerank(ctx context.Context, req inference.RerankRequest) (*inference.RerankResponse, error)
}

// GatewayHandler serves the inference gateway API.
type GatewayHandler struct {
	service GatewayService
	logger  *logrus.Logger
}

// NewGatewayHandler creates the gateway handler.
func NewGatewayHandler(service GatewayService, logger *logrus.Logger) *GatewayHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &GatewayHandler{service: service, logger: logger}
}

// RegisterRoutes mounts the gateway routes on a /v1 group.
func (h *GatewayHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/chat/completions", h.ChatCompletions)
	router.POST("/completions", h.Completions)
	router.POST("/embeddings", h.Embeddings)
	router.POST("/rerank", h.Rerank)
}

// ChatCompletions handles POST /v1/chat/completions in both batch and
// SSE form, switched by the request's stream flag.
func (h *GatewayHandler) ChatCompletions(c *gin.Context) {
	var req inference.ChatCompletionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, h.logger, err)
		return
	}

	if !req.Stream {
		response, err := h.service.ChatCompletions(c.Request.Context(), req)
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		c.JSON(http.StatusOK, response)
		return
	}

	stream, ok := newSSEWriter(c)
	if !ok {
		return
	}

	// Validation failures surface before the first frame, so they can
	// still go out as a plain JSON error. After that the transport is
	// committed and a failure just ends the stream.
	if err := h.service.ChatCompletionsStream(c.Request.Context(), req, stream.Raw); err != nil {
		if !stream.Started() {
			respondError(c, h.logger, err)
			return
		}
		h.logger.WithError(err).Error("Chat completion stream aborted")
	}
}

// Completions handles POST /v1/completions.
func (h *GatewayHandler) Completions(c *gin.Context) {
	var req inference.CompletionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, h.logger, err)
		return
	}

	response, err := h.service.Completions(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, response)
}

// Embeddings handles POST /v1/embeddings.
func (h *GatewayHandler) Embeddings(c *gin.Context) {
	var req inference.EmbeddingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, h.logger, err)
		return
	}

	response, err := h.service.Embeddings(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, response)
}

// Rerank handles POST /v1/rerank, proxying to the reranker backend.
func (h *GatewayHandler) Rerank(c *gin.Context) {
	var req inference.RerankRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, h.logger, err)
		return
	}

	response, err := h.service.Rerank(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, response)
}
