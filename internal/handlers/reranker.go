package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"dev.ragsuite.platform/internal/reranker"
)

// RerankScorer is the cross-encoder service surface behind the reranker
// routes.
type RerankScorer interface {
	Rerank(ctx context.Context, req reranker.RerankRequest) (*reranker.RerankResponse, error)
	HealthReport() reranker.Health
}

// RerankerHandler serves the cross-encoder scoring API.
type RerankerHandler struct {
	service RerankScorer
	logger  *logrus.Logger
}

// NewRerankerHandler creates the reranker handler.
func NewRerankerHandler(service RerankScorer, logger *logrus.Logger) *RerankerHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &RerankerHandler{service: service, logger: logger}
}

// RegisterRoutes mounts the reranker routes on a /v1 group.
func (h *RerankerHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/rerank", h.Rerank)
	router.GET("/health", h.Health)
}

// Rerank handles POST /v1/rerank.
func (h *RerankerHandler) Rerank(c *gin.Context) {
	var req reranker.RerankRequest
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

// Health handles GET /v1/health with the loaded-model report.
func (h *RerankerHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.HealthReport())
}
