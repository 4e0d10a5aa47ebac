package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"dev.ragsuite.platform/internal/domain"
	"dev.ragsuite.platform/internal/ingestion"
	"dev.ragsuite.platform/internal/pipeline"
)

// operationHeader binds a pipeline request to a cancellable operation.
const operationHeader = "X-Operation-Id"

// PipelineRunner is the slice of the ingestion service the pipeline and
// ingest routes call.
type PipelineRunner interface {
	Normalize(req ingestion.NormalizeRequest) (*pipeline.NormalizeResult, error)
	Chunk(ctx context.Context, req ingestion.ChunkRequest) (*ingestion.ChunkResponse, error)
	Contextualize(ctx context.Context, req ingestion.ContextualizeRequest) (*ingestion.ContextualizeResponse, error)
	PreviewAutomatic(ctx context.Context, req ingestion.PreviewRequest) (*ingestion.PreviewResult, error)
	Ingest(ctx context.Context, projectID string, req ingestion.IngestRequest) (*ingestion.IngestResult, error)
}

// ProjectDirectory is the project and lineage surface of the control plane.
type ProjectDirectory interface {
	Create(ctx context.Context, req ingestion.CreateProjectRequest) (*domain.Project, error)
	List(ctx context.Context) ([]domain.Project, error)
	Delete(ctx context.Context, projectID string) (*ingestion.DeleteProjectResult, error)
	ListDocuments(ctx context.Context, projectID string) ([]domain.DocumentSummary, error)
	ListChunks(ctx context.Context, documentID string) ([]domain.Chunk, error)
}

// OperationTracker registers cancellable operations and fires their
// contexts on demand.
type OperationTracker interface {
	Track(parent context.Context, id string) (context.Context, func())
	Cancel(id string) bool
}

// IngestionHandler serves the control-plane API: the document pipeline,
// project CRUD, and operation cancellation.
type IngestionHandler struct {
	pipeline PipelineRunner
	projects ProjectDirectory
	ops      OperationTracker
	logger   *logrus.Logger
}

// NewIngestionHandler creates the control-plane handler.
func NewIngestionHandler(pipelineRunner PipelineRunner, projects ProjectDirectory, ops OperationTracker, logger *logrus.Logger) *IngestionHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &IngestionHandler{
		pipeline: pipelineRunner,
		projects: projects,
		ops:      ops,
		logger:   logger,
	}
}

// RegisterRoutes mounts the control-plane routes on a /v1 group.
func (h *IngestionHandler) RegisterRoutes(router *gin.RouterGroup) {
	pipelines := router.Group("/pipeline")
	{
		pipelines.POST("/normalize", h.Normalize)
		pipelines.POST("/chunk", h.Chunk)
		pipelines.POST("/contextualize", h.Contextualize)
		pipelines.POST("/preview-automatic", h.PreviewAutomatic)
		pipelines.POST("/operations/:operation_id/cancel", h.CancelOperation)
	}

	projects := router.Group("/projects")
	{
		projects.POST("", h.CreateProject)
		projects.GET("", h.ListProjects)
		projects.DELETE("/:project_id", h.DeleteProject)
		projects.GET("/:project_id/documents", h.ListDocuments)
		projects.POST("/:project_id/documents/ingest", h.IngestDocument)
		projects.GET("/documents/:document_id/chunks", h.ListChunks)
	}
}

// operationContext derives the request context, bound to the operation
// registry when the X-Operation-Id header names an operation.
func (h *IngestionHandler) operationContext(c *gin.Context) (context.Context, func()) {
	ctx := c.Request.Context()
	operationID := strings.TrimSpace(c.GetHeader(operationHeader))
	if operationID == "" {
		return ctx, func() {}
	}
	return h.ops.Track(ctx, operationID)
}

// Normalize handles POST /v1/pipeline/normalize.
func (h *IngestionHandler) Normalize(c *gin.Context) {
	var req ingestion.NormalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, h.logger, err)
		return
	}

	result, err := h.pipeline.Normalize(req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Chunk handles POST /v1/pipeline/chunk.
func (h *IngestionHandler) Chunk(c *gin.Context) {
	var req ingestion.ChunkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, h.logger, err)
		return
	}

	ctx, release := h.operationContext(c)
	defer release()

	result, err := h.pipeline.Chunk(ctx, req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Contextualize handles POST /v1/pipeline/contextualize.
func (h *IngestionHandler) Contextualize(c *gin.Context) {
	var req ingestion.ContextualizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, h.logger, err)
		return
	}

	ctx, release := h.operationContext(c)
	defer release()

	result, err := h.pipeline.Contextualize(ctx, req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// PreviewAutomatic handles POST /v1/pipeline/preview-automatic. Nothing
// is persisted or embedded; the response shows every intermediate stage.
func (h *IngestionHandler) PreviewAutomatic(c *gin.Context) {
	var req ingestion.PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, h.logger, err)
		return
	}

	ctx, release := h.operationContext(c)
	defer release()

	result, err := h.pipeline.PreviewAutomatic(ctx, req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// CancelOperation handles POST /v1/pipeline/operations/:operation_id/cancel.
// Unknown ids are reported with cancelled=false rather than an error so
// the client can fire-and-forget.
func (h *IngestionHandler) CancelOperation(c *gin.Context) {
	operationID := c.Param("operation_id")
	cancelled := h.ops.Cancel(operationID)

	h.logger.WithFields(logrus.Fields{
		"operation_id": operationID,
		"cancelled":    cancelled,
	}).Info("Operation cancel requested")

	c.JSON(http.StatusAccepted, gin.H{
		"operation_id": operationID,
		"cancelled":    cancelled,
	})
}

// CreateProject handles POST /v1/projects.
func (h *IngestionHandler) CreateProject(c *gin.Context) {
	var req ingestion.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, h.logger, err)
		return
	}

	project, err := h.projects.Create(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

// ListProjects handles GET /v1/projects.
func (h *IngestionHandler) ListProjects(c *gin.Context) {
	projects, err := h.projects.List(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects})
}

// DeleteProject handles DELETE /v1/projects/:project_id. The vector
// collection goes first so a failed drop leaves the SQL lineage intact.
func (h *IngestionHandler) DeleteProject(c *gin.Context) {
	result, err := h.projects.Delete(c.Request.Context(), c.Param("project_id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListDocuments handles GET /v1/projects/:project_id/documents.
func (h *IngestionHandler) ListDocuments(c *gin.Context) {
	documents, err := h.projects.ListDocuments(c.Request.Context(), c.Param("project_id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, documents)
}

// ListChunks handles GET /v1/projects/documents/:document_id/chunks.
func (h *IngestionHandler) ListChunks(c *gin.Context) {
	chunks, err := h.projects.ListChunks(c.Request.Context(), c.Param("document_id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, chunks)
}

// IngestDocument handles POST /v1/projects/:project_id/documents/ingest.
func (h *IngestionHandler) IngestDocument(c *gin.Context) {
	var req ingestion.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, h.logger, err)
		return
	}

	ctx, release := h.operationContext(c)
	defer release()

	result, err := h.pipeline.Ingest(ctx, c.Param("project_id"), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
