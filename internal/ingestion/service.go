package ingestion

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"dev.ragsuite.platform/internal/database"
	"dev.ragsuite.platform/internal/domain"
	"dev.ragsuite.platform/internal/pipeline"
	"dev.ragsuite.platform/internal/vectorstore"
)

// Ingest surface bounds.
const (
	maxDocumentNameLen = 255
	maxSourceTypeLen   = 32
	defaultSourceType  = "text"
)

// ServiceOptions carries the pipeline defaults and lineage stamps.
type ServiceOptions struct {
	DefaultChatModel      string
	DefaultEmbeddingModel string
	Versions              PipelineVersions
}

// Service runs the document pipeline for the control plane: stateless
// normalize/chunk/contextualize previews plus the persisted ingest
// flow. Vector upsert and SQL insert share one logical operation; the
// SQL transaction commits only after the upsert succeeded.
type Service struct {
	store    *database.Store
	vectors  VectorIndexer
	embedder Embedder
	agentic  *pipeline.AgenticChunker
	headers  *pipeline.HeaderGenerator
	opts     ServiceOptions
	logger   *logrus.Logger
}

// NewService wires the ingestion pipeline.
func NewService(store *database.Store, vectors VectorIndexer, embedder Embedder, agentic *pipeline.AgenticChunker, headers *pipeline.HeaderGenerator, opts ServiceOptions, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	return &Service{
		store:    store,
		vectors:  vectors,
		embedder: embedder,
		agentic:  agentic,
		headers:  headers,
		opts:     opts,
		logger:   logger,
	}
}

// Normalize cleans raw text with the deterministic rules.
func (s *Service) Normalize(req NormalizeRequest) (*pipeline.NormalizeResult, error) {
	if req.Text == "" {
		return nil, domain.Validationf("text must not be empty")
	}
	if req.MaxBlankLines < 0 || req.MaxBlankLines > 3 {
		return nil, domain.Validationf("max_blank_lines must be between 1 and 3")
	}
	result := pipeline.Normalize(req.Text, req.options())
	return &result, nil
}

// Chunk proposes boundaries in the requested mode.
func (s *Service) Chunk(ctx context.Context, req ChunkRequest) (*ChunkResponse, error) {
	if req.Text == "" {
		return nil, domain.Validationf("text must not be empty")
	}
	if req.Mode != domain.ChunkingDeterministic && req.Mode != domain.ChunkingAgentic {
		return nil, domain.Validationf("mode must be 'deterministic' or 'agentic'")
	}

	chunks, err := s.chunkRuntime(ctx, req.Text, req.Mode, req.options(), req.LLMModel)
	if err != nil {
		return nil, err
	}
	return &ChunkResponse{Mode: req.Mode, Chunks: chunks}, nil
}

// Contextualize generates a header per chunk proposal.
func (s *Service) Contextualize(ctx context.Context, req ContextualizeRequest) (*ContextualizeResponse, error) {
	if req.DocumentName == "" {
		return nil, domain.Validationf("document_name must not be empty")
	}
	if req.FullDocumentText == "" {
		return nil, domain.Validationf("full_document_text must not be empty")
	}
	if len(req.Chunks) == 0 {
		return nil, domain.Validationf("chunks must not be empty")
	}
	mode := req.Mode
	if mode == "" {
		mode = domain.ContextualizationLLM
	}
	if mode != domain.ContextualizationLLM && mode != domain.ContextualizationTemplate {
		return nil, domain.Validationf("mode must be 'llm' or 'template'")
	}

	chunks, err := s.headers.Contextualize(ctx, req.DocumentName, req.FullDocumentText, req.Chunks, mode, s.chatModel(req.LLMModel))
	if err != nil {
		return nil, err
	}
	return &ContextualizeResponse{Mode: mode, Chunks: chunks}, nil
}

// PreviewAutomatic dry-runs the automatic pipeline: normalize, chunk,
// contextualize. Nothing is embedded or persisted. When headers are
// disabled the chunks still pass through the template contextualizer so
// the preview shows the final texts, but the reported mode stays
// "disabled" to match what a real ingest would stamp.
func (s *Service) PreviewAutomatic(ctx context.Context, req PreviewRequest) (*PreviewResult, error) {
	if req.DocumentName == "" {
		return nil, domain.Validationf("document_name must not be empty")
	}
	if req.RawText == "" {
		return nil, domain.Validationf("raw_text must not be empty")
	}
	contextMode, err := resolveContextMode(req.ContextualizationMode)
	if err != nil {
		return nil, err
	}
	if err := validateChunkMode(req.ChunkOptions.mode()); err != nil {
		return nil, err
	}

	normalized := req.RawText
	if req.Automation.normalize() {
		normalized = pipeline.Normalize(req.RawText, pipeline.DefaultNormalizeOptions()).Text
	}

	chunkMode := req.ChunkOptions.mode()
	if req.Automation.agentic() {
		chunkMode = domain.ChunkingAgentic
	}
	chunks, err := s.chunkRuntime(ctx, normalized, chunkMode, req.ChunkOptions.options(), req.LLMModel)
	if err != nil {
		return nil, err
	}

	previewMode := contextMode
	if !req.Automation.headers() {
		previewMode = domain.ContextualizationTemplate
	}
	contextualized, err := s.headers.Contextualize(ctx, req.DocumentName, normalized, chunks, previewMode, s.chatModel(req.LLMModel))
	if err != nil {
		return nil, err
	}

	reportedMode := contextMode
	if !req.Automation.headers() {
		reportedMode = domain.ContextualizationDisabled
	}
	return &PreviewResult{
		NormalizedText:        normalized,
		ChunkingMode:          chunkMode,
		ContextualizationMode: reportedMode,
		Chunks:                chunks,
		ContextualizedChunks:  contextualized,
	}, nil
}

// Ingest persists one document and indexes its chunk vectors in the
// project's collection.
func (s *Service) Ingest(ctx context.Context, projectID string, req IngestRequest) (*IngestResult, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := validateIngestRequest(&req); err != nil {
		return nil, err
	}

	var (
		normalized        string
		contextualized    []domain.ContextualizedChunk
		chunkingMode      string
		contextualization string
	)

	if req.WorkflowMode == domain.WorkflowAutomatic {
		normalized = req.RawText
		if req.Automation.normalize() {
			normalized = pipeline.Normalize(req.RawText, pipeline.DefaultNormalizeOptions()).Text
		}

		chunkingMode = req.ChunkOptions.mode()
		if req.Automation.agentic() {
			chunkingMode = domain.ChunkingAgentic
		}
		chunks, err := s.chunkRuntime(ctx, normalized, chunkingMode, req.ChunkOptions.options(), req.LLMModel)
		if err != nil {
			return nil, err
		}

		if req.Automation.headers() {
			contextualization = req.ContextualizationMode
			contextualized, err = s.headers.Contextualize(ctx, req.DocumentName, normalized, chunks, contextualization, s.chatModel(req.LLMModel))
			if err != nil {
				return nil, err
			}
		} else {
			contextualization = domain.ContextualizationDisabled
			contextualized = passthroughChunks(chunks)
		}
	} else {
		if req.NormalizedText == nil {
			return nil, domain.Validationf("normalized_text is required when workflow_mode is 'manual'")
		}
		if len(req.ApprovedChunks) == 0 {
			return nil, domain.Validationf("approved_chunks is required when workflow_mode is 'manual'")
		}
		normalized = *req.NormalizedText
		contextualized = make([]domain.ContextualizedChunk, 0, len(req.ApprovedChunks))
		for _, chunk := range req.ApprovedChunks {
			if chunk.NormalizedChunk == "" || chunk.ContextualizedChunk == "" {
				return nil, domain.Validationf("approved chunk %d must carry normalized_chunk and contextualized_chunk", chunk.ChunkIndex)
			}
			contextualized = append(contextualized, domain.ContextualizedChunk{
				ChunkIndex:         chunk.ChunkIndex,
				StartChar:          chunk.StartChar,
				EndChar:            chunk.EndChar,
				Rationale:          chunk.Rationale,
				ChunkText:          chunk.NormalizedChunk,
				ContextHeader:      chunk.ContextHeader,
				ContextualizedText: chunk.ContextualizedChunk,
			})
		}
		chunkingMode = domain.ChunkingManual
		contextualization = domain.ContextualizationManual
	}

	if len(contextualized) == 0 {
		return nil, domain.Validationf("No chunks available for embedding")
	}

	embeddingModel := req.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = s.opts.DefaultEmbeddingModel
	}
	texts := make([]string, len(contextualized))
	for i, chunk := range contextualized {
		texts[i] = chunk.ContextualizedText
	}
	embedded, err := s.embedder.Embed(ctx, embeddingModel, texts)
	if err != nil {
		if ctx.Err() != nil {
			return nil, domain.Cancelledf("Vectorization interrupted by user request.")
		}
		return nil, err
	}
	if len(embedded.Embeddings) != len(contextualized) {
		return nil, domain.Externalf("Embedding backend returned %d vectors for %d chunks", len(embedded.Embeddings), len(contextualized))
	}

	if err := s.vectors.EnsureCollection(ctx, project.QdrantCollectionName, len(embedded.Embeddings[0])); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	doc := &domain.Document{
		ID:                       uuid.NewString(),
		ProjectID:                project.ID,
		Name:                     req.DocumentName,
		SourceType:               req.SourceType,
		RawText:                  req.RawText,
		NormalizedText:           normalized,
		WorkflowMode:             req.WorkflowMode,
		ChunkingMode:             chunkingMode,
		ContextualizationMode:    contextualization,
		NormalizationVersion:     s.opts.Versions.Normalization,
		ChunkingVersion:          s.opts.Versions.Chunking,
		ContextualizationVersion: s.opts.Versions.Contextualization,
		EmbeddingModel:           embeddingModel,
		CreatedAt:                now,
	}

	tx, err := s.store.BeginIngest(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := tx.InsertDocument(ctx, doc); err != nil {
		return nil, err
	}

	points := make([]vectorstore.ChunkPoint, len(contextualized))
	rows := make([]domain.Chunk, len(contextualized))
	for i, chunk := range contextualized {
		pointID := uuid.NewString()
		points[i] = vectorstore.ChunkPoint{
			PointID:       pointID,
			Vector:        embedded.Embeddings[i],
			ChunkID:       chunkKey(doc.ID, chunk.ChunkIndex),
			ProjectID:     project.ID,
			DocumentID:    doc.ID,
			DocumentName:  doc.Name,
			ChunkIndex:    chunk.ChunkIndex,
			StartChar:     chunk.StartChar,
			EndChar:       chunk.EndChar,
			SourceType:    req.SourceType,
			ContextHeader: chunk.ContextHeader,
		}
		rows[i] = domain.Chunk{
			ID:                  uuid.NewString(),
			DocumentID:          doc.ID,
			ChunkIndex:          chunk.ChunkIndex,
			StartChar:           chunk.StartChar,
			EndChar:             chunk.EndChar,
			Rationale:           chunk.Rationale,
			RawChunk:            rawChunkSnapshot(req.RawText, normalized, chunk.StartChar, chunk.EndChar, chunk.ChunkText),
			NormalizedChunk:     chunk.ChunkText,
			ContextHeader:       chunk.ContextHeader,
			ContextualizedChunk: chunk.ContextualizedText,
			Approved:            true,
			QdrantPointID:       pointID,
			CreatedAt:           now,
		}
	}

	if err := s.vectors.UpsertChunks(ctx, project.QdrantCollectionName, points); err != nil {
		if ctx.Err() != nil {
			return nil, domain.Cancelledf("Vectorization interrupted by user request.")
		}
		return nil, err
	}

	if err := tx.InsertChunks(ctx, rows); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"project_id":  project.ID,
		"document_id": doc.ID,
		"collection":  project.QdrantCollectionName,
		"chunks":      len(rows),
		"workflow":    req.WorkflowMode,
	}).Info("Document ingested")

	return &IngestResult{
		ProjectID:             project.ID,
		DocumentID:            doc.ID,
		QdrantCollectionName:  project.QdrantCollectionName,
		EmbeddedChunkCount:    len(rows),
		EmbeddingModel:        embeddingModel,
		ChunkingMode:          chunkingMode,
		ContextualizationMode: contextualization,
		CreatedAt:             now,
	}, nil
}

// chunkRuntime dispatches to the deterministic or agentic chunker.
func (s *Service) chunkRuntime(ctx context.Context, text, mode string, opts pipeline.ChunkOptions, model string) ([]domain.ChunkProposal, error) {
	if mode == domain.ChunkingDeterministic {
		return pipeline.ChunkDeterministic(text, opts)
	}
	return s.agentic.Chunk(ctx, text, s.chatModel(model), opts)
}

func (s *Service) chatModel(override string) string {
	if override != "" {
		return override
	}
	return s.opts.DefaultChatModel
}

func validateIngestRequest(req *IngestRequest) error {
	if req.DocumentName == "" || utf8.RuneCountInString(req.DocumentName) > maxDocumentNameLen {
		return domain.Validationf("document_name must be between 1 and %d characters", maxDocumentNameLen)
	}
	if req.SourceType == "" {
		req.SourceType = defaultSourceType
	}
	if utf8.RuneCountInString(req.SourceType) > maxSourceTypeLen {
		return domain.Validationf("source_type must be at most %d characters", maxSourceTypeLen)
	}
	if req.RawText == "" {
		return domain.Validationf("raw_text must not be empty")
	}
	if req.WorkflowMode != domain.WorkflowAutomatic && req.WorkflowMode != domain.WorkflowManual {
		return domain.Validationf("workflow_mode must be 'automatic' or 'manual'")
	}
	mode, err := resolveContextMode(req.ContextualizationMode)
	if err != nil {
		return err
	}
	req.ContextualizationMode = mode
	return validateChunkMode(req.ChunkOptions.mode())
}

func validateChunkMode(mode string) error {
	if mode != domain.ChunkingDeterministic && mode != domain.ChunkingAgentic {
		return domain.Validationf("chunk_options.mode must be 'deterministic' or 'agentic'")
	}
	return nil
}

func resolveContextMode(mode string) (string, error) {
	switch mode {
	case "":
		return domain.ContextualizationLLM, nil
	case domain.ContextualizationLLM, domain.ContextualizationTemplate:
		return mode, nil
	default:
		return "", domain.Validationf("contextualization_mode must be 'llm' or 'template'")
	}
}

// passthroughChunks maps proposals straight to contextualized chunks
// when headers are disabled: empty header, text unchanged.
func passthroughChunks(chunks []domain.ChunkProposal) []domain.ContextualizedChunk {
	out := make([]domain.ContextualizedChunk, len(chunks))
	for i, chunk := range chunks {
		out[i] = domain.ContextualizedChunk{
			ChunkIndex:         chunk.ChunkIndex,
			StartChar:          chunk.StartChar,
			EndChar:            chunk.EndChar,
			Rationale:          chunk.Rationale,
			ChunkText:          chunk.Text,
			ContextHeader:      "",
			ContextualizedText: chunk.Text,
		}
	}
	return out
}

// rawChunkSnapshot slices the raw text by the chunk offsets when they
// still land inside it, for the lineage view. Offsets are rune
// positions, so the slices are too. Falls back to the normalized chunk
// text when the raw slice is out of range or blank.
func rawChunkSnapshot(rawText, normalizedText string, start, end int, fallback string) string {
	if start < 0 || end <= start {
		return fallback
	}

	raw := []rune(rawText)
	if end <= len(raw) {
		slice := string(raw[start:end])
		if strings.TrimSpace(slice) != "" {
			return slice
		}
	}

	if rawText == normalizedText && start < len(raw) {
		capped := end
		if capped > len(raw) {
			capped = len(raw)
		}
		return string(raw[start:capped])
	}

	return fallback
}

func chunkKey(documentID string, index int) string {
	return fmt.Sprintf("%s:%d", documentID, index)
}
