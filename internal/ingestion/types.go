// Package ingestion implements the control-plane workflows: project
// namespace management and the normalize → chunk → contextualize →
// embed → index document pipeline, in both automatic and manual modes.
package ingestion

import (
	"context"
	"time"

	"dev.ragsuite.platform/internal/domain"
	"dev.ragsuite.platform/internal/inference"
	"dev.ragsuite.platform/internal/pipeline"
	"dev.ragsuite.platform/internal/vectorstore"
)

// Embedder turns contextualized chunk texts into vectors, one per input
// in order. Implemented by the Ollama upstream client.
type Embedder interface {
	Embed(ctx context.Context, model string, inputs []string) (*inference.EmbedResult, error)
}

// VectorIndexer is the slice of the vector store the ingest path needs.
type VectorIndexer interface {
	EnsureCollection(ctx context.Context, collection string, dimension int) error
	UpsertChunks(ctx context.Context, collection string, points []vectorstore.ChunkPoint) error
}

// CollectionDropper removes a project's vector collection on delete.
type CollectionDropper interface {
	DeleteCollection(ctx context.Context, collection string) error
}

// PipelineVersions are the lineage stamps persisted on each document.
type PipelineVersions struct {
	Normalization     string
	Chunking          string
	Contextualization string
}

// NormalizeRequest cleans raw text with the deterministic rules.
type NormalizeRequest struct {
	Text                     string `json:"text"`
	MaxBlankLines            int    `json:"max_blank_lines"`
	RemoveRepeatedShortLines *bool  `json:"remove_repeated_short_lines"`
}

func (r NormalizeRequest) options() pipeline.NormalizeOptions {
	opts := pipeline.DefaultNormalizeOptions()
	if r.MaxBlankLines != 0 {
		opts.MaxBlankLines = r.MaxBlankLines
	}
	if r.RemoveRepeatedShortLines != nil {
		opts.RemoveRepeatedLines = *r.RemoveRepeatedShortLines
	}
	return opts
}

// ChunkRequest asks for chunk proposals from a selected mode.
type ChunkRequest struct {
	Text          string `json:"text"`
	Mode          string `json:"mode"`
	MaxChunkChars int    `json:"max_chunk_chars"`
	MinChunkChars int    `json:"min_chunk_chars"`
	OverlapChars  int    `json:"overlap_chars"`
	LLMModel      string `json:"llm_model,omitempty"`
}

func (r ChunkRequest) options() pipeline.ChunkOptions {
	return resolveChunkOptions(r.MaxChunkChars, r.MinChunkChars, r.OverlapChars)
}

// ChunkResponse is the proposal list for one chunking call.
type ChunkResponse struct {
	Mode   string                 `json:"mode"`
	Chunks []domain.ChunkProposal `json:"chunks"`
}

// ContextualizeRequest asks for contextual headers over chunk proposals.
type ContextualizeRequest struct {
	DocumentName     string                 `json:"document_name"`
	FullDocumentText string                 `json:"full_document_text"`
	Chunks           []domain.ChunkProposal `json:"chunks"`
	Mode             string                 `json:"mode"`
	LLMModel         string                 `json:"llm_model,omitempty"`
}

// ContextualizeResponse carries the enriched chunks.
type ContextualizeResponse struct {
	Mode   string                       `json:"mode"`
	Chunks []domain.ContextualizedChunk `json:"chunks"`
}

// AutomationFlags control the automatic ingestion pipeline. Omitted
// fields fall back to normalize on, agentic chunking off, headers on.
type AutomationFlags struct {
	NormalizeText     *bool `json:"normalize_text,omitempty"`
	AgenticChunking   *bool `json:"agentic_chunking,omitempty"`
	ContextualHeaders *bool `json:"contextual_headers,omitempty"`
}

func (f AutomationFlags) normalize() bool {
	return f.NormalizeText == nil || *f.NormalizeText
}

func (f AutomationFlags) agentic() bool {
	return f.AgenticChunking != nil && *f.AgenticChunking
}

func (f AutomationFlags) headers() bool {
	return f.ContextualHeaders == nil || *f.ContextualHeaders
}

// ChunkSettings is the chunking block shared by ingest and preview.
type ChunkSettings struct {
	Mode          string `json:"mode,omitempty"`
	MaxChunkChars int    `json:"max_chunk_chars,omitempty"`
	MinChunkChars int    `json:"min_chunk_chars,omitempty"`
	OverlapChars  int    `json:"overlap_chars,omitempty"`
}

func (s ChunkSettings) mode() string {
	if s.Mode == "" {
		return domain.ChunkingDeterministic
	}
	return s.Mode
}

func (s ChunkSettings) options() pipeline.ChunkOptions {
	return resolveChunkOptions(s.MaxChunkChars, s.MinChunkChars, s.OverlapChars)
}

func resolveChunkOptions(maxChars, minChars, overlap int) pipeline.ChunkOptions {
	opts := pipeline.DefaultChunkOptions()
	if maxChars != 0 {
		opts.MaxChunkChars = maxChars
	}
	if minChars != 0 {
		opts.MinChunkChars = minChars
	}
	if overlap != 0 {
		opts.OverlapChars = overlap
	}
	return opts
}

// ApprovedChunk is a manually reviewed chunk ready for embedding.
type ApprovedChunk struct {
	ChunkIndex          int    `json:"chunk_index"`
	StartChar           int    `json:"start_char"`
	EndChar             int    `json:"end_char"`
	Rationale           string `json:"rationale,omitempty"`
	NormalizedChunk     string `json:"normalized_chunk"`
	ContextHeader       string `json:"context_header,omitempty"`
	ContextualizedChunk string `json:"contextualized_chunk"`
}

// IngestRequest persists one document and indexes its chunk vectors.
type IngestRequest struct {
	DocumentName          string          `json:"document_name"`
	SourceType            string          `json:"source_type,omitempty"`
	RawText               string          `json:"raw_text"`
	WorkflowMode          string          `json:"workflow_mode"`
	Automation            AutomationFlags `json:"automation,omitempty"`
	ChunkOptions          ChunkSettings   `json:"chunk_options,omitempty"`
	ContextualizationMode string          `json:"contextualization_mode,omitempty"`
	LLMModel              string          `json:"llm_model,omitempty"`
	EmbeddingModel        string          `json:"embedding_model,omitempty"`
	NormalizedText        *string         `json:"normalized_text,omitempty"`
	ApprovedChunks        []ApprovedChunk `json:"approved_chunks,omitempty"`
}

// IngestResult reports what one ingest call persisted.
type IngestResult struct {
	ProjectID             string    `json:"project_id"`
	DocumentID            string    `json:"document_id"`
	QdrantCollectionName  string    `json:"qdrant_collection_name"`
	EmbeddedChunkCount    int       `json:"embedded_chunk_count"`
	EmbeddingModel        string    `json:"embedding_model"`
	ChunkingMode          string    `json:"chunking_mode"`
	ContextualizationMode string    `json:"contextualization_mode"`
	CreatedAt             time.Time `json:"created_at"`
}

// PreviewRequest dry-runs the automatic pipeline without persistence.
type PreviewRequest struct {
	DocumentName          string          `json:"document_name"`
	RawText               string          `json:"raw_text"`
	Automation            AutomationFlags `json:"automation,omitempty"`
	ChunkOptions          ChunkSettings   `json:"chunk_options,omitempty"`
	ContextualizationMode string          `json:"contextualization_mode,omitempty"`
	LLMModel              string          `json:"llm_model,omitempty"`
}

// PreviewResult shows every intermediate stage of the automatic run.
type PreviewResult struct {
	NormalizedText        string                       `json:"normalized_text"`
	ChunkingMode          string                       `json:"chunking_mode"`
	ContextualizationMode string                       `json:"contextualization_mode"`
	Chunks                []domain.ChunkProposal       `json:"chunks"`
	ContextualizedChunks  []domain.ContextualizedChunk `json:"contextualized_chunks"`
}

// CreateProjectRequest names a new ingestion namespace.
type CreateProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// DeleteProjectResult reports what a project delete removed.
type DeleteProjectResult struct {
	ProjectID            string `json:"project_id"`
	QdrantCollectionName string `json:"qdrant_collection_name"`
	DeletedDocumentCount int    `json:"deleted_document_count"`
	DeletedChunkCount    int    `json:"deleted_chunk_count"`
}
