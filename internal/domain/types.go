// Package domain holds the value types and error taxonomy shared by the
// ingestion, inference, reranker, and orchestrator services.
package domain

import "time"

// Chat roles used across prompts, checkpoints, and session transcripts.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Chat modes exposed by the orchestrator.
const (
	ModeStateless = "stateless"
	ModeSession   = "session"
)

// Workflow and pipeline modes stamped onto persisted documents.
const (
	WorkflowAutomatic = "automatic"
	WorkflowManual    = "manual"

	ChunkingDeterministic = "deterministic"
	ChunkingAgentic       = "agentic"
	ChunkingManual        = "manual"

	ContextualizationLLM      = "llm"
	ContextualizationTemplate = "template"
	ContextualizationManual   = "manual"
	ContextualizationDisabled = "disabled"
)

// Project is an ingestion namespace owning documents and one vector collection.
type Project struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Description          string    `json:"description,omitempty"`
	QdrantCollectionName string    `json:"qdrant_collection_name"`
	CreatedAt            time.Time `json:"created_at"`
}

// Document is one ingested source text with its pipeline lineage.
type Document struct {
	ID                       string    `json:"id"`
	ProjectID                string    `json:"project_id"`
	Name                     string    `json:"name"`
	SourceType               string    `json:"source_type"`
	RawText                  string    `json:"raw_text"`
	NormalizedText           string    `json:"normalized_text"`
	WorkflowMode             string    `json:"workflow_mode"`
	ChunkingMode             string    `json:"chunking_mode"`
	ContextualizationMode    string    `json:"contextualization_mode"`
	NormalizationVersion     string    `json:"normalization_version"`
	ChunkingVersion          string    `json:"chunking_version"`
	ContextualizationVersion string    `json:"contextualization_version"`
	EmbeddingModel           string    `json:"embedding_model"`
	CreatedAt                time.Time `json:"created_at"`
}

// DocumentSummary is the listing row for a project's documents, with the
// pipeline lineage flags the UI renders next to each document.
type DocumentSummary struct {
	ID                    string    `json:"id"`
	Name                  string    `json:"name"`
	SourceType            string    `json:"source_type"`
	ChunkCount            int       `json:"chunk_count"`
	WorkflowMode          string    `json:"workflow_mode"`
	ChunkingMode          string    `json:"chunking_mode"`
	ContextualizationMode string    `json:"contextualization_mode"`
	UsedNormalization     bool      `json:"used_normalization"`
	UsedAgenticChunking   bool      `json:"used_agentic_chunking"`
	HasContextualHeaders  bool      `json:"has_contextual_headers"`
	CreatedAt             time.Time `json:"created_at"`
}

// Chunk is one persisted retrieval unit with offsets into the normalized text.
type Chunk struct {
	ID                  string    `json:"id"`
	DocumentID          string    `json:"document_id"`
	ChunkIndex          int       `json:"chunk_index"`
	StartChar           int       `json:"start_char"`
	EndChar             int       `json:"end_char"`
	Rationale           string    `json:"rationale,omitempty"`
	RawChunk            string    `json:"raw_chunk"`
	NormalizedChunk     string    `json:"normalized_chunk"`
	ContextHeader       string    `json:"context_header,omitempty"`
	ContextualizedChunk string    `json:"contextualized_chunk"`
	Approved            bool      `json:"approved"`
	QdrantPointID       string    `json:"qdrant_point_id"`
	CreatedAt           time.Time `json:"created_at"`
}

// ChunkProposal is a pre-persistence chunk boundary from either chunker.
type ChunkProposal struct {
	ChunkIndex int    `json:"chunk_index"`
	StartChar  int    `json:"start_char"`
	EndChar    int    `json:"end_char"`
	Text       string `json:"text"`
	Rationale  string `json:"rationale,omitempty"`
}

// ContextualizedChunk is a proposal enriched with its contextual header.
type ContextualizedChunk struct {
	ChunkIndex         int    `json:"chunk_index"`
	StartChar          int    `json:"start_char"`
	EndChar            int    `json:"end_char"`
	Rationale          string `json:"rationale,omitempty"`
	ChunkText          string `json:"chunk_text"`
	ContextHeader      string `json:"context_header"`
	ContextualizedText string `json:"contextualized_text"`
}

// ChatMessage is one message in an LLM conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Message is one persisted session transcript row.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// RetrievalCandidate is an approved chunk loaded for sparse scoring and
// context assembly. Text carries the contextualized chunk used for both.
type RetrievalCandidate struct {
	ChunkKey      string `json:"chunk_key"`
	DocumentID    string `json:"document_id"`
	DocumentName  string `json:"document_name"`
	ChunkIndex    int    `json:"chunk_index"`
	ContextHeader string `json:"context_header"`
	Text          string `json:"text"`
}

// ScoredChunk is one dense vector hit keyed by "{document_id}:{chunk_index}".
type ScoredChunk struct {
	ChunkKey string  `json:"chunk_key"`
	Score    float64 `json:"score"`
}

// RerankRow is one cross-encoder verdict referencing the input ordinal.
type RerankRow struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

// RankedSource is one retrieval hit in final rank order. OriginalRank and
// RerankScore are populated only when the rerank stage ran.
type RankedSource struct {
	Rank          int      `json:"rank"`
	SourceID      string   `json:"source_id"`
	ChunkKey      string   `json:"chunk_key"`
	DocumentID    string   `json:"document_id"`
	DocumentName  string   `json:"document_name"`
	ChunkIndex    int      `json:"chunk_index"`
	ContextHeader string   `json:"context_header"`
	Text          string   `json:"text"`
	DenseScore    float64  `json:"dense_score"`
	SparseScore   float64  `json:"sparse_score"`
	HybridScore   float64  `json:"hybrid_score"`
	OriginalRank  int      `json:"original_rank,omitempty"`
	RerankScore   *float64 `json:"rerank_score,omitempty"`
}

// SourceDocument aggregates ranked chunks per source document.
type SourceDocument struct {
	DocumentID   string `json:"document_id"`
	DocumentName string `json:"document_name"`
	HitCount     int    `json:"hit_count"`
	TopRank      int    `json:"top_rank"`
	ChunkIndices []int  `json:"chunk_indices"`
}

// ChatResponse is the grounded answer envelope returned by both chat
// variants and snapshotted onto sessions.
type ChatResponse struct {
	Mode             string           `json:"mode"`
	SessionID        string           `json:"session_id,omitempty"`
	ProjectID        string           `json:"project_id"`
	Query            string           `json:"query"`
	Answer           string           `json:"answer"`
	ChatModel        string           `json:"chat_model"`
	EmbeddingModel   string           `json:"embedding_model"`
	RerankModel      string           `json:"rerank_model,omitempty"`
	HybridCandidates []RankedSource   `json:"hybrid_candidates,omitempty"`
	Sources          []RankedSource   `json:"sources"`
	Documents        []SourceDocument `json:"documents"`
	CitationsUsed    []string         `json:"citations_used"`
	CreatedAt        time.Time        `json:"created_at"`
}

// SessionSummary is the sidebar listing row for a persisted session.
type SessionSummary struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SessionRecord is the full persisted session snapshot.
type SessionRecord struct {
	SessionSummary
	SelectedDocumentIDs []string      `json:"selected_document_ids"`
	SelectedSourceID    *string       `json:"selected_source_id"`
	LatestResponse      *ChatResponse `json:"latest_response"`
	Messages            []Message     `json:"messages"`
}
