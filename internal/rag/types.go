// Package rag implements project-scoped retrieval-augmented answering:
// BM25 sparse scoring, dense+sparse fusion, optional cross-encoder
// reranking, XML context assembly, and the retrieve→generate state
// machine behind the chat endpoints.
package rag

import (
	"context"

	"dev.ragsuite.platform/internal/domain"
)

// BM25 parameters for candidate-set scoring.
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// Embedder produces one vector per input text.
type Embedder interface {
	Embed(ctx context.Context, model string, inputs []string) ([][]float32, error)
}

// DenseSearcher queries a vector collection and returns chunk-keyed
// similarity scores. An optional document-id filter restricts hits.
type DenseSearcher interface {
	SearchChunks(ctx context.Context, collection string, vector []float32, limit int, documentIDs []string) ([]domain.ScoredChunk, error)
}

// RerankClient scores (query, document) pairs with a cross-encoder and
// returns up to topN rows ordered by relevance.
type RerankClient interface {
	Rerank(ctx context.Context, model, query string, documents []string, topN int) ([]domain.RerankRow, error)
}

// GenerationRequest is one chat completion ask against the gateway.
type GenerationRequest struct {
	Model       string               `json:"model"`
	Messages    []domain.ChatMessage `json:"messages"`
	Temperature float64              `json:"temperature"`
	MaxTokens   int                  `json:"max_tokens,omitempty"`
}

// Generator produces grounded answers through the inference gateway.
// ChatStream invokes onDelta once per upstream token chunk, in order,
// and returns the concatenated answer.
type Generator interface {
	Chat(ctx context.Context, req GenerationRequest) (string, error)
	ChatStream(ctx context.Context, req GenerationRequest, onDelta func(content string) error) (string, error)
}

// CandidateLoader resolves projects and loads the approved chunks that
// participate in retrieval. Implemented by the control-plane store.
type CandidateLoader interface {
	GetProject(ctx context.Context, projectID string) (*domain.Project, error)
	ProjectDocumentIDs(ctx context.Context, projectID string, documentIDs []string) (map[string]bool, error)
	LoadCandidates(ctx context.Context, projectID string, documentIDs []string) ([]domain.RetrievalCandidate, error)
}

// CheckpointStore persists conversational memory per thread. AppendTurn
// ignores empty contents so replaying an empty turn is a no-op.
type CheckpointStore interface {
	History(ctx context.Context, threadID string) ([]domain.ChatMessage, error)
	AppendTurn(ctx context.Context, threadID, userContent, assistantContent string) error
}

// SessionTurn is one chat exchange snapshotted onto a session record.
type SessionTurn struct {
	SessionID           string
	ProjectID           string
	UserMessage         string
	AssistantMessage    string
	SelectedDocumentIDs []string
	LatestResponse      *domain.ChatResponse
}

// SessionWriter records chat exchanges on UI-facing session records.
// AppendTurn loads or creates the row, appends the non-empty messages,
// and replaces the latest-response snapshot in one operation.
type SessionWriter interface {
	AppendTurn(ctx context.Context, turn SessionTurn) error
}

// RetrievalOptions tunes one hybrid retrieval call.
type RetrievalOptions struct {
	ProjectID      string   `json:"project_id"`
	Query          string   `json:"query"`
	DocumentIDs    []string `json:"document_ids,omitempty"`
	TopK           int      `json:"top_k"`
	DenseTopK      int      `json:"dense_top_k"`
	SparseTopK     int      `json:"sparse_top_k"`
	DenseWeight    float64  `json:"dense_weight"`
	EmbeddingModel string   `json:"embedding_model"`
}

// RetrievalResult is the ranked output for one query.
type RetrievalResult struct {
	ProjectID      string                  `json:"project_id"`
	Query          string                  `json:"query"`
	EmbeddingModel string                  `json:"embedding_model"`
	Sources        []domain.RankedSource   `json:"sources"`
	Documents      []domain.SourceDocument `json:"documents"`
}

// RerankedResult extends RetrievalResult with the pre-rerank candidate
// list and the model that ordered the final sources.
type RerankedResult struct {
	RetrievalResult
	RerankModel      string                `json:"rerank_model"`
	HybridCandidates []domain.RankedSource `json:"hybrid_candidates"`
}
