// Package inference implements the OpenAI-compatible gateway: the
// Ollama upstream adapter with its NDJSON stream parser, the reranker
// proxy, the gateway service itself, and the HTTP client the
// orchestrator uses to reach it.
package inference

import (
	"context"
	"encoding/json"
	"time"

	"dev.ragsuite.platform/internal/domain"
)

// ChatRequest is one upstream chat ask against the LLM runtime.
type ChatRequest struct {
	Model       string
	Messages    []domain.ChatMessage
	Temperature float64
	MaxTokens   int
}

// ChatResult is a completed non-streamed chat outcome.
type ChatResult struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	FinishReason     string
}

// ChatStreamChunk is one parsed NDJSON line from the upstream stream.
// Token counts and finish reason are only meaningful on the done chunk.
type ChatStreamChunk struct {
	ContentDelta     string
	Done             bool
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
}

// EmbedResult carries embedding vectors plus the upstream token count.
type EmbedResult struct {
	Embeddings   [][]float32 `json:"embeddings"`
	PromptTokens int         `json:"prompt_tokens"`
}

// ChatBackend is the upstream LLM runtime surface the gateway fronts.
type ChatBackend interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResult, error)
	ChatStream(ctx context.Context, req ChatRequest, onChunk func(ChatStreamChunk) error) error
	Embed(ctx context.Context, model string, inputs []string) (*EmbedResult, error)
}

// RerankUpstream scores query-document pairs for the gateway's /rerank.
type RerankUpstream interface {
	Rerank(ctx context.Context, model, query string, documents []string, topN int) ([]domain.RerankRow, error)
}

// EmbedCache is an optional read-through cache for embedding calls.
// Implementations degrade to misses when the cache is unreachable.
type EmbedCache interface {
	GetEmbeddings(ctx context.Context, key string) (*EmbedResult, bool)
	SetEmbeddings(ctx context.Context, key string, result *EmbedResult)
}

// StringOrList accepts the string and []string forms OpenAI allows for
// completion prompts and embedding inputs. IsList records which form
// arrived so validation can phrase its errors per shape.
type StringOrList struct {
	String string
	List   []string
	IsList bool
}

func (s *StringOrList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		s.String = single
		s.IsList = false
		s.List = nil
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	s.List = many
	s.IsList = true
	s.String = ""
	return nil
}

func (s StringOrList) MarshalJSON() ([]byte, error) {
	if s.IsList {
		return json.Marshal(s.List)
	}
	return json.Marshal(s.String)
}

// ChatCompletionsRequest is the gateway's /chat/completions payload.
type ChatCompletionsRequest struct {
	Model       string               `json:"model"`
	Messages    []domain.ChatMessage `json:"messages"`
	Temperature float64              `json:"temperature"`
	MaxTokens   int                  `json:"max_tokens,omitempty"`
	Stream      bool                 `json:"stream,omitempty"`
}

// CompletionUsage is the OpenAI token usage object.
type CompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionChoice is one returned chat choice.
type ChatCompletionChoice struct {
	Index        int                `json:"index"`
	Message      domain.ChatMessage `json:"message"`
	FinishReason string             `json:"finish_reason"`
}

// ChatCompletionsResponse is the non-streamed chat envelope.
type ChatCompletionsResponse struct {
	ID        string                 `json:"id"`
	Object    string                 `json:"object"`
	Created   int64                  `json:"created"`
	Model     string                 `json:"model"`
	Choices   []ChatCompletionChoice `json:"choices"`
	Usage     CompletionUsage        `json:"usage"`
	CreatedAt time.Time              `json:"created_at"`
}

// CompletionsRequest is the gateway's /completions payload.
type CompletionsRequest struct {
	Model       string       `json:"model"`
	Prompt      StringOrList `json:"prompt"`
	Temperature float64      `json:"temperature"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Stream      bool         `json:"stream,omitempty"`
}

// CompletionChoice is one returned text completion choice.
type CompletionChoice struct {
	Text         string `json:"text"`
	Index        int    `json:"index"`
	FinishReason string `json:"finish_reason"`
}

// CompletionsResponse is the text completion envelope.
type CompletionsResponse struct {
	ID        string             `json:"id"`
	Object    string             `json:"object"`
	Created   int64              `json:"created"`
	Model     string             `json:"model"`
	Choices   []CompletionChoice `json:"choices"`
	Usage     CompletionUsage    `json:"usage"`
	CreatedAt time.Time          `json:"created_at"`
}

// EmbeddingsRequest is the gateway's /embeddings payload.
type EmbeddingsRequest struct {
	Model string       `json:"model"`
	Input StringOrList `json:"input"`
}

// EmbeddingData is one embedding row in request order.
type EmbeddingData struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

// EmbeddingsUsage is the embeddings token usage object.
type EmbeddingsUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// EmbeddingsResponse is the embeddings envelope.
type EmbeddingsResponse struct {
	Object string          `json:"object"`
	Model  string          `json:"model"`
	Data   []EmbeddingData `json:"data"`
	Usage  EmbeddingsUsage `json:"usage"`
}

// RerankRequest is the gateway's /rerank payload.
type RerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      *int     `json:"top_n,omitempty"`
}

// RerankResponse is the rerank envelope.
type RerankResponse struct {
	Model   string             `json:"model"`
	Results []domain.RerankRow `json:"results"`
}
