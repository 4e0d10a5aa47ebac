package inference

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"dev.ragsuite.platform/internal/domain"
)

// Request bounds enforced at the gateway surface.
const (
	maxTemperature   = 2.0
	maxTokensCeiling = 16384
	maxRerankTopN    = 200
)

// Service exposes OpenAI-compatible inference over the Ollama runtime
// and the dedicated reranker backend.
type Service struct {
	ollama   ChatBackend
	reranker RerankUpstream
	cache    EmbedCache
	logger   *logrus.Logger
}

// NewService wires the gateway. cache may be nil; embeddings then skip
// the read-through path entirely.
func NewService(ollama ChatBackend, reranker RerankUpstream, cache EmbedCache, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	return &Service{ollama: ollama, reranker: reranker, cache: cache, logger: logger}
}

// ChatCompletions runs a non-streamed chat completion. Streaming asks
// must go through ChatCompletionsStream so the transport can commit to
// SSE before the first byte.
func (s *Service) ChatCompletions(ctx context.Context, req ChatCompletionsRequest) (*ChatCompletionsResponse, error) {
	if err := validateChatRequest(req); err != nil {
		return nil, err
	}
	if req.Stream {
		return nil, domain.Validationf("stream=true must be sent to the streaming route response path")
	}

	result, err := s.ollama.Chat(ctx, ChatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &ChatCompletionsResponse{
		ID:      newCompletionID("chatcmpl"),
		Object:  "chat.completion",
		Created: now.Unix(),
		Model:   req.Model,
		Choices: []ChatCompletionChoice{
			{
				Index:        0,
				Message:      domain.ChatMessage{Role: domain.RoleAssistant, Content: result.Content},
				FinishReason: result.FinishReason,
			},
		},
		Usage: CompletionUsage{
			PromptTokens:     result.PromptTokens,
			CompletionTokens: result.CompletionTokens,
			TotalTokens:      result.PromptTokens + result.CompletionTokens,
		},
		CreatedAt: now,
	}, nil
}

type chatStreamDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

type chatStreamChoice struct {
	Index        int             `json:"index"`
	Delta        chatStreamDelta `json:"delta"`
	FinishReason *string         `json:"finish_reason"`
}

type chatStreamPayload struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []chatStreamChoice `json:"choices"`
	Usage   *CompletionUsage   `json:"usage,omitempty"`
}

// ChatCompletionsStream emits OpenAI chat.completion.chunk SSE frames
// through emit: a role-first chunk, one chunk per upstream delta, a
// final chunk carrying finish_reason and usage, then the [DONE]
// sentinel. Errors before the final chunk abort the stream.
func (s *Service) ChatCompletionsStream(ctx context.Context, req ChatCompletionsRequest, emit func(frame string) error) error {
	if err := validateChatRequest(req); err != nil {
		return err
	}

	completionID := newCompletionID("chatcmpl")
	created := time.Now().UTC().Unix()

	chunkFrame := func(delta chatStreamDelta, finishReason *string, usage *CompletionUsage) (string, error) {
		payload := chatStreamPayload{
			ID:      completionID,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   req.Model,
			Choices: []chatStreamChoice{{Index: 0, Delta: delta, FinishReason: finishReason}},
			Usage:   usage,
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return "", domain.WrapExternal(err, "Chat stream frame encoding failed: %v", err)
		}
		return "data: " + string(data) + "\n\n", nil
	}

	// Role first so clients can initialize choice state.
	frame, err := chunkFrame(chatStreamDelta{Role: domain.RoleAssistant}, nil, nil)
	if err != nil {
		return err
	}
	if err := emit(frame); err != nil {
		return err
	}

	promptTokens := 0
	completionTokens := 0
	finishReason := "stop"

	err = s.ollama.ChatStream(ctx, ChatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}, func(chunk ChatStreamChunk) error {
		if chunk.ContentDelta != "" {
			frame, err := chunkFrame(chatStreamDelta{Content: chunk.ContentDelta}, nil, nil)
			if err != nil {
				return err
			}
			if err := emit(frame); err != nil {
				return err
			}
		}
		if chunk.Done {
			if chunk.FinishReason != "" {
				finishReason = chunk.FinishReason
			}
			promptTokens = max(chunk.PromptTokens, 0)
			completionTokens = max(chunk.CompletionTokens, 0)
		}
		return nil
	})
	if err != nil {
		return err
	}

	usage := &CompletionUsage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}
	frame, err = chunkFrame(chatStreamDelta{}, &finishReason, usage)
	if err != nil {
		return err
	}
	if err := emit(frame); err != nil {
		return err
	}
	return emit("data: [DONE]\n\n")
}

// Completions runs an OpenAI text completion through the chat route.
func (s *Service) Completions(ctx context.Context, req CompletionsRequest) (*CompletionsResponse, error) {
	if req.Model == "" {
		return nil, domain.Validationf("model must not be empty")
	}
	if err := validateSampling(req.Temperature, req.MaxTokens); err != nil {
		return nil, err
	}
	if req.Stream {
		return nil, domain.Validationf("stream=true is not supported yet for text completions")
	}

	prompt, err := normalizePrompt(req.Prompt)
	if err != nil {
		return nil, err
	}

	result, err := s.ollama.Chat(ctx, ChatRequest{
		Model:       req.Model,
		Messages:    []domain.ChatMessage{{Role: domain.RoleUser, Content: prompt}},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &CompletionsResponse{
		ID:      newCompletionID("cmpl"),
		Object:  "text_completion",
		Created: now.Unix(),
		Model:   req.Model,
		Choices: []CompletionChoice{
			{Text: result.Content, Index: 0, FinishReason: result.FinishReason},
		},
		Usage: CompletionUsage{
			PromptTokens:     result.PromptTokens,
			CompletionTokens: result.CompletionTokens,
			TotalTokens:      result.PromptTokens + result.CompletionTokens,
		},
		CreatedAt: now,
	}, nil
}

// Embeddings generates vectors for the normalized input, consulting the
// read-through cache when one is wired.
func (s *Service) Embeddings(ctx context.Context, req EmbeddingsRequest) (*EmbeddingsResponse, error) {
	if req.Model == "" {
		return nil, domain.Validationf("model must not be empty")
	}

	texts, err := normalizeEmbeddingInput(req.Input)
	if err != nil {
		return nil, err
	}

	cacheKey := embedCacheKey(req.Model, texts)
	result, cached := s.cachedEmbeddings(ctx, cacheKey)
	if !cached {
		result, err = s.ollama.Embed(ctx, req.Model, texts)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			s.cache.SetEmbeddings(ctx, cacheKey, result)
		}
	}

	data := make([]EmbeddingData, 0, len(result.Embeddings))
	for index, vector := range result.Embeddings {
		data = append(data, EmbeddingData{Object: "embedding", Index: index, Embedding: vector})
	}

	return &EmbeddingsResponse{
		Object: "list",
		Model:  req.Model,
		Data:   data,
		Usage: EmbeddingsUsage{
			PromptTokens: result.PromptTokens,
			TotalTokens:  result.PromptTokens,
		},
	}, nil
}

// Rerank validates and proxies one rerank call to the backend.
func (s *Service) Rerank(ctx context.Context, req RerankRequest) (*RerankResponse, error) {
	if req.Model == "" {
		return nil, domain.Validationf("model must not be empty")
	}

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, domain.Validationf("query must not be empty")
	}

	documents := make([]string, 0, len(req.Documents))
	for _, item := range req.Documents {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			documents = append(documents, trimmed)
		}
	}
	if len(documents) == 0 {
		return nil, domain.Validationf("documents must contain at least one non-empty item")
	}

	topN := 0
	if req.TopN != nil {
		topN = *req.TopN
		if topN < 1 || topN > maxRerankTopN {
			return nil, domain.Validationf("top_n must be between 1 and %d", maxRerankTopN)
		}
		if topN > len(documents) {
			topN = len(documents)
		}
	}

	rows, err := s.reranker.Rerank(ctx, req.Model, query, documents, topN)
	if err != nil {
		return nil, err
	}

	return &RerankResponse{Model: req.Model, Results: rows}, nil
}

func (s *Service) cachedEmbeddings(ctx context.Context, key string) (*EmbedResult, bool) {
	if s.cache == nil {
		return nil, false
	}
	result, ok := s.cache.GetEmbeddings(ctx, key)
	if !ok || result == nil {
		return nil, false
	}
	s.logger.WithField("key", key).Debug("Embedding cache hit")
	return result, true
}

func validateChatRequest(req ChatCompletionsRequest) error {
	if req.Model == "" {
		return domain.Validationf("model must not be empty")
	}
	if len(req.Messages) == 0 {
		return domain.Validationf("messages must not be empty")
	}
	for _, message := range req.Messages {
		switch message.Role {
		case domain.RoleSystem, domain.RoleUser, domain.RoleAssistant:
		default:
			return domain.Validationf("message role must be one of system, user, assistant")
		}
		if message.Content == "" {
			return domain.Validationf("message content must not be empty")
		}
	}
	return validateSampling(req.Temperature, req.MaxTokens)
}

func validateSampling(temperature float64, maxTokens int) error {
	if temperature < 0 || temperature > maxTemperature {
		return domain.Validationf("temperature must be between 0.0 and 2.0")
	}
	if maxTokens != 0 && (maxTokens < 1 || maxTokens > maxTokensCeiling) {
		return domain.Validationf("max_tokens must be between 1 and %d", maxTokensCeiling)
	}
	return nil
}

func normalizePrompt(prompt StringOrList) (string, error) {
	if !prompt.IsList {
		normalized := strings.TrimSpace(prompt.String)
		if normalized == "" {
			return "", domain.Validationf("prompt must not be empty")
		}
		return normalized, nil
	}

	nonEmpty := make([]string, 0, len(prompt.List))
	for _, item := range prompt.List {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			nonEmpty = append(nonEmpty, trimmed)
		}
	}
	if len(nonEmpty) == 0 {
		return "", domain.Validationf("prompt list must contain at least one non-empty item")
	}
	return strings.Join(nonEmpty, "\n"), nil
}

func normalizeEmbeddingInput(input StringOrList) ([]string, error) {
	if !input.IsList {
		normalized := strings.TrimSpace(input.String)
		if normalized == "" {
			return nil, domain.Validationf("input must not be empty")
		}
		return []string{normalized}, nil
	}

	texts := make([]string, 0, len(input.List))
	for _, item := range input.List {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			texts = append(texts, trimmed)
		}
	}
	if len(texts) == 0 {
		return nil, domain.Validationf("input list must contain at least one non-empty item")
	}
	return texts, nil
}

// embedCacheKey hashes the model and inputs; NUL separators keep
// adjacent texts from colliding under concatenation.
func embedCacheKey(model string, texts []string) string {
	hasher := sha256.New()
	hasher.Write([]byte(model))
	hasher.Write([]byte{0})
	for _, text := range texts {
		hasher.Write([]byte(text))
		hasher.Write([]byte{0})
	}
	return "embeddings:" + model + ":" + hex.EncodeToString(hasher.Sum(nil))
}

func newCompletionID(prefix string) string {
	id := uuid.New()
	return prefix + "-" + hex.EncodeToString(id[:])[:24]
}
