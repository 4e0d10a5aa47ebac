package inference

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"dev.ragsuite.platform/internal/domain"
)

// streamLineLimit caps one NDJSON line; generous because a single line
// can carry a large delta plus the full context echo on the done line.
const streamLineLimit = 1024 * 1024

// OllamaClient adapts the local Ollama runtime for the gateway and for
// the ingestion pipeline's LLM-backed steps.
type OllamaClient struct {
	baseURL    string
	keepAlive  string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewOllamaClient builds a client for one Ollama endpoint. keepAlive is
// passed through to the runtime so models stay resident between calls.
func NewOllamaClient(baseURL, keepAlive string, timeout time.Duration, logger *logrus.Logger) *OllamaClient {
	if logger == nil {
		logger = logrus.New()
	}
	return &OllamaClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		keepAlive:  keepAlive,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatRequest struct {
	Model     string               `json:"model"`
	Stream    bool                 `json:"stream"`
	Messages  []domain.ChatMessage `json:"messages"`
	Options   ollamaOptions        `json:"options"`
	KeepAlive string               `json:"keep_alive,omitempty"`
}

type ollamaChatMessage struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	Thinking string `json:"thinking,omitempty"`
}

type ollamaChatResponse struct {
	Message         *ollamaChatMessage `json:"message"`
	Done            bool               `json:"done"`
	DoneReason      string             `json:"done_reason"`
	PromptEvalCount int                `json:"prompt_eval_count"`
	EvalCount       int                `json:"eval_count"`
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings      [][]float32 `json:"embeddings"`
	PromptEvalCount int         `json:"prompt_eval_count"`
}

// Chat runs a non-streamed chat completion. When the model routes its
// whole output through the thinking channel, that text stands in for
// the empty content field.
func (c *OllamaClient) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	payload := ollamaChatRequest{
		Model:     req.Model,
		Stream:    false,
		Messages:  req.Messages,
		Options:   ollamaOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens},
		KeepAlive: c.keepAlive,
	}

	body, err := c.post(ctx, "/api/chat", payload, "Ollama chat request failed")
	if err != nil {
		return nil, err
	}

	var parsed ollamaChatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, domain.WrapExternal(err, "Ollama chat response was not valid JSON: %v", err)
	}
	if parsed.Message == nil {
		return nil, domain.Externalf("Ollama response is missing message payload")
	}

	content := strings.TrimSpace(parsed.Message.Content)
	if content == "" {
		content = strings.TrimSpace(parsed.Message.Thinking)
	}
	if content == "" {
		return nil, domain.Externalf("Ollama response contained empty completion text")
	}

	finishReason := parsed.DoneReason
	if finishReason == "" {
		finishReason = "stop"
	}

	return &ChatResult{
		Content:          content,
		PromptTokens:     max(parsed.PromptEvalCount, 0),
		CompletionTokens: max(parsed.EvalCount, 0),
		FinishReason:     finishReason,
	}, nil
}

// ChatStream runs a streamed chat completion, invoking onChunk once per
// NDJSON line in upstream order. Thinking deltas arrive wrapped in
// <thinking> tags ahead of any content on the same line.
func (c *OllamaClient) ChatStream(ctx context.Context, req ChatRequest, onChunk func(ChatStreamChunk) error) error {
	payload := ollamaChatRequest{
		Model:     req.Model,
		Stream:    true,
		Messages:  req.Messages,
		Options:   ollamaOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens},
		KeepAlive: c.keepAlive,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return domain.WrapExternal(err, "Ollama chat request failed: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(data))
	if err != nil {
		return domain.WrapExternal(err, "Ollama chat request failed: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.WrapExternal(err, "Ollama chat request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return domain.Externalf("Ollama chat request failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), streamLineLimit)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var parsed ollamaChatResponse
		if err := json.Unmarshal([]byte(line), &parsed); err != nil {
			return domain.WrapExternal(err, "Ollama chat stream contained malformed JSON: %v", err)
		}

		chunk := ChatStreamChunk{}
		if parsed.Message != nil {
			if parsed.Message.Thinking != "" {
				chunk.ContentDelta = "<thinking>" + parsed.Message.Thinking + "</thinking>"
			}
			chunk.ContentDelta += parsed.Message.Content
		}
		if parsed.Done {
			chunk.Done = true
			chunk.FinishReason = parsed.DoneReason
			if chunk.FinishReason == "" {
				chunk.FinishReason = "stop"
			}
			chunk.PromptTokens = max(parsed.PromptEvalCount, 0)
			chunk.CompletionTokens = max(parsed.EvalCount, 0)
		}

		if err := onChunk(chunk); err != nil {
			return err
		}
		if chunk.Done {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		return domain.WrapExternal(err, "Ollama chat stream read failed: %v", err)
	}
	return nil
}

// Embed generates one vector per input text via /api/embed.
func (c *OllamaClient) Embed(ctx context.Context, model string, inputs []string) (*EmbedResult, error) {
	body, err := c.post(ctx, "/api/embed", ollamaEmbedRequest{Model: model, Input: inputs}, "Ollama embeddings request failed")
	if err != nil {
		return nil, err
	}

	var parsed ollamaEmbedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, domain.WrapExternal(err, "Ollama embeddings response contained malformed vector row")
	}
	if parsed.Embeddings == nil {
		return nil, domain.Externalf("Ollama embeddings response is missing embeddings")
	}
	for _, vector := range parsed.Embeddings {
		if len(vector) == 0 {
			return nil, domain.Externalf("Ollama embeddings response contained empty vector")
		}
	}

	return &EmbedResult{
		Embeddings:   parsed.Embeddings,
		PromptTokens: max(parsed.PromptEvalCount, 0),
	}, nil
}

// Complete satisfies the pipeline's ChatCompleter with a zero
// temperature system+user exchange.
func (c *OllamaClient) Complete(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	result, err := c.Chat(ctx, ChatRequest{
		Model: model,
		Messages: []domain.ChatMessage{
			{Role: domain.RoleSystem, Content: systemPrompt},
			{Role: domain.RoleUser, Content: userPrompt},
		},
	})
	if err != nil {
		return "", err
	}
	return result.Content, nil
}

// HealthCheck verifies the runtime answers its tags endpoint.
func (c *OllamaClient) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return domain.WrapExternal(err, "Ollama health check failed: %v", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.WrapExternal(err, "Ollama health check failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Externalf("Ollama health check failed: status %d", resp.StatusCode)
	}
	return nil
}

func (c *OllamaClient) post(ctx context.Context, path string, payload any, errPrefix string) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.WrapExternal(err, "%s: %v", errPrefix, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, domain.WrapExternal(err, "%s: %v", errPrefix, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, domain.WrapExternal(err, "%s: %v", errPrefix, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.WrapExternal(err, "%s: %v", errPrefix, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domain.Externalf("%s: status %d: %s", errPrefix, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
