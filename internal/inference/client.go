package inference

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"dev.ragsuite.platform/internal/domain"
	"dev.ragsuite.platform/internal/rag"
)

// ssePrefix marks SSE data lines on the gateway's chat stream.
const ssePrefix = "data: "

// Client is the orchestrator's adapter for the inference gateway. It
// satisfies the retrieval layer's Embedder, Generator, and RerankClient
// interfaces over the gateway's OpenAI-compatible surface.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient builds a gateway client rooted at baseURL (including the
// /v1 prefix).
func NewClient(baseURL string, timeout time.Duration, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type gatewayChatRequest struct {
	Model       string               `json:"model"`
	Stream      bool                 `json:"stream"`
	Temperature float64              `json:"temperature"`
	MaxTokens   int                  `json:"max_tokens,omitempty"`
	Messages    []domain.ChatMessage `json:"messages"`
}

type gatewayEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type gatewayRerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

// Embed returns one vector per input text, preserving order. An empty
// input set short-circuits without touching the gateway.
func (c *Client) Embed(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}

	body, err := c.postJSON(ctx, "/embeddings", gatewayEmbedRequest{Model: model, Input: inputs}, "Inference embeddings request failed")
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Data == nil {
		return nil, domain.Externalf("Inference embeddings response is missing data")
	}

	vectors := make([][]float32, 0, len(parsed.Data))
	for _, raw := range parsed.Data {
		var row struct {
			Embedding json.RawMessage `json:"embedding"`
		}
		if err := json.Unmarshal(raw, &row); err != nil || row.Embedding == nil {
			return nil, domain.Externalf("Inference embeddings row is malformed")
		}
		var vector []float32
		if err := json.Unmarshal(row.Embedding, &vector); err != nil {
			return nil, domain.Externalf("Inference embeddings response contains malformed vectors")
		}
		if len(vector) == 0 {
			return nil, domain.Externalf("Inference embeddings response contains empty vector")
		}
		vectors = append(vectors, vector)
	}
	return vectors, nil
}

// Chat generates a non-streamed grounded completion and returns the
// trimmed assistant content.
func (c *Client) Chat(ctx context.Context, req rag.GenerationRequest) (string, error) {
	payload := gatewayChatRequest{
		Model:       req.Model,
		Stream:      false,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Messages:    req.Messages,
	}

	body, err := c.postJSON(ctx, "/chat/completions", payload, "Inference chat request failed")
	if err != nil {
		return "", err
	}

	var parsed struct {
		Choices []json.RawMessage `json:"choices"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || len(parsed.Choices) == 0 {
		return "", domain.Externalf("Inference chat response is missing choices")
	}

	var choice struct {
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(parsed.Choices[0], &choice); err != nil {
		return "", domain.Externalf("Inference chat response choice is malformed")
	}
	if choice.Message == nil {
		return "", domain.Externalf("Inference chat response is missing message payload")
	}

	var message struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(choice.Message, &message); err != nil {
		return "", domain.Externalf("Inference chat response is missing message payload")
	}

	content := strings.TrimSpace(message.Content)
	if content == "" {
		return "", domain.Externalf("Inference chat response contains empty completion")
	}
	return content, nil
}

// ChatStream consumes the gateway's SSE chat stream, invoking onDelta
// once per non-empty content delta, and returns the concatenated
// answer. Role-only and finish chunks pass through silently.
func (c *Client) ChatStream(ctx context.Context, req rag.GenerationRequest, onDelta func(content string) error) (string, error) {
	payload := gatewayChatRequest{
		Model:       req.Model,
		Stream:      true,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Messages:    req.Messages,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", domain.WrapExternal(err, "Inference chat request failed. Details: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", domain.WrapExternal(err, "Inference chat request failed. Details: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", domain.WrapExternal(err, "Inference chat request failed. Details: %s",
			transportFailure(err, http.MethodPost, c.baseURL+"/chat/completions"))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", domain.Externalf("Inference chat request failed. Details: %s", statusFailure(resp.StatusCode, body))
	}

	var answer strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), streamLineLimit)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, ssePrefix) {
			continue
		}

		payload := strings.TrimSpace(strings.TrimPrefix(line, ssePrefix))
		if payload == "[DONE]" {
			break
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return "", domain.WrapExternal(err, "Inference chat stream contained malformed JSON: %v", err)
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		content := chunk.Choices[0].Delta.Content
		if content == "" {
			continue
		}

		answer.WriteString(content)
		if err := onDelta(content); err != nil {
			return "", err
		}
	}

	if err := scanner.Err(); err != nil {
		return "", domain.WrapExternal(err, "Inference chat stream read failed: %v", err)
	}
	return answer.String(), nil
}

// Rerank asks the gateway to score (query, document) pairs; topN <= 0
// leaves the cutoff to the backend.
func (c *Client) Rerank(ctx context.Context, model, query string, documents []string, topN int) ([]domain.RerankRow, error) {
	payload := gatewayRerankRequest{
		Model:     model,
		Query:     query,
		Documents: documents,
	}
	if topN > 0 {
		payload.TopN = topN
	}

	body, err := c.postJSON(ctx, "/rerank", payload, "Inference rerank request failed")
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Results == nil {
		return nil, domain.Externalf("Inference rerank response is missing results")
	}

	rows := make([]domain.RerankRow, 0, len(parsed.Results))
	for _, raw := range parsed.Results {
		var row struct {
			Index          *int     `json:"index"`
			RelevanceScore *float64 `json:"relevance_score"`
		}
		if err := json.Unmarshal(raw, &row); err != nil || row.Index == nil || row.RelevanceScore == nil {
			return nil, domain.Externalf("Inference rerank row is malformed")
		}
		rows = append(rows, domain.RerankRow{Index: *row.Index, RelevanceScore: *row.RelevanceScore})
	}
	return rows, nil
}

// HealthCheck verifies the gateway answers its health route.
func (c *Client) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return domain.WrapExternal(err, "Inference health check failed: %v", err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.WrapExternal(err, "Inference health check failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.Externalf("Inference health check failed: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, errPrefix string) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.WrapExternal(err, "%s. Details: %v", errPrefix, err)
	}

	url := c.baseURL + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, domain.WrapExternal(err, "%s. Details: %v", errPrefix, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, domain.WrapExternal(err, "%s. Details: %s", errPrefix, transportFailure(err, http.MethodPost, url))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.WrapExternal(err, "%s. Details: %s", errPrefix, transportFailure(err, http.MethodPost, url))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domain.Externalf("%s. Details: %s", errPrefix, statusFailure(resp.StatusCode, body))
	}
	return body, nil
}

// transportFailure and statusFailure build the " | " joined diagnostics
// surfaced when a gateway call fails before or after reaching HTTP.

func transportFailure(err error, method, url string) string {
	return fmt.Sprintf("%v | request=%s %s", err, method, url)
}

func statusFailure(status int, body []byte) string {
	parts := []string{
		fmt.Sprintf("upstream returned status %d", status),
		fmt.Sprintf("status=%d", status),
	}
	trimmed := strings.TrimSpace(string(body))
	if trimmed != "" {
		if len(trimmed) > 300 {
			trimmed = trimmed[:300]
		}
		parts = append(parts, "response="+trimmed)
	}
	return strings.Join(parts, " | ")
}
