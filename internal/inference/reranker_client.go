package inference

import (
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

// RerankerClient proxies the gateway's /rerank to the dedicated
// cross-encoder service, which shares the Ollama-style wire shape.
type RerankerClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewRerankerClient(baseURL string, timeout time.Duration, logger *logrus.Logger) *RerankerClient {
	if logger == nil {
		logger = logrus.New()
	}
	return &RerankerClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type rerankerWireRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type rerankerWireResponse struct {
	Model   string            `json:"model"`
	Results []json.RawMessage `json:"results"`
}

// Rerank calls the reranker backend and returns normalized rows.
// topN <= 0 leaves the cutoff to the backend.
func (c *RerankerClient) Rerank(ctx context.Context, model, query string, documents []string, topN int) ([]domain.RerankRow, error) {
	payload := rerankerWireRequest{
		Model:     model,
		Query:     query,
		Documents: documents,
	}
	if topN > 0 {
		payload.TopN = topN
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.WrapExternal(err, "Reranker API request failed: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rerank", bytes.NewReader(data))
	if err != nil {
		return nil, domain.WrapExternal(err, "Reranker API request failed: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, domain.WrapExternal(err, "Reranker API request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.WrapExternal(err, "Reranker API request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domain.Externalf("Reranker API request failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed rerankerWireResponse
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Results == nil {
		return nil, domain.Externalf("Reranker API response is missing results")
	}

	rows := make([]domain.RerankRow, 0, len(parsed.Results))
	for _, raw := range parsed.Results {
		var row struct {
			Index          *int     `json:"index"`
			RelevanceScore *float64 `json:"relevance_score"`
		}
		if err := json.Unmarshal(raw, &row); err != nil {
			return nil, domain.Externalf("Reranker API response contains malformed result row")
		}
		if row.Index == nil || row.RelevanceScore == nil {
			return nil, domain.Externalf("Reranker API response row has invalid index/relevance_score")
		}
		rows = append(rows, domain.RerankRow{Index: *row.Index, RelevanceScore: *row.RelevanceScore})
	}

	c.logger.WithFields(logrus.Fields{
		"model":     model,
		"documents": len(documents),
		"rows":      len(rows),
	}).Debug("Reranker backend call completed")
	return rows, nil
}
