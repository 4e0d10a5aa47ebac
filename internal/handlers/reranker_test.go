package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.ragsuite.platform/internal/domain"
	"dev.ragsuite.platform/internal/reranker"
)

type scorerStub struct {
	response *reranker.RerankResponse
	health   reranker.Health
	err      error

	lastQuery string
}

func (s *scorerStub) Rerank(ctx context.Context, req reranker.RerankRequest) (*reranker.RerankResponse, error) {
	s.lastQuery = req.Query
	if s.err != nil {
		return nil, s.err
	}
	return s.response, nil
}

func (s *scorerStub) HealthReport() reranker.Health {
	return s.health
}

func newRerankerRouter(service RerankScorer) *gin.Engine {
	handler := NewRerankerHandler(service, quietLogger())
	router := gin.New()
	handler.RegisterRoutes(router.Group("/v1"))
	return router
}

func TestRerankerRerankRoute(t *testing.T) {
	t.Run("returns scored rows in rank order", func(t *testing.T) {
		service := &scorerStub{
			response: &reranker.RerankResponse{
				Model:         "bge-reranker-v2-m3",
				ResolvedModel: "BAAI/bge-reranker-v2-m3",
				Results: []domain.RerankRow{
					{Index: 2, RelevanceScore: 0.88},
					{Index: 0, RelevanceScore: 0.41},
				},
			},
		}
		router := newRerankerRouter(service)

		w := performJSON(router, http.MethodPost, "/v1/rerank", gin.H{
			"query":     "qdrant filtering",
			"documents": []string{"a", "b", "c"},
			"top_n":     2,
		}, nil)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "qdrant filtering", service.lastQuery)

		var body reranker.RerankResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "BAAI/bge-reranker-v2-m3", body.ResolvedModel)
		require.Len(t, body.Results, 2)
		assert.Equal(t, 2, body.Results[0].Index)
	})

	t.Run("maps validation failures", func(t *testing.T) {
		service := &scorerStub{err: domain.Validationf("documents must not be empty")}
		router := newRerankerRouter(service)

		w := performJSON(router, http.MethodPost, "/v1/rerank", gin.H{
			"query":     "anything",
			"documents": []string{},
		}, nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.JSONEq(t, `{"detail": "documents must not be empty"}`, w.Body.String())
	})

	t.Run("maps unknown models to 404", func(t *testing.T) {
		service := &scorerStub{err: domain.NotFoundf("Unknown reranker model: tiny-rank")}
		router := newRerankerRouter(service)

		w := performJSON(router, http.MethodPost, "/v1/rerank", gin.H{
			"model":     "tiny-rank",
			"query":     "anything",
			"documents": []string{"a"},
		}, nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestRerankerHealthRoute(t *testing.T) {
	service := &scorerStub{
		health: reranker.Health{
			Status:       "ok",
			Device:       "cpu",
			DefaultModel: "BAAI/bge-reranker-v2-m3",
			LoadedModels: []string{"BAAI/bge-reranker-v2-m3"},
			Timestamp:    time.Now().UTC(),
		},
	}
	router := newRerankerRouter(service)

	w := performJSON(router, http.MethodGet, "/v1/health", nil, nil)

	require.Equal(t, http.StatusOK, w.Code)

	var body reranker.Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "cpu", body.Device)
	assert.Equal(t, []string{"BAAI/bge-reranker-v2-m3"}, body.LoadedModels)
}
