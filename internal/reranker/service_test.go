package reranker

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.ragsuite.platform/internal/domain"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// scorerStub hands out canned scores, truncated to the document count.
type scorerStub struct {
	scores   []float64
	err      error
	queries  []string
	calls    [][]string
	destroys int
}

func (s *scorerStub) Score(_ context.Context, query string, documents []string) ([]float64, error) {
	s.queries = append(s.queries, query)
	s.calls = append(s.calls, documents)
	if s.err != nil {
		return nil, s.err
	}
	return s.scores[:len(documents)], nil
}

func (s *scorerStub) Destroy() error {
	s.destroys++
	return nil
}

type stubbedService struct {
	svc   *Service
	stub  *scorerStub
	loads int
}

func newStubbedService(t *testing.T, opts ServiceOptions) *stubbedService {
	t.Helper()
	if opts.Device == "" {
		opts.Device = "cpu"
	}
	if opts.MaxLength == 0 {
		opts.MaxLength = 512
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = 8
	}

	wrapper := &stubbedService{
		svc:  NewService(NewRegistry("models", DefaultModelID), opts, quietLogger()),
		stub: &scorerStub{scores: []float64{0.2, 0.95, 0.5}},
	}
	wrapper.svc.loader = func(ModelSpec, encoderOptions, *logrus.Logger) (scorer, error) {
		wrapper.loads++
		return wrapper.stub, nil
	}
	return wrapper
}

func intPtr(v int) *int { return &v }

func TestRerankResolvesAliasAndSortsDescending(t *testing.T) {
	wrapper := newStubbedService(t, ServiceOptions{})

	resp, err := wrapper.svc.Rerank(context.Background(), RerankRequest{
		Model:     "bge-reranker-v2-m3:latest",
		Query:     "gift",
		Documents: []string{"doc0", "doc1", "doc2"},
		TopN:      intPtr(2),
	})
	require.NoError(t, err)

	assert.Equal(t, "bge-reranker-v2-m3:latest", resp.Model)
	assert.Equal(t, DefaultModelID, resp.ResolvedModel)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, 1, resp.Results[0].Index)
	assert.InDelta(t, 0.95, resp.Results[0].RelevanceScore, 1e-9)
	assert.Equal(t, 2, resp.Results[1].Index)
	assert.InDelta(t, 0.5, resp.Results[1].RelevanceScore, 1e-9)
}

func TestRerankEmptyModelUsesDefault(t *testing.T) {
	wrapper := newStubbedService(t, ServiceOptions{})

	resp, err := wrapper.svc.Rerank(context.Background(), RerankRequest{
		Query:     "gift",
		Documents: []string{"doc a", "doc b"},
	})
	require.NoError(t, err)

	assert.Equal(t, DefaultModelID, resp.ResolvedModel)
	assert.Len(t, resp.Results, 2)
}

func TestRerankDropsBlankDocumentsBeforeScoring(t *testing.T) {
	wrapper := newStubbedService(t, ServiceOptions{})

	resp, err := wrapper.svc.Rerank(context.Background(), RerankRequest{
		Query:     "gift",
		Documents: []string{"  doc a  ", "   ", "doc b"},
	})
	require.NoError(t, err)

	require.Len(t, wrapper.stub.calls, 1)
	assert.Equal(t, []string{"doc a", "doc b"}, wrapper.stub.calls[0])
	assert.Len(t, resp.Results, 2)
}

func TestRerankTopNClampedToDocumentCount(t *testing.T) {
	wrapper := newStubbedService(t, ServiceOptions{})

	resp, err := wrapper.svc.Rerank(context.Background(), RerankRequest{
		Query:     "gift",
		Documents: []string{"doc0", "doc1", "doc2"},
		TopN:      intPtr(50),
	})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 3)
}

func TestRerankValidation(t *testing.T) {
	wrapper := newStubbedService(t, ServiceOptions{})
	ctx := context.Background()

	_, err := wrapper.svc.Rerank(ctx, RerankRequest{Query: "   ", Documents: []string{"doc"}})
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
	assert.EqualError(t, err, "query must not be empty")

	_, err = wrapper.svc.Rerank(ctx, RerankRequest{Query: "gift", Documents: []string{"  ", ""}})
	require.Error(t, err)
	assert.EqualError(t, err, "documents must contain at least one non-empty item")

	_, err = wrapper.svc.Rerank(ctx, RerankRequest{Query: "gift", Documents: []string{"doc"}, TopN: intPtr(0)})
	require.Error(t, err)
	assert.EqualError(t, err, "top_n must be between 1 and 200")

	_, err = wrapper.svc.Rerank(ctx, RerankRequest{Query: "gift", Documents: []string{"doc"}, TopN: intPtr(201)})
	require.Error(t, err)
	assert.EqualError(t, err, "top_n must be between 1 and 200")

	_, err = wrapper.svc.Rerank(ctx, RerankRequest{Model: "mystery", Query: "gift", Documents: []string{"doc"}})
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
	assert.EqualError(t, err, "Unknown reranker model 'mystery'")
	assert.Zero(t, wrapper.loads)
}

func TestRerankKeepsModelLoadedByDefault(t *testing.T) {
	wrapper := newStubbedService(t, ServiceOptions{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := wrapper.svc.Rerank(ctx, RerankRequest{Query: "gift", Documents: []string{"doc a", "doc b"}})
		require.NoError(t, err)
	}

	assert.Equal(t, 1, wrapper.loads)
	assert.Equal(t, []string{DefaultModelID}, wrapper.svc.LoadedModels())
	assert.Zero(t, wrapper.stub.destroys)
}

func TestRerankUnloadsAfterRequestWhenConfigured(t *testing.T) {
	wrapper := newStubbedService(t, ServiceOptions{UnloadAfterRequest: true})
	ctx := context.Background()

	_, err := wrapper.svc.Rerank(ctx, RerankRequest{Query: "gift", Documents: []string{"doc a", "doc b"}})
	require.NoError(t, err)
	assert.Empty(t, wrapper.svc.LoadedModels())
	assert.Equal(t, 1, wrapper.stub.destroys)

	_, err = wrapper.svc.Rerank(ctx, RerankRequest{Query: "gift", Documents: []string{"doc a"}})
	require.NoError(t, err)
	assert.Equal(t, 2, wrapper.loads)
	assert.Equal(t, 2, wrapper.stub.destroys)
}

func TestRerankUnloadsAfterScoringFailure(t *testing.T) {
	wrapper := newStubbedService(t, ServiceOptions{UnloadAfterRequest: true})
	wrapper.stub.err = errors.New("onnx session poisoned")

	_, err := wrapper.svc.Rerank(context.Background(), RerankRequest{Query: "gift", Documents: []string{"doc"}})
	require.Error(t, err)

	assert.Empty(t, wrapper.svc.LoadedModels())
	assert.Equal(t, 1, wrapper.stub.destroys)
}

func TestRerankLoadFailureSurfacesAsExternal(t *testing.T) {
	wrapper := newStubbedService(t, ServiceOptions{})
	wrapper.svc.loader = func(ModelSpec, encoderOptions, *logrus.Logger) (scorer, error) {
		return nil, errors.New("model file not found: models/bge-reranker-v2-m3/model.onnx")
	}

	_, err := wrapper.svc.Rerank(context.Background(), RerankRequest{Query: "gift", Documents: []string{"doc"}})
	require.Error(t, err)
	assert.True(t, domain.IsExternal(err))
	assert.Contains(t, err.Error(), "Cross-encoder model load failed. model=BAAI/bge-reranker-v2-m3 device=cpu")
	assert.Empty(t, wrapper.svc.LoadedModels())
}

func TestHealthReportListsLoadedModels(t *testing.T) {
	dir := t.TempDir()
	contents := `
models:
  - id: acme/mini-ranker
    dir: mini-ranker
    aliases: [mini-ranker]
`
	path := filepath.Join(dir, "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	registry, err := LoadRegistry(path, "models", DefaultModelID)
	require.NoError(t, err)

	svc := NewService(registry, ServiceOptions{Device: "cpu", MaxLength: 512, BatchSize: 8}, quietLogger())
	svc.loader = func(ModelSpec, encoderOptions, *logrus.Logger) (scorer, error) {
		return &scorerStub{scores: []float64{0.7}}, nil
	}

	ctx := context.Background()
	_, err = svc.Rerank(ctx, RerankRequest{Model: "mini-ranker", Query: "gift", Documents: []string{"doc"}})
	require.NoError(t, err)
	_, err = svc.Rerank(ctx, RerankRequest{Query: "gift", Documents: []string{"doc"}})
	require.NoError(t, err)

	report := svc.HealthReport()
	assert.Equal(t, "ok", report.Status)
	assert.Equal(t, "cpu", report.Device)
	assert.Equal(t, DefaultModelID, report.DefaultModel)
	assert.Equal(t, []string{DefaultModelID, "acme/mini-ranker"}, report.LoadedModels)
	assert.False(t, report.Timestamp.IsZero())
}

func TestUnloadAllDropsEveryModel(t *testing.T) {
	wrapper := newStubbedService(t, ServiceOptions{})

	_, err := wrapper.svc.Rerank(context.Background(), RerankRequest{Query: "gift", Documents: []string{"doc"}})
	require.NoError(t, err)
	require.Equal(t, []string{DefaultModelID}, wrapper.svc.LoadedModels())

	assert.Equal(t, 1, wrapper.svc.UnloadAll())
	assert.Empty(t, wrapper.svc.LoadedModels())
	assert.Equal(t, 1, wrapper.stub.destroys)
	assert.Zero(t, wrapper.svc.UnloadAll())
}
