package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.ragsuite.platform/internal/domain"
)

type stubRerankClient struct {
	rows []domain.RerankRow
	err  error

	calls         int
	lastModel     string
	lastQuery     string
	lastDocuments []string
	lastTopN      int
}

func (s *stubRerankClient) Rerank(ctx context.Context, model, query string, documents []string, topN int) ([]domain.RerankRow, error) {
	s.calls++
	s.lastModel = model
	s.lastQuery = query
	s.lastDocuments = documents
	s.lastTopN = topN
	if s.err != nil {
		return nil, s.err
	}
	return s.rows, nil
}

// rerankStubStack returns a stack whose hybrid stage ranks four chunks by
// dense score alone: k1 > k2 > k3 > k4. The candidate texts share no
// terms with the query, so BM25 contributes nothing.
func rerankStubStack() (*stubCandidateStore, *stubEmbedder, *stubSearcher) {
	store := &stubCandidateStore{
		project: &domain.Project{ID: "p1", Name: "Demo", QdrantCollectionName: "rag_suite_project_demo"},
		candidates: []domain.RetrievalCandidate{
			{ChunkKey: "k1", DocumentID: "d1", DocumentName: "One", ChunkIndex: 0, Text: "alpha"},
			{ChunkKey: "k2", DocumentID: "d1", DocumentName: "One", ChunkIndex: 1, Text: "beta"},
			{ChunkKey: "k3", DocumentID: "d2", DocumentName: "Two", ChunkIndex: 0, Text: "gamma"},
			{ChunkKey: "k4", DocumentID: "d2", DocumentName: "Two", ChunkIndex: 1, Text: "delta"},
		},
	}
	embedder := &stubEmbedder{vectors: [][]float32{{0.5, 0.5}}}
	searcher := &stubSearcher{hits: []domain.ScoredChunk{
		{ChunkKey: "k1", Score: 0.9},
		{ChunkKey: "k2", Score: 0.8},
		{ChunkKey: "k3", Score: 0.7},
		{ChunkKey: "k4", Score: 0.6},
	}}
	return store, embedder, searcher
}

func rerankTestOptions() RerankOptions {
	return RerankOptions{
		RetrievalOptions: RetrievalOptions{
			ProjectID:      "p1",
			Query:          "unrelated query terms",
			TopK:           2,
			DenseTopK:      24,
			SparseTopK:     24,
			DenseWeight:    0.65,
			EmbeddingModel: "bge-m3:latest",
		},
		RerankModel:          "BAAI/bge-reranker-v2-m3",
		RerankCandidateCount: 4,
	}
}

func newRerankedUnderTest(client *stubRerankClient) (*RerankedRetriever, *stubSearcher) {
	store, embedder, searcher := rerankStubStack()
	retriever := NewRetriever(store, embedder, searcher, quietLogger())
	return NewRerankedRetriever(retriever, client, quietLogger()), searcher
}

func TestRerankedRetrieveReordersTopK(t *testing.T) {
	client := &stubRerankClient{rows: []domain.RerankRow{
		{Index: 2, RelevanceScore: 0.99},
		{Index: 7, RelevanceScore: 0.95},
		{Index: 2, RelevanceScore: 0.90},
		{Index: 0, RelevanceScore: 0.55},
		{Index: 1, RelevanceScore: 0.40},
	}}
	reranked, _ := newRerankedUnderTest(client)

	result, err := reranked.Retrieve(context.Background(), rerankTestOptions())

	require.NoError(t, err)
	assert.Equal(t, "BAAI/bge-reranker-v2-m3", result.RerankModel)

	require.Len(t, result.HybridCandidates, 4, "window widened to the candidate pool size")
	assert.Equal(t, "k1", result.HybridCandidates[0].ChunkKey)
	assert.Equal(t, "S1", result.HybridCandidates[0].SourceID)
	assert.Equal(t, "k4", result.HybridCandidates[3].ChunkKey)

	require.Len(t, result.Sources, 2, "only top_k verdicts survive")
	first := result.Sources[0]
	assert.Equal(t, "k3", first.ChunkKey, "out-of-range and duplicate rows are skipped")
	assert.Equal(t, 1, first.Rank)
	assert.Equal(t, "S1", first.SourceID)
	assert.Equal(t, 3, first.OriginalRank)
	require.NotNil(t, first.RerankScore)
	assert.InDelta(t, 0.99, *first.RerankScore, 1e-9)

	second := result.Sources[1]
	assert.Equal(t, "k1", second.ChunkKey)
	assert.Equal(t, 2, second.Rank)
	assert.Equal(t, "S2", second.SourceID)
	assert.Equal(t, 1, second.OriginalRank)
	require.NotNil(t, second.RerankScore)
	assert.InDelta(t, 0.55, *second.RerankScore, 1e-9)

	require.Len(t, result.Documents, 2, "document summaries rebuilt over the reranked set")
	assert.Equal(t, "d2", result.Documents[0].DocumentID)
	assert.Equal(t, 1, result.Documents[0].TopRank)

	assert.Equal(t, 1, client.calls)
	assert.Equal(t, "BAAI/bge-reranker-v2-m3", client.lastModel)
	assert.Equal(t, "unrelated query terms", client.lastQuery)
	assert.Equal(t, []string{"alpha", "beta", "gamma", "delta"}, client.lastDocuments)
	assert.Equal(t, 2, client.lastTopN)
}

func TestRerankedRetrieveWidensHybridWindow(t *testing.T) {
	client := &stubRerankClient{rows: []domain.RerankRow{{Index: 0, RelevanceScore: 0.5}}}
	reranked, searcher := newRerankedUnderTest(client)

	opts := rerankTestOptions()
	opts.RerankCandidateCount = 16
	_, err := reranked.Retrieve(context.Background(), opts)

	require.NoError(t, err)
	assert.Equal(t, 24, searcher.lastLimit, "dense_top_k is untouched by the widening")
	assert.Len(t, client.lastDocuments, 4, "pool capped by what retrieval produced")
}

func TestRerankedRetrieveKeepsNarrowWindowWhenPoolSmaller(t *testing.T) {
	client := &stubRerankClient{rows: []domain.RerankRow{{Index: 0, RelevanceScore: 0.5}}}
	reranked, _ := newRerankedUnderTest(client)

	opts := rerankTestOptions()
	opts.TopK = 3
	opts.RerankCandidateCount = 1
	result, err := reranked.Retrieve(context.Background(), opts)

	require.NoError(t, err)
	assert.Len(t, result.HybridCandidates, 3, "top_k keeps the window when it exceeds the pool size")
	assert.Equal(t, 3, client.lastTopN)
}

func TestRerankedRetrieveFallsBackToHybridOrder(t *testing.T) {
	client := &stubRerankClient{rows: []domain.RerankRow{
		{Index: -1, RelevanceScore: 0.9},
		{Index: 99, RelevanceScore: 0.8},
	}}
	reranked, _ := newRerankedUnderTest(client)

	result, err := reranked.Retrieve(context.Background(), rerankTestOptions())

	require.NoError(t, err)
	require.Len(t, result.Sources, 2)
	assert.Equal(t, "k1", result.Sources[0].ChunkKey)
	assert.Equal(t, "k2", result.Sources[1].ChunkKey)
	for i, source := range result.Sources {
		assert.Equal(t, i+1, source.Rank)
		assert.Equal(t, i+1, source.OriginalRank)
		require.NotNil(t, source.RerankScore)
		assert.Equal(t, 0.0, *source.RerankScore)
	}
}

func TestRerankedRetrieveEmptyHybridSkipsReranker(t *testing.T) {
	client := &stubRerankClient{}
	store, embedder, searcher := rerankStubStack()
	store.candidates = nil
	retriever := NewRetriever(store, embedder, searcher, quietLogger())
	reranked := NewRerankedRetriever(retriever, client, quietLogger())

	result, err := reranked.Retrieve(context.Background(), rerankTestOptions())

	require.NoError(t, err)
	assert.NotNil(t, result.Sources)
	assert.Empty(t, result.Sources)
	assert.NotNil(t, result.HybridCandidates)
	assert.Empty(t, result.HybridCandidates)
	assert.Equal(t, "BAAI/bge-reranker-v2-m3", result.RerankModel)
	assert.Equal(t, 0, client.calls, "no cross-encoder call without candidates")
}

func TestRerankedRetrieveClientErrorPropagates(t *testing.T) {
	client := &stubRerankClient{err: domain.Externalf("Rerank request failed. Details: model unavailable")}
	reranked, _ := newRerankedUnderTest(client)

	result, err := reranked.Retrieve(context.Background(), rerankTestOptions())

	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, domain.IsExternal(err))
}

func TestRerankedRetrieveHybridErrorPropagates(t *testing.T) {
	client := &stubRerankClient{}
	store, embedder, searcher := rerankStubStack()
	store.projectErr = domain.NotFoundf("Project 'p1' was not found")
	retriever := NewRetriever(store, embedder, searcher, quietLogger())
	reranked := NewRerankedRetriever(retriever, client, quietLogger())

	result, err := reranked.Retrieve(context.Background(), rerankTestOptions())

	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, domain.IsNotFound(err))
	assert.Equal(t, 0, client.calls)
}
