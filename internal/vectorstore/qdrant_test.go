package vectorstore

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/qdrant/go-client/qdrant"
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

type stubBackend struct {
	exists    bool
	existsErr error
	createErr error
	deleteErr error
	upsertErr error
	queryErr  error
	healthErr error

	hits []*qdrant.ScoredPoint

	existsCalls  int
	createCalls  int
	deleteCalls  int
	upsertCalls  int
	queryCalls   int
	lastCreate   *qdrant.CreateCollection
	lastUpsert   *qdrant.UpsertPoints
	lastQuery    *qdrant.QueryPoints
	lastExists   string
	lastDeleted  string
	closedCalled bool
}

func (s *stubBackend) CollectionExists(_ context.Context, collection string) (bool, error) {
	s.existsCalls++
	s.lastExists = collection
	return s.exists, s.existsErr
}

func (s *stubBackend) CreateCollection(_ context.Context, request *qdrant.CreateCollection) error {
	s.createCalls++
	s.lastCreate = request
	return s.createErr
}

func (s *stubBackend) DeleteCollection(_ context.Context, collection string) error {
	s.deleteCalls++
	s.lastDeleted = collection
	return s.deleteErr
}

func (s *stubBackend) Upsert(_ context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	s.upsertCalls++
	s.lastUpsert = request
	if s.upsertErr != nil {
		return nil, s.upsertErr
	}
	return &qdrant.UpdateResult{}, nil
}

func (s *stubBackend) Query(_ context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	s.queryCalls++
	s.lastQuery = request
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return s.hits, nil
}

func (s *stubBackend) HealthCheck(_ context.Context) (*qdrant.HealthCheckReply, error) {
	if s.healthErr != nil {
		return nil, s.healthErr
	}
	return &qdrant.HealthCheckReply{}, nil
}

func (s *stubBackend) Close() error {
	s.closedCalled = true
	return nil
}

func TestParseURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Config
		wantErr bool
	}{
		{
			name: "explicit port",
			raw:  "http://qdrant:6334",
			want: Config{Host: "qdrant", Port: 6334},
		},
		{
			name: "default port",
			raw:  "http://qdrant",
			want: Config{Host: "qdrant", Port: 6334},
		},
		{
			name: "https enables tls",
			raw:  "https://qdrant.example.com:7443",
			want: Config{Host: "qdrant.example.com", Port: 7443, UseTLS: true},
		},
		{
			name:    "missing host",
			raw:     "http://",
			wantErr: true,
		},
		{
			name:    "garbage",
			raw:     "://nope",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseURL(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, domain.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEnsureCollectionCreatesWhenAbsent(t *testing.T) {
	backend := &stubBackend{exists: false}
	store := newStore(backend, quietLogger())

	err := store.EnsureCollection(context.Background(), "rag_suite_project_demo", 1024)
	require.NoError(t, err)

	require.Equal(t, 1, backend.createCalls)
	require.NotNil(t, backend.lastCreate)
	assert.Equal(t, "rag_suite_project_demo", backend.lastCreate.CollectionName)

	params := backend.lastCreate.VectorsConfig.GetParams()
	require.NotNil(t, params)
	assert.Equal(t, uint64(1024), params.Size)
	assert.Equal(t, qdrant.Distance_Cosine, params.Distance)
}

func TestEnsureCollectionSkipsExisting(t *testing.T) {
	backend := &stubBackend{exists: true}
	store := newStore(backend, quietLogger())

	err := store.EnsureCollection(context.Background(), "rag_suite_project_demo", 1024)
	require.NoError(t, err)
	assert.Zero(t, backend.createCalls)
}

func TestEnsureCollectionWrapsBackendError(t *testing.T) {
	backend := &stubBackend{existsErr: errors.New("grpc unavailable")}
	store := newStore(backend, quietLogger())

	err := store.EnsureCollection(context.Background(), "demo", 8)
	require.Error(t, err)
	assert.True(t, domain.IsExternal(err))
	assert.Contains(t, err.Error(), "Qdrant collection check failed for 'demo'")
}

func TestUpsertChunksBuildsPayload(t *testing.T) {
	backend := &stubBackend{}
	store := newStore(backend, quietLogger())

	points := []ChunkPoint{
		{
			PointID:       "6f1f6f9a-7f61-4a1c-9f7e-000000000001",
			Vector:        []float32{0.1, 0.2, 0.3},
			ChunkID:       "doc-1:0",
			ProjectID:     "p1",
			DocumentID:    "doc-1",
			DocumentName:  "Cell Biology",
			ChunkIndex:    0,
			StartChar:     0,
			EndChar:       42,
			SourceType:    "text",
			ContextHeader: "Overview of mitochondria.",
		},
	}

	err := store.UpsertChunks(context.Background(), "rag_suite_project_demo", points)
	require.NoError(t, err)

	require.Equal(t, 1, backend.upsertCalls)
	require.NotNil(t, backend.lastUpsert)
	assert.Equal(t, "rag_suite_project_demo", backend.lastUpsert.CollectionName)
	require.NotNil(t, backend.lastUpsert.Wait)
	assert.True(t, *backend.lastUpsert.Wait)

	require.Len(t, backend.lastUpsert.Points, 1)
	payload := backend.lastUpsert.Points[0].Payload
	assert.Equal(t, "doc-1:0", payload["chunk_id"].GetStringValue())
	assert.Equal(t, "p1", payload["project_id"].GetStringValue())
	assert.Equal(t, "doc-1", payload["document_id"].GetStringValue())
	assert.Equal(t, "Cell Biology", payload["document_name"].GetStringValue())
	assert.Equal(t, int64(0), payload["chunk_index"].GetIntegerValue())
	assert.Equal(t, int64(42), payload["end_char"].GetIntegerValue())
	assert.Equal(t, "text", payload["source_type"].GetStringValue())
	assert.NotEmpty(t, payload["indexed_at"].GetStringValue())
}

func TestUpsertChunksEmptyBatchSkipsBackend(t *testing.T) {
	backend := &stubBackend{}
	store := newStore(backend, quietLogger())

	err := store.UpsertChunks(context.Background(), "demo", nil)
	require.NoError(t, err)
	assert.Zero(t, backend.upsertCalls)
}

func TestUpsertChunksWrapsBackendError(t *testing.T) {
	backend := &stubBackend{upsertErr: errors.New("write stalled")}
	store := newStore(backend, quietLogger())

	err := store.UpsertChunks(context.Background(), "demo", []ChunkPoint{{PointID: "a", Vector: []float32{1}}})
	require.Error(t, err)
	assert.True(t, domain.IsExternal(err))
	assert.Contains(t, err.Error(), "Qdrant upsert failed for collection 'demo'")
}

func TestSearchChunksMissingCollectionReturnsEmpty(t *testing.T) {
	backend := &stubBackend{exists: false}
	store := newStore(backend, quietLogger())

	hits, err := store.SearchChunks(context.Background(), "demo", []float32{0.5}, 10, nil)
	require.NoError(t, err)
	assert.NotNil(t, hits)
	assert.Empty(t, hits)
	assert.Zero(t, backend.queryCalls)
}

func TestSearchChunksMapsHits(t *testing.T) {
	backend := &stubBackend{
		exists: true,
		hits: []*qdrant.ScoredPoint{
			{
				Id:      qdrant.NewID("6f1f6f9a-7f61-4a1c-9f7e-000000000001"),
				Score:   0.92,
				Payload: qdrant.NewValueMap(map[string]any{"chunk_id": "doc-1:0"}),
			},
			{
				Id:      qdrant.NewID("6f1f6f9a-7f61-4a1c-9f7e-000000000002"),
				Score:   0.41,
				Payload: qdrant.NewValueMap(map[string]any{}),
			},
		},
	}
	store := newStore(backend, quietLogger())

	hits, err := store.SearchChunks(context.Background(), "demo", []float32{0.5, 0.5}, 24, nil)
	require.NoError(t, err)

	require.Len(t, hits, 2)
	assert.Equal(t, "doc-1:0", hits[0].ChunkKey)
	assert.InDelta(t, 0.92, hits[0].Score, 1e-6)
	assert.Empty(t, hits[1].ChunkKey, "hit without chunk_id payload keeps an empty key for the caller to drop")

	require.NotNil(t, backend.lastQuery)
	assert.Nil(t, backend.lastQuery.Filter, "no document filter requested")
	require.NotNil(t, backend.lastQuery.Limit)
	assert.Equal(t, uint64(24), *backend.lastQuery.Limit)
}

func TestSearchChunksAppliesDocumentFilter(t *testing.T) {
	backend := &stubBackend{exists: true}
	store := newStore(backend, quietLogger())

	_, err := store.SearchChunks(context.Background(), "demo", []float32{0.5}, 10, []string{"doc-a", "doc-b"})
	require.NoError(t, err)

	require.NotNil(t, backend.lastQuery)
	require.NotNil(t, backend.lastQuery.Filter)
	require.Len(t, backend.lastQuery.Filter.Must, 1)

	field := backend.lastQuery.Filter.Must[0].GetField()
	require.NotNil(t, field)
	assert.Equal(t, "document_id", field.Key)
	assert.Equal(t, []string{"doc-a", "doc-b"}, field.GetMatch().GetKeywords().GetStrings())
}

func TestSearchChunksWrapsBackendError(t *testing.T) {
	backend := &stubBackend{exists: true, queryErr: errors.New("deadline exceeded")}
	store := newStore(backend, quietLogger())

	_, err := store.SearchChunks(context.Background(), "demo", []float32{0.5}, 10, nil)
	require.Error(t, err)
	assert.True(t, domain.IsExternal(err))
	assert.Contains(t, err.Error(), "Qdrant search failed for collection 'demo'")
}

func TestDeleteCollectionIgnoresAbsent(t *testing.T) {
	backend := &stubBackend{exists: false}
	store := newStore(backend, quietLogger())

	err := store.DeleteCollection(context.Background(), "demo")
	require.NoError(t, err)
	assert.Zero(t, backend.deleteCalls)
}

func TestDeleteCollectionRemovesExisting(t *testing.T) {
	backend := &stubBackend{exists: true}
	store := newStore(backend, quietLogger())

	err := store.DeleteCollection(context.Background(), "demo")
	require.NoError(t, err)
	assert.Equal(t, 1, backend.deleteCalls)
	assert.Equal(t, "demo", backend.lastDeleted)
}

func TestHealthCheckWrapsBackendError(t *testing.T) {
	backend := &stubBackend{healthErr: errors.New("connection refused")}
	store := newStore(backend, quietLogger())

	err := store.HealthCheck(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsExternal(err))
	assert.Contains(t, err.Error(), "Qdrant health check failed")
}

func TestCloseReleasesBackend(t *testing.T) {
	backend := &stubBackend{}
	store := newStore(backend, quietLogger())

	require.NoError(t, store.Close())
	assert.True(t, backend.closedCalled)
}
