// Package vectorstore wraps the Qdrant gRPC client behind the narrow
// surface the suite needs: collection lifecycle, chunk-point upserts,
// and filtered similarity search over project collections.
package vectorstore

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/sirupsen/logrus"

	"dev.ragsuite.platform/internal/domain"
)

// defaultGRPCPort is Qdrant's gRPC listener (REST sits one below).
const defaultGRPCPort = 6334

// Config carries Qdrant connection settings.
type Config struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// ParseURL converts an endpoint like "http://qdrant:6334" into gRPC
// connection settings. A missing port falls back to the gRPC default.
func ParseURL(raw string) (Config, error) {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Hostname() == "" {
		return Config{}, domain.Validationf("Qdrant URL %q is not a valid endpoint", raw)
	}

	cfg := Config{
		Host:   parsed.Hostname(),
		Port:   defaultGRPCPort,
		UseTLS: parsed.Scheme == "https",
	}
	if port := parsed.Port(); port != "" {
		value, err := strconv.Atoi(port)
		if err != nil {
			return Config{}, domain.Validationf("Qdrant URL %q carries a non-numeric port", raw)
		}
		cfg.Port = value
	}
	return cfg, nil
}

// qdrantBackend is the slice of the official client the store calls.
type qdrantBackend interface {
	CollectionExists(ctx context.Context, collection string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	DeleteCollection(ctx context.Context, collection string) error
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	Close() error
}

// ChunkPoint is one embedded chunk headed for a project collection.
// PointID doubles as the SQL chunk's qdrant_point_id reference.
type ChunkPoint struct {
	PointID       string
	Vector        []float32
	ChunkID       string
	ProjectID     string
	DocumentID    string
	DocumentName  string
	ChunkIndex    int
	StartChar     int
	EndChar       int
	SourceType    string
	ContextHeader string
}

// Store is a Qdrant-backed vector store for contextualized chunks.
type Store struct {
	backend qdrantBackend
	logger  *logrus.Logger
}

// New dials Qdrant over gRPC and returns a ready store.
func New(cfg Config, logger *logrus.Logger) (*Store, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, domain.WrapExternal(err, "Qdrant client init failed for %s:%d: %v", cfg.Host, cfg.Port, err)
	}
	return newStore(client, logger), nil
}

func newStore(backend qdrantBackend, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	return &Store{backend: backend, logger: logger}
}

// EnsureCollection creates the named cosine collection when absent.
// Dimension comes from the first embedded vector of an ingest batch.
func (s *Store) EnsureCollection(ctx context.Context, collection string, dimension int) error {
	exists, err := s.backend.CollectionExists(ctx, collection)
	if err != nil {
		return domain.WrapExternal(err, "Qdrant collection check failed for '%s': %v", collection, err)
	}
	if exists {
		return nil
	}

	err = s.backend.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return domain.WrapExternal(err, "Qdrant collection create failed for '%s': %v", collection, err)
	}

	s.logger.WithFields(logrus.Fields{
		"collection": collection,
		"dimension":  dimension,
	}).Info("Qdrant collection created")
	return nil
}

// UpsertChunks writes chunk points with wait semantics so the SQL
// commit that follows only happens after the vectors are durable.
func (s *Store) UpsertChunks(ctx context.Context, collection string, points []ChunkPoint) error {
	if len(points) == 0 {
		return nil
	}

	indexedAt := time.Now().UTC().Format(time.RFC3339)
	converted := make([]*qdrant.PointStruct, 0, len(points))
	for _, point := range points {
		converted = append(converted, &qdrant.PointStruct{
			Id:      qdrant.NewID(point.PointID),
			Vectors: qdrant.NewVectors(point.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				"chunk_id":       point.ChunkID,
				"project_id":     point.ProjectID,
				"document_id":    point.DocumentID,
				"document_name":  point.DocumentName,
				"chunk_index":    int64(point.ChunkIndex),
				"start_char":     int64(point.StartChar),
				"end_char":       int64(point.EndChar),
				"source_type":    point.SourceType,
				"context_header": point.ContextHeader,
				"indexed_at":     indexedAt,
			}),
		})
	}

	_, err := s.backend.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         converted,
	})
	if err != nil {
		return domain.WrapExternal(err, "Qdrant upsert failed for collection '%s': %v", collection, err)
	}

	s.logger.WithFields(logrus.Fields{
		"collection": collection,
		"points":     len(converted),
	}).Debug("Qdrant upsert completed")
	return nil
}

// SearchChunks runs a dense similarity query and returns chunk-keyed
// scores. A missing collection yields an empty result rather than an
// error so freshly created projects can be queried before any ingest.
func (s *Store) SearchChunks(ctx context.Context, collection string, vector []float32, limit int, documentIDs []string) ([]domain.ScoredChunk, error) {
	exists, err := s.backend.CollectionExists(ctx, collection)
	if err != nil {
		return nil, domain.WrapExternal(err, "Qdrant search failed for collection '%s': %v", collection, err)
	}
	if !exists {
		s.logger.WithField("collection", collection).Debug("Qdrant collection absent, returning no hits")
		return []domain.ScoredChunk{}, nil
	}

	request := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if len(documentIDs) > 0 {
		request.Filter = &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatchKeywords("document_id", documentIDs...),
			},
		}
	}

	hits, err := s.backend.Query(ctx, request)
	if err != nil {
		return nil, domain.WrapExternal(err, "Qdrant search failed for collection '%s': %v", collection, err)
	}

	scored := make([]domain.ScoredChunk, 0, len(hits))
	for _, hit := range hits {
		chunkKey := ""
		if value, ok := hit.Payload["chunk_id"]; ok {
			chunkKey = value.GetStringValue()
		}
		scored = append(scored, domain.ScoredChunk{
			ChunkKey: chunkKey,
			Score:    float64(hit.Score),
		})
	}

	s.logger.WithFields(logrus.Fields{
		"collection": collection,
		"limit":      limit,
		"hits":       len(scored),
	}).Debug("Qdrant dense search completed")
	return scored, nil
}

// DeleteCollection removes a project collection; absent is fine.
func (s *Store) DeleteCollection(ctx context.Context, collection string) error {
	exists, err := s.backend.CollectionExists(ctx, collection)
	if err != nil {
		return domain.WrapExternal(err, "Qdrant collection check failed for '%s': %v", collection, err)
	}
	if !exists {
		return nil
	}
	if err := s.backend.DeleteCollection(ctx, collection); err != nil {
		return domain.WrapExternal(err, "Qdrant collection delete failed for '%s': %v", collection, err)
	}
	return nil
}

// HealthCheck verifies the gRPC channel answers.
func (s *Store) HealthCheck(ctx context.Context) error {
	if _, err := s.backend.HealthCheck(ctx); err != nil {
		return domain.WrapExternal(err, "Qdrant health check failed: %v", err)
	}
	return nil
}

// Close tears down the gRPC channel.
func (s *Store) Close() error {
	return s.backend.Close()
}
