package reranker

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"dev.ragsuite.platform/internal/domain"
)

const maxTopN = 200

// scorer is the per-model runtime. Production uses *crossEncoder; tests
// substitute a stub through the loader hook.
type scorer interface {
	Score(ctx context.Context, query string, documents []string) ([]float64, error)
	Destroy() error
}

type loaderFunc func(spec ModelSpec, opts encoderOptions, logger *logrus.Logger) (scorer, error)

// RerankRequest asks for documents ordered by relevance to query.
type RerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      *int     `json:"top_n"`
}

// RerankResponse carries descending relevance rows. Model echoes the
// requested name; ResolvedModel is the canonical id actually loaded.
type RerankResponse struct {
	Model         string             `json:"model"`
	ResolvedModel string             `json:"resolved_model"`
	Results       []domain.RerankRow `json:"results"`
}

// Health is the /health payload.
type Health struct {
	Status       string    `json:"status"`
	Device       string    `json:"device"`
	DefaultModel string    `json:"default_model"`
	LoadedModels []string  `json:"loaded_models"`
	Timestamp    time.Time `json:"timestamp"`
}

// ServiceOptions sizes the scoring runtime.
type ServiceOptions struct {
	// Device must be resolved ("cpu" or "cuda") before construction;
	// main runs ResolveDevice once the runtime is initialized.
	Device             string
	MaxLength          int
	BatchSize          int
	UseFP16            bool
	UnloadAfterRequest bool
}

// loadedEncoder tracks in-flight users so an unload cannot destroy a
// session another request is still scoring with. The ONNX session owns
// C memory, so destruction has to wait for the last reader.
type loadedEncoder struct {
	runtime scorer
	refs    int
	evicted bool
}

// Service scores query-document pairs with lazily loaded cross-encoder
// models. Loads are deduplicated per model id; unload-after-request
// evicts the model once the call finishes.
type Service struct {
	registry *Registry
	opts     ServiceOptions
	loader   loaderFunc
	logger   *logrus.Logger

	group singleflight.Group

	mu     sync.Mutex
	loaded map[string]*loadedEncoder
}

func NewService(registry *Registry, opts ServiceOptions, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.Device == "" {
		opts.Device = "cpu"
	}
	opts.MaxLength = max(opts.MaxLength, 64)
	opts.BatchSize = max(opts.BatchSize, 1)

	return &Service{
		registry: registry,
		opts:     opts,
		loader:   newCrossEncoder,
		logger:   logger,
		loaded:   make(map[string]*loadedEncoder),
	}
}

// Device returns the resolved compute device.
func (s *Service) Device() string {
	return s.opts.Device
}

// DefaultModel returns the configured default model name, which may be
// an alias.
func (s *Service) DefaultModel() string {
	return s.registry.DefaultModel()
}

// LoadedModels returns the canonical ids currently cached, sorted.
func (s *Service) LoadedModels() []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.loaded))
	for id := range s.loaded {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	sort.Strings(ids)
	return ids
}

// HealthReport assembles the /health payload.
func (s *Service) HealthReport() Health {
	return Health{
		Status:       "ok",
		Device:       s.opts.Device,
		DefaultModel: s.DefaultModel(),
		LoadedModels: s.LoadedModels(),
		Timestamp:    time.Now().UTC(),
	}
}

// Rerank validates the request, scores every (query, document) pair
// with the resolved model, and returns rows sorted by descending
// relevance, cut to top_n when given.
func (s *Service) Rerank(ctx context.Context, req RerankRequest) (*RerankResponse, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, domain.Validationf("query must not be empty")
	}

	documents := make([]string, 0, len(req.Documents))
	for _, document := range req.Documents {
		if trimmed := strings.TrimSpace(document); trimmed != "" {
			documents = append(documents, trimmed)
		}
	}
	if len(documents) == 0 {
		return nil, domain.Validationf("documents must contain at least one non-empty item")
	}
	if req.TopN != nil && (*req.TopN < 1 || *req.TopN > maxTopN) {
		return nil, domain.Validationf("top_n must be between 1 and %d", maxTopN)
	}

	spec, err := s.registry.Resolve(req.Model)
	if err != nil {
		return nil, err
	}

	if s.opts.UnloadAfterRequest {
		defer s.evict(spec.ID)
	}

	entry, err := s.acquire(spec)
	if err != nil {
		return nil, err
	}
	defer s.release(spec.ID, entry)

	scores, err := entry.runtime.Score(ctx, query, documents)
	if err != nil {
		return nil, err
	}

	indices := make([]int, len(scores))
	for i := range indices {
		indices[i] = i
	}
	sort.SliceStable(indices, func(a, b int) bool {
		return scores[indices[a]] > scores[indices[b]]
	})

	limit := len(indices)
	if req.TopN != nil {
		limit = min(max(*req.TopN, 1), len(indices))
	}

	results := make([]domain.RerankRow, 0, limit)
	for _, index := range indices[:limit] {
		results = append(results, domain.RerankRow{Index: index, RelevanceScore: scores[index]})
	}

	s.logger.WithFields(logrus.Fields{
		"model":     spec.ID,
		"documents": len(documents),
		"returned":  len(results),
	}).Debug("Rerank completed")

	return &RerankResponse{
		Model:         req.Model,
		ResolvedModel: spec.ID,
		Results:       results,
	}, nil
}

// acquire returns the cached runtime for spec with a reference held,
// loading it at most once across concurrent requests. The loop covers
// an eviction racing between load and ref acquisition.
func (s *Service) acquire(spec ModelSpec) (*loadedEncoder, error) {
	for {
		s.mu.Lock()
		if entry, ok := s.loaded[spec.ID]; ok {
			entry.refs++
			s.mu.Unlock()
			return entry, nil
		}
		s.mu.Unlock()

		if _, err, _ := s.group.Do(spec.ID, func() (any, error) {
			s.mu.Lock()
			_, ok := s.loaded[spec.ID]
			s.mu.Unlock()
			if ok {
				return nil, nil
			}

			encOpts := encoderOptions{
				Device:    s.opts.Device,
				MaxLength: s.opts.MaxLength,
				BatchSize: s.opts.BatchSize,
				UseFP16:   s.opts.UseFP16,
			}
			start := time.Now()
			runtime, err := s.loader(spec, encOpts, s.logger)
			if err != nil {
				return nil, domain.Externalf("Cross-encoder model load failed. model=%s device=%s details=%v", spec.ID, s.opts.Device, err)
			}

			s.mu.Lock()
			s.loaded[spec.ID] = &loadedEncoder{runtime: runtime}
			s.mu.Unlock()

			s.logger.WithFields(logrus.Fields{
				"model":    spec.ID,
				"device":   s.opts.Device,
				"duration": time.Since(start).Round(time.Millisecond).String(),
			}).Info("Cross-encoder model loaded")
			return nil, nil
		}); err != nil {
			return nil, err
		}
	}
}

// evict removes id from the cache. The runtime is destroyed here when
// idle, otherwise by the last release.
func (s *Service) evict(id string) {
	s.mu.Lock()
	entry, ok := s.loaded[id]
	if ok {
		delete(s.loaded, id)
		entry.evicted = true
	}
	destroy := ok && entry.refs == 0
	s.mu.Unlock()

	if destroy {
		s.destroyRuntime(id, entry)
	}
}

func (s *Service) release(id string, entry *loadedEncoder) {
	s.mu.Lock()
	entry.refs--
	destroy := entry.evicted && entry.refs == 0
	s.mu.Unlock()

	if destroy {
		s.destroyRuntime(id, entry)
	}
}

func (s *Service) destroyRuntime(id string, entry *loadedEncoder) {
	if err := entry.runtime.Destroy(); err != nil {
		s.logger.WithError(err).WithField("model", id).Warn("Failed to release cross-encoder runtime")
		return
	}
	s.logger.WithField("model", id).Debug("Cross-encoder model unloaded")
}

// UnloadAll evicts every cached model and reports how many entries were
// dropped. Runtimes still in use are destroyed by their last reader.
func (s *Service) UnloadAll() int {
	s.mu.Lock()
	idle := make(map[string]*loadedEncoder)
	count := len(s.loaded)
	for id, entry := range s.loaded {
		entry.evicted = true
		if entry.refs == 0 {
			idle[id] = entry
		}
		delete(s.loaded, id)
	}
	s.mu.Unlock()

	for id, entry := range idle {
		s.destroyRuntime(id, entry)
	}
	return count
}
