package rag

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"dev.ragsuite.platform/internal/domain"
)

// Retriever runs the hybrid dense+sparse retrieval flow for one query:
// load the project's approved chunks, embed the query, score both sides,
// and fuse into a ranked source list.
type Retriever struct {
	store    CandidateLoader
	embedder Embedder
	searcher DenseSearcher
	logger   *logrus.Logger
}

func NewRetriever(store CandidateLoader, embedder Embedder, searcher DenseSearcher, logger *logrus.Logger) *Retriever {
	if logger == nil {
		logger = logrus.New()
	}
	return &Retriever{
		store:    store,
		embedder: embedder,
		searcher: searcher,
		logger:   logger,
	}
}

// Retrieve resolves the project, verifies the document filter, and ranks
// the candidate chunks. An empty candidate set short-circuits to an
// empty result without touching the embedding or vector backends.
func (r *Retriever) Retrieve(ctx context.Context, opts RetrievalOptions) (*RetrievalResult, error) {
	project, err := r.store.GetProject(ctx, opts.ProjectID)
	if err != nil {
		return nil, err
	}

	documentIDs, err := r.resolveDocumentFilter(ctx, project.ID, opts.DocumentIDs)
	if err != nil {
		return nil, err
	}

	candidates, err := r.store.LoadCandidates(ctx, project.ID, documentIDs)
	if err != nil {
		return nil, err
	}

	result := &RetrievalResult{
		ProjectID:      project.ID,
		Query:          opts.Query,
		EmbeddingModel: opts.EmbeddingModel,
		Sources:        []domain.RankedSource{},
		Documents:      []domain.SourceDocument{},
	}
	if len(candidates) == 0 {
		return result, nil
	}

	// Dense search needs a round trip through the embedder and the
	// vector store; BM25 is local CPU work over the loaded candidates.
	var denseScores, sparseScores map[string]float64
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		scores, err := r.denseScores(groupCtx, project.QdrantCollectionName, opts, documentIDs)
		if err != nil {
			return err
		}
		denseScores = scores
		return nil
	})
	group.Go(func() error {
		sparseScores = ScoreSparse(opts.Query, candidates, opts.SparseTopK)
		return nil
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}

	result.Sources = Fuse(candidates, denseScores, sparseScores, opts.TopK, opts.DenseWeight)
	result.Documents = buildDocumentSummaries(result.Sources)

	r.logger.WithFields(logrus.Fields{
		"project_id": project.ID,
		"candidates": len(candidates),
		"sources":    len(result.Sources),
	}).Debug("Hybrid retrieval completed")

	return result, nil
}

// resolveDocumentFilter dedupes the requested ids preserving order and
// verifies every one belongs to the project.
func (r *Retriever) resolveDocumentFilter(ctx context.Context, projectID string, requested []string) ([]string, error) {
	if len(requested) == 0 {
		return nil, nil
	}

	deduped := make([]string, 0, len(requested))
	seen := make(map[string]bool, len(requested))
	for _, id := range requested {
		if seen[id] {
			continue
		}
		seen[id] = true
		deduped = append(deduped, id)
	}

	known, err := r.store.ProjectDocumentIDs(ctx, projectID, deduped)
	if err != nil {
		return nil, err
	}

	missing := make([]string, 0)
	for _, id := range deduped {
		if !known[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, domain.Validationf(
			"Some document_ids do not belong to the selected project: %s",
			strings.Join(missing, ", "),
		)
	}
	return deduped, nil
}

// denseScores embeds the query once and searches the project collection,
// keeping the best score per chunk key when the store returns duplicates.
func (r *Retriever) denseScores(ctx context.Context, collection string, opts RetrievalOptions, documentIDs []string) (map[string]float64, error) {
	vectors, err := r.embedder.Embed(ctx, opts.EmbeddingModel, []string{opts.Query})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, domain.Externalf("Embedding backend returned no vector for the query")
	}

	hits, err := r.searcher.SearchChunks(ctx, collection, vectors[0], opts.DenseTopK, documentIDs)
	if err != nil {
		return nil, err
	}

	scores := make(map[string]float64, len(hits))
	for _, hit := range hits {
		if hit.ChunkKey == "" {
			continue
		}
		if current, ok := scores[hit.ChunkKey]; !ok || hit.Score > current {
			scores[hit.ChunkKey] = hit.Score
		}
	}
	return scores, nil
}
