package rag

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"dev.ragsuite.platform/internal/domain"
)

// RerankOptions extends the hybrid tuning with the cross-encoder model
// and the candidate pool size handed to it.
type RerankOptions struct {
	RetrievalOptions
	RerankModel          string `json:"rerank_model"`
	RerankCandidateCount int    `json:"rerank_candidate_count"`
}

// RerankedRetriever refines hybrid retrieval with a cross-encoder pass
// over a widened candidate window.
type RerankedRetriever struct {
	retriever *Retriever
	client    RerankClient
	logger    *logrus.Logger
}

func NewRerankedRetriever(retriever *Retriever, client RerankClient, logger *logrus.Logger) *RerankedRetriever {
	if logger == nil {
		logger = logrus.New()
	}
	return &RerankedRetriever{
		retriever: retriever,
		client:    client,
		logger:    logger,
	}
}

// Retrieve widens the hybrid window to the candidate pool size, asks the
// cross-encoder to reorder it, and keeps its top_k verdicts. Rows with
// out-of-range or duplicate indices are skipped; when no usable row
// survives, the hybrid order stands with zero rerank scores. Each final
// source keeps its hybrid rank as original_rank.
func (r *RerankedRetriever) Retrieve(ctx context.Context, opts RerankOptions) (*RerankedResult, error) {
	hybridOpts := opts.RetrievalOptions
	if opts.RerankCandidateCount > hybridOpts.TopK {
		hybridOpts.TopK = opts.RerankCandidateCount
	}

	hybrid, err := r.retriever.Retrieve(ctx, hybridOpts)
	if err != nil {
		return nil, err
	}

	result := &RerankedResult{
		RetrievalResult: RetrievalResult{
			ProjectID:      hybrid.ProjectID,
			Query:          hybrid.Query,
			EmbeddingModel: hybrid.EmbeddingModel,
			Sources:        []domain.RankedSource{},
			Documents:      []domain.SourceDocument{},
		},
		RerankModel:      opts.RerankModel,
		HybridCandidates: hybrid.Sources,
	}
	if len(hybrid.Sources) == 0 {
		return result, nil
	}

	topN := opts.TopK
	if len(hybrid.Sources) < topN {
		topN = len(hybrid.Sources)
	}

	documents := make([]string, len(hybrid.Sources))
	for i, source := range hybrid.Sources {
		documents[i] = source.Text
	}

	rows, err := r.client.Rerank(ctx, opts.RerankModel, opts.Query, documents, topN)
	if err != nil {
		return nil, err
	}

	final := make([]domain.RankedSource, 0, topN)
	consumed := make(map[int]bool, topN)
	for _, row := range rows {
		if row.Index < 0 || row.Index >= len(hybrid.Sources) {
			continue
		}
		if consumed[row.Index] {
			continue
		}
		consumed[row.Index] = true

		source := hybrid.Sources[row.Index]
		source.OriginalRank = source.Rank
		score := row.RelevanceScore
		source.RerankScore = &score
		final = append(final, source)
		if len(final) >= topN {
			break
		}
	}

	if len(final) == 0 {
		r.logger.WithFields(logrus.Fields{
			"project_id":   opts.ProjectID,
			"rerank_model": opts.RerankModel,
		}).Warn("Reranker returned no usable rows, keeping hybrid order")

		for _, source := range hybrid.Sources[:topN] {
			source.OriginalRank = source.Rank
			zero := 0.0
			source.RerankScore = &zero
			final = append(final, source)
		}
	}

	for i := range final {
		final[i].Rank = i + 1
		final[i].SourceID = fmt.Sprintf("S%d", i+1)
	}

	result.Sources = final
	result.Documents = buildDocumentSummaries(final)
	return result, nil
}
