package rag

import (
	"fmt"
	"sort"

	"dev.ragsuite.platform/internal/domain"
)

// Fuse combines chunk-keyed dense and sparse scores into a final
// ranking. Each side is normalized by its own maximum so the weighted
// sum compares like with like; the recorded per-side scores stay raw
// (clamped at zero) for response transparency. Candidates absent from
// both score maps do not participate. Ties sort by (hybrid, dense,
// sparse) descending and then by candidate insertion order.
func Fuse(
	candidates []domain.RetrievalCandidate,
	denseScores map[string]float64,
	sparseScores map[string]float64,
	topK int,
	denseWeight float64,
) []domain.RankedSource {
	if len(candidates) == 0 {
		return []domain.RankedSource{}
	}

	inCandidates := make(map[string]bool, len(candidates))
	for _, candidate := range candidates {
		inCandidates[candidate.ChunkKey] = true
	}

	clampPositive := func(scores map[string]float64) (map[string]float64, float64) {
		positive := make(map[string]float64, len(scores))
		maxScore := 0.0
		for key, value := range scores {
			if !inCandidates[key] {
				continue
			}
			if value < 0 {
				value = 0
			}
			positive[key] = value
			if value > maxScore {
				maxScore = value
			}
		}
		return positive, maxScore
	}

	densePositive, maxDense := clampPositive(denseScores)
	sparsePositive, maxSparse := clampPositive(sparseScores)
	sparseWeight := 1.0 - denseWeight

	ranked := make([]domain.RankedSource, 0, len(candidates))
	for _, candidate := range candidates {
		denseRaw, inDense := densePositive[candidate.ChunkKey]
		sparseRaw, inSparse := sparsePositive[candidate.ChunkKey]
		if !inDense && !inSparse {
			continue
		}

		denseNorm := 0.0
		if maxDense > 0 {
			denseNorm = denseRaw / maxDense
		}
		sparseNorm := 0.0
		if maxSparse > 0 {
			sparseNorm = sparseRaw / maxSparse
		}

		ranked = append(ranked, domain.RankedSource{
			ChunkKey:      candidate.ChunkKey,
			DocumentID:    candidate.DocumentID,
			DocumentName:  candidate.DocumentName,
			ChunkIndex:    candidate.ChunkIndex,
			ContextHeader: candidate.ContextHeader,
			Text:          candidate.Text,
			DenseScore:    denseRaw,
			SparseScore:   sparseRaw,
			HybridScore:   denseWeight*denseNorm + sparseWeight*sparseNorm,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].HybridScore != ranked[j].HybridScore {
			return ranked[i].HybridScore > ranked[j].HybridScore
		}
		if ranked[i].DenseScore != ranked[j].DenseScore {
			return ranked[i].DenseScore > ranked[j].DenseScore
		}
		return ranked[i].SparseScore > ranked[j].SparseScore
	})

	if topK > 0 && len(ranked) > topK {
		ranked = ranked[:topK]
	}
	for i := range ranked {
		ranked[i].Rank = i + 1
		ranked[i].SourceID = fmt.Sprintf("S%d", i+1)
	}
	return ranked
}

// buildDocumentSummaries aggregates ranked chunks per document, ordered
// by each document's best rank.
func buildDocumentSummaries(ranked []domain.RankedSource) []domain.SourceDocument {
	grouped := make(map[string][]domain.RankedSource)
	order := make([]string, 0)
	for _, row := range ranked {
		if _, seen := grouped[row.DocumentID]; !seen {
			order = append(order, row.DocumentID)
		}
		grouped[row.DocumentID] = append(grouped[row.DocumentID], row)
	}

	documents := make([]domain.SourceDocument, 0, len(grouped))
	for _, documentID := range order {
		rows := grouped[documentID]
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].Rank < rows[j].Rank })
		indices := make([]int, len(rows))
		for i, row := range rows {
			indices[i] = row.ChunkIndex
		}
		documents = append(documents, domain.SourceDocument{
			DocumentID:   documentID,
			DocumentName: rows[0].DocumentName,
			HitCount:     len(rows),
			TopRank:      rows[0].Rank,
			ChunkIndices: indices,
		})
	}

	sort.SliceStable(documents, func(i, j int) bool { return documents[i].TopRank < documents[j].TopRank })
	return documents
}
