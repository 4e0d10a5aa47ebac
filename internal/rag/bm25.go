package rag

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"dev.ragsuite.platform/internal/domain"
)

var tokenRE = regexp.MustCompile(`[a-z0-9]+`)

// tokenize lowercases text and extracts maximal alphanumeric runs.
func tokenize(text string) []string {
	return tokenRE.FindAllString(strings.ToLower(text), -1)
}

// ScoreSparse runs BM25 over the candidate set itself rather than a
// pre-built corpus index: document frequencies and length norms come
// from the candidates at hand. Returns the top-k strictly positive
// scores keyed by chunk key.
func ScoreSparse(query string, candidates []domain.RetrievalCandidate, topK int) map[string]float64 {
	if len(candidates) == 0 {
		return map[string]float64{}
	}
	queryTerms := tokenize(query)
	if len(queryTerms) == 0 {
		return map[string]float64{}
	}

	tokenized := make([][]string, len(candidates))
	totalLength := 0
	for i, candidate := range candidates {
		tokenized[i] = tokenize(candidate.Text)
		totalLength += len(tokenized[i])
	}
	avgLength := float64(totalLength) / float64(len(candidates))
	if avgLength < 1.0 {
		avgLength = 1.0
	}

	documentFrequency := make(map[string]int)
	for _, tokens := range tokenized {
		seen := make(map[string]bool, len(tokens))
		for _, token := range tokens {
			if !seen[token] {
				seen[token] = true
				documentFrequency[token]++
			}
		}
	}

	queryWeights := make(map[string]int, len(queryTerms))
	for _, term := range queryTerms {
		queryWeights[term]++
	}

	totalDocs := float64(len(candidates))

	type scoredKey struct {
		key   string
		score float64
	}
	scored := make([]scoredKey, 0, len(candidates))
	for i, candidate := range candidates {
		termFrequency := make(map[string]int, len(tokenized[i]))
		for _, token := range tokenized[i] {
			termFrequency[token]++
		}
		docLength := float64(len(tokenized[i]))

		score := 0.0
		for term, queryWeight := range queryWeights {
			frequency := float64(termFrequency[term])
			if frequency == 0 {
				continue
			}
			docsWithTerm := float64(documentFrequency[term])
			idf := math.Log(1.0 + (totalDocs-docsWithTerm+0.5)/(docsWithTerm+0.5))
			norm := frequency + bm25K1*(1.0-bm25B+bm25B*(docLength/avgLength))
			score += float64(queryWeight) * idf * (frequency * (bm25K1 + 1.0)) / math.Max(norm, 1e-9)
		}

		if score > 0 {
			scored = append(scored, scoredKey{key: candidate.ChunkKey, score: score})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})
	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}

	result := make(map[string]float64, len(scored))
	for _, entry := range scored {
		result[entry.key] = entry.score
	}
	return result
}
