package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractCitations(t *testing.T) {
	available := map[string]bool{"S1": true, "S2": true, "S3": true}

	tests := []struct {
		name   string
		answer string
		want   []string
	}{
		{
			name:   "first seen order with duplicates removed",
			answer: "See [S2] for context, then [S1], and [S2] again.",
			want:   []string{"S2", "S1"},
		},
		{
			name:   "full-width brackets",
			answer: "Cited via 【S3】 and plain [S1].",
			want:   []string{"S3", "S1"},
		},
		{
			name:   "unknown ids filtered out",
			answer: "Quoting [S9] and [S2].",
			want:   []string{"S2"},
		},
		{
			name:   "no markers",
			answer: "Nothing cited here.",
			want:   []string{},
		},
		{
			name:   "empty answer",
			answer: "",
			want:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractCitations(tt.answer, available)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractCitationsNoSourcesOffered(t *testing.T) {
	got := ExtractCitations("Everything per [S1].", map[string]bool{})
	require.NotNil(t, got)
	assert.Empty(t, got)
}

func TestCleanAnswer(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		want   string
	}{
		{
			name:   "strips inline markers and tidies spacing",
			answer: "Fact one. [S1] Fact two. [S2]",
			want:   "Fact one. Fact two.",
		},
		{
			name:   "strips full-width markers",
			answer: "Energy comes from ATP【S2】.",
			want:   "Energy comes from ATP .",
		},
		{
			name:   "marker at line boundary joins the lines",
			answer: "Alpha [S1]\nBeta",
			want:   "Alpha Beta",
		},
		{
			name:   "collapses runs of spaces and tabs",
			answer: "A    B\tC",
			want:   "A B C",
		},
		{
			name:   "drops blank lines in multi-line answers",
			answer: "Alpha\n\n\nBeta",
			want:   "Alpha\nBeta",
		},
		{
			name:   "trims surrounding whitespace",
			answer: "  padded  ",
			want:   "padded",
		},
		{
			name:   "blank answer",
			answer: "   \n  ",
			want:   "",
		},
		{
			name:   "empty answer",
			answer: "",
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CleanAnswer(tt.answer)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, CleanAnswer(got), "cleaning must be idempotent")
		})
	}
}

func TestCleanAnswerRemovesEveryCitationMarker(t *testing.T) {
	answer := "Claim [S1]. Another claim 【S12】.\nFinal [S3] claim."
	cleaned := CleanAnswer(answer)
	assert.Empty(t, ExtractCitations(cleaned, map[string]bool{"S1": true, "S3": true, "S12": true}))
}
