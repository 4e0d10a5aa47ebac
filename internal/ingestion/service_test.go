package ingestion

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.ragsuite.platform/internal/database"
	"dev.ragsuite.platform/internal/domain"
	"dev.ragsuite.platform/internal/inference"
	"dev.ragsuite.platform/internal/pipeline"
	"dev.ragsuite.platform/internal/prompts"
	"dev.ragsuite.platform/internal/vectorstore"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// completerStub answers every chat completion with a fixed response.
type completerStub struct {
	response string
	err      error
	models   []string
	calls    int
}

func (c *completerStub) Complete(_ context.Context, model, _, _ string) (string, error) {
	c.calls++
	c.models = append(c.models, model)
	if c.err != nil {
		return "", c.err
	}
	return c.response, nil
}

// embedderStub mints deterministic vectors, one per input.
type embedderStub struct {
	dimension int
	err       error
	models    []string
	batches   [][]string
}

func (e *embedderStub) Embed(_ context.Context, model string, inputs []string) (*inference.EmbedResult, error) {
	e.models = append(e.models, model)
	e.batches = append(e.batches, inputs)
	if e.err != nil {
		return nil, e.err
	}
	dim := e.dimension
	if dim == 0 {
		dim = 4
	}
	vectors := make([][]float32, len(inputs))
	for i := range inputs {
		vectors[i] = make([]float32, dim)
		for j := range vectors[i] {
			vectors[i][j] = float32(i) + float32(j)/10
		}
	}
	return &inference.EmbedResult{Embeddings: vectors, PromptTokens: len(inputs)}, nil
}

// cancellingEmbedder fires its cancel func on first use, simulating a
// cancel request landing while the embed call is in flight.
type cancellingEmbedder struct {
	cancel context.CancelFunc
}

func (e *cancellingEmbedder) Embed(ctx context.Context, _ string, _ []string) (*inference.EmbedResult, error) {
	e.cancel()
	return nil, ctx.Err()
}

// indexerStub records collection and upsert calls.
type indexerStub struct {
	ensured   map[string]int
	upserts   map[string][]vectorstore.ChunkPoint
	ensureErr error
	upsertErr error
}

func newIndexerStub() *indexerStub {
	return &indexerStub{
		ensured: make(map[string]int),
		upserts: make(map[string][]vectorstore.ChunkPoint),
	}
}

func (s *indexerStub) EnsureCollection(_ context.Context, collection string, dimension int) error {
	if s.ensureErr != nil {
		return s.ensureErr
	}
	s.ensured[collection] = dimension
	return nil
}

func (s *indexerStub) UpsertChunks(_ context.Context, collection string, points []vectorstore.ChunkPoint) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.upserts[collection] = append(s.upserts[collection], points...)
	return nil
}

func newControlStore(t *testing.T) *database.Store {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, filepath.Join(t.TempDir(), "control_plane.db"), quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store, err := database.NewStore(ctx, db, quietLogger())
	require.NoError(t, err)
	return store
}

func testOptions() ServiceOptions {
	return ServiceOptions{
		DefaultChatModel:      "qwen3:8b",
		DefaultEmbeddingModel: "nomic-embed-text:latest",
		Versions: PipelineVersions{
			Normalization:     "v1",
			Chunking:          "v1",
			Contextualization: "anthropic-style-v1",
		},
	}
}

func newTestService(t *testing.T, store *database.Store, vectors VectorIndexer, embedder Embedder, completer pipeline.ChatCompleter, promptsDir string) *Service {
	t.Helper()
	logger := quietLogger()
	loader := prompts.NewLoader(promptsDir)
	agentic := pipeline.NewAgenticChunker(completer, loader, logger)
	headers := pipeline.NewHeaderGenerator(completer, loader, logger)
	return NewService(store, vectors, embedder, agentic, headers, testOptions(), logger)
}

func seedTestProject(t *testing.T, store *database.Store, name string) *domain.Project {
	t.Helper()
	svc := NewProjectService(store, &dropperStub{}, "rag_suite_project", quietLogger())
	project, err := svc.Create(context.Background(), CreateProjectRequest{Name: name})
	require.NoError(t, err)
	return project
}

func TestNormalizeCleansText(t *testing.T) {
	svc := newTestService(t, nil, newIndexerStub(), &embedderStub{}, &completerStub{}, t.TempDir())

	result, err := svc.Normalize(NormalizeRequest{Text: "alpha   beta\r\n\n\n\ngamma"})
	require.NoError(t, err)
	assert.Equal(t, "alpha beta\n\ngamma", result.Text)
	assert.Equal(t, 1, result.CollapsedWhitespaceCount)
}

func TestNormalizeValidation(t *testing.T) {
	svc := newTestService(t, nil, newIndexerStub(), &embedderStub{}, &completerStub{}, t.TempDir())

	_, err := svc.Normalize(NormalizeRequest{Text: ""})
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))

	_, err = svc.Normalize(NormalizeRequest{Text: "x", MaxBlankLines: 5})
	require.EqualError(t, err, "max_blank_lines must be between 1 and 3")
}

func TestChunkDeterministicMode(t *testing.T) {
	svc := newTestService(t, nil, newIndexerStub(), &embedderStub{}, &completerStub{}, t.TempDir())

	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 20)
	resp, err := svc.Chunk(context.Background(), ChunkRequest{Text: text, Mode: domain.ChunkingDeterministic})
	require.NoError(t, err)
	assert.Equal(t, domain.ChunkingDeterministic, resp.Mode)
	require.NotEmpty(t, resp.Chunks)
	assert.Equal(t, 0, resp.Chunks[0].ChunkIndex)
	assert.Equal(t, 0, resp.Chunks[0].StartChar)
	assert.NotEmpty(t, resp.Chunks[0].Text)
}

func TestChunkValidation(t *testing.T) {
	svc := newTestService(t, nil, newIndexerStub(), &embedderStub{}, &completerStub{}, t.TempDir())
	ctx := context.Background()

	_, err := svc.Chunk(ctx, ChunkRequest{Text: "", Mode: domain.ChunkingDeterministic})
	assert.True(t, domain.IsValidation(err))

	_, err = svc.Chunk(ctx, ChunkRequest{Text: "body", Mode: "semantic"})
	require.EqualError(t, err, "mode must be 'deterministic' or 'agentic'")

	_, err = svc.Chunk(ctx, ChunkRequest{Text: "body", Mode: domain.ChunkingDeterministic, MaxChunkChars: 9000})
	assert.True(t, domain.IsValidation(err))
}

func TestChunkAgenticFallsBackWhenModelFails(t *testing.T) {
	completer := &completerStub{err: errors.New("model offline")}
	svc := newTestService(t, nil, newIndexerStub(), &embedderStub{}, completer, t.TempDir())

	text := strings.Repeat("Sentences accumulate into a single paragraph of useful prose. ", 10)
	resp, err := svc.Chunk(context.Background(), ChunkRequest{Text: text, Mode: domain.ChunkingAgentic})
	require.NoError(t, err)
	assert.Equal(t, domain.ChunkingAgentic, resp.Mode)
	require.NotEmpty(t, resp.Chunks)
	assert.Equal(t, "Fallback to deterministic chunking", resp.Chunks[0].Rationale)
}

func TestContextualizeTemplateHeaders(t *testing.T) {
	svc := newTestService(t, nil, newIndexerStub(), &embedderStub{}, &completerStub{}, t.TempDir())

	resp, err := svc.Contextualize(context.Background(), ContextualizeRequest{
		DocumentName:     "Field Guide",
		FullDocumentText: "first part\n\nsecond part",
		Chunks: []domain.ChunkProposal{
			{ChunkIndex: 0, StartChar: 0, EndChar: 10, Text: "first part"},
			{ChunkIndex: 1, StartChar: 12, EndChar: 23, Text: "second part"},
		},
		Mode: domain.ContextualizationTemplate,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ContextualizationTemplate, resp.Mode)
	require.Len(t, resp.Chunks, 2)
	assert.Equal(t, "Document 'Field Guide', chunk 1.", resp.Chunks[0].ContextHeader)
	assert.Equal(t, "Document 'Field Guide', chunk 2.", resp.Chunks[1].ContextHeader)
	assert.Equal(t, "Document 'Field Guide', chunk 1.\n\nfirst part", resp.Chunks[0].ContextualizedText)
}

func TestContextualizeLLMUsesCompleter(t *testing.T) {
	promptsDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(promptsDir, "contextual_chunk_header.md"), []byte("You write chunk headers."), 0o644))

	completer := &completerStub{response: "Covers the refund policy."}
	svc := newTestService(t, nil, newIndexerStub(), &embedderStub{}, completer, promptsDir)

	resp, err := svc.Contextualize(context.Background(), ContextualizeRequest{
		DocumentName:     "Terms",
		FullDocumentText: "refunds are available",
		Chunks:           []domain.ChunkProposal{{ChunkIndex: 0, EndChar: 21, Text: "refunds are available"}},
		Mode:             domain.ContextualizationLLM,
		LLMModel:         "qwen3:32b",
	})
	require.NoError(t, err)
	assert.Equal(t, "Covers the refund policy.", resp.Chunks[0].ContextHeader)
	assert.Equal(t, []string{"qwen3:32b"}, completer.models)
}

func TestContextualizeValidation(t *testing.T) {
	svc := newTestService(t, nil, newIndexerStub(), &embedderStub{}, &completerStub{}, t.TempDir())
	ctx := context.Background()

	_, err := svc.Contextualize(ctx, ContextualizeRequest{DocumentName: "", FullDocumentText: "x", Chunks: []domain.ChunkProposal{{Text: "x"}}})
	assert.True(t, domain.IsValidation(err))

	_, err = svc.Contextualize(ctx, ContextualizeRequest{DocumentName: "d", FullDocumentText: "x"})
	require.EqualError(t, err, "chunks must not be empty")

	_, err = svc.Contextualize(ctx, ContextualizeRequest{DocumentName: "d", FullDocumentText: "x", Chunks: []domain.ChunkProposal{{Text: "x"}}, Mode: "manual"})
	require.EqualError(t, err, "mode must be 'llm' or 'template'")
}

func TestPreviewAutomaticRunsEveryStage(t *testing.T) {
	embedder := &embedderStub{}
	svc := newTestService(t, nil, newIndexerStub(), embedder, &completerStub{}, t.TempDir())

	resp, err := svc.PreviewAutomatic(context.Background(), PreviewRequest{
		DocumentName:          "Spec",
		RawText:               "alpha   beta\r\ngamma",
		ContextualizationMode: domain.ContextualizationTemplate,
	})
	require.NoError(t, err)
	assert.Equal(t, "alpha beta\ngamma", resp.NormalizedText)
	assert.Equal(t, domain.ChunkingDeterministic, resp.ChunkingMode)
	assert.Equal(t, domain.ContextualizationTemplate, resp.ContextualizationMode)
	require.NotEmpty(t, resp.Chunks)
	require.Len(t, resp.ContextualizedChunks, len(resp.Chunks))
	assert.Equal(t, "Document 'Spec', chunk 1.", resp.ContextualizedChunks[0].ContextHeader)

	// Dry run: nothing reaches the embedder.
	assert.Empty(t, embedder.batches)
}

func TestPreviewAutomaticDisabledHeadersStillShowTemplates(t *testing.T) {
	svc := newTestService(t, nil, newIndexerStub(), &embedderStub{}, &completerStub{}, t.TempDir())

	off := false
	resp, err := svc.PreviewAutomatic(context.Background(), PreviewRequest{
		DocumentName: "Spec",
		RawText:      "some body text to preview",
		Automation:   AutomationFlags{ContextualHeaders: &off},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ContextualizationDisabled, resp.ContextualizationMode)
	require.NotEmpty(t, resp.ContextualizedChunks)
	assert.Equal(t, "Document 'Spec', chunk 1.", resp.ContextualizedChunks[0].ContextHeader)
}

func TestIngestAutomaticTemplateFlow(t *testing.T) {
	store := newControlStore(t)
	indexer := newIndexerStub()
	embedder := &embedderStub{dimension: 3}
	svc := newTestService(t, store, indexer, embedder, &completerStub{}, t.TempDir())
	ctx := context.Background()

	project := seedTestProject(t, store, "Field Notes")

	result, err := svc.Ingest(ctx, project.ID, IngestRequest{
		DocumentName:          "Notebook",
		RawText:               "alpha   beta\r\n\r\nsecond paragraph of notes",
		WorkflowMode:          domain.WorkflowAutomatic,
		ContextualizationMode: domain.ContextualizationTemplate,
	})
	require.NoError(t, err)

	assert.Equal(t, project.ID, result.ProjectID)
	assert.NotEmpty(t, result.DocumentID)
	assert.Equal(t, project.QdrantCollectionName, result.QdrantCollectionName)
	assert.Equal(t, domain.ChunkingDeterministic, result.ChunkingMode)
	assert.Equal(t, domain.ContextualizationTemplate, result.ContextualizationMode)
	assert.Equal(t, "nomic-embed-text:latest", result.EmbeddingModel)
	assert.Equal(t, result.EmbeddedChunkCount, len(indexer.upserts[project.QdrantCollectionName]))

	// Collection sized from the first vector.
	assert.Equal(t, 3, indexer.ensured[project.QdrantCollectionName])

	// Embedder saw the contextualized texts, headers included.
	require.Len(t, embedder.batches, 1)
	assert.True(t, strings.HasPrefix(embedder.batches[0][0], "Document 'Notebook', chunk 1."))
	assert.Equal(t, []string{"nomic-embed-text:latest"}, embedder.models)

	// Point payloads reference the document.
	points := indexer.upserts[project.QdrantCollectionName]
	require.NotEmpty(t, points)
	assert.Equal(t, result.DocumentID+":0", points[0].ChunkID)
	assert.Equal(t, project.ID, points[0].ProjectID)
	assert.Equal(t, "Notebook", points[0].DocumentName)
	assert.Equal(t, "text", points[0].SourceType)

	// Persisted rows carry lineage.
	docs, err := store.ListDocuments(ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, domain.WorkflowAutomatic, docs[0].WorkflowMode)
	assert.True(t, docs[0].UsedNormalization)
	assert.False(t, docs[0].UsedAgenticChunking)
	assert.True(t, docs[0].HasContextualHeaders)
	assert.Equal(t, result.EmbeddedChunkCount, docs[0].ChunkCount)

	doc, err := store.GetDocument(ctx, result.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "v1", doc.NormalizationVersion)
	assert.Equal(t, "anthropic-style-v1", doc.ContextualizationVersion)

	chunks, err := store.ListChunks(ctx, result.DocumentID)
	require.NoError(t, err)
	require.Len(t, chunks, result.EmbeddedChunkCount)
	assert.True(t, chunks[0].Approved)
	assert.Equal(t, points[0].PointID, chunks[0].QdrantPointID)
	assert.True(t, strings.HasPrefix(chunks[0].ContextualizedChunk, "Document 'Notebook', chunk 1."))
}

func TestIngestDisabledHeadersEmbedPlainChunks(t *testing.T) {
	store := newControlStore(t)
	embedder := &embedderStub{}
	svc := newTestService(t, store, newIndexerStub(), embedder, &completerStub{}, t.TempDir())
	ctx := context.Background()

	project := seedTestProject(t, store, "Plain")

	off := false
	result, err := svc.Ingest(ctx, project.ID, IngestRequest{
		DocumentName: "Doc",
		RawText:      "content without headers attached",
		WorkflowMode: domain.WorkflowAutomatic,
		Automation:   AutomationFlags{ContextualHeaders: &off},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ContextualizationDisabled, result.ContextualizationMode)

	require.Len(t, embedder.batches, 1)
	assert.Equal(t, "content without headers attached", embedder.batches[0][0])

	docs, err := store.ListDocuments(ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.False(t, docs[0].HasContextualHeaders)
}

func TestIngestManualPersistsApprovedChunks(t *testing.T) {
	store := newControlStore(t)
	indexer := newIndexerStub()
	svc := newTestService(t, store, indexer, &embedderStub{}, &completerStub{}, t.TempDir())
	ctx := context.Background()

	project := seedTestProject(t, store, "Reviewed")

	normalized := "Hello world content"
	result, err := svc.Ingest(ctx, project.ID, IngestRequest{
		DocumentName:   "Manual Doc",
		RawText:        "Hello world content",
		WorkflowMode:   domain.WorkflowManual,
		EmbeddingModel: "bge-m3:latest",
		NormalizedText: &normalized,
		ApprovedChunks: []ApprovedChunk{
			{ChunkIndex: 0, StartChar: 0, EndChar: 11, NormalizedChunk: "Hello world", ContextHeader: "Greeting.", ContextualizedChunk: "Greeting.\n\nHello world"},
			{ChunkIndex: 1, StartChar: 12, EndChar: 19, NormalizedChunk: "content", ContextualizedChunk: "content"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ChunkingManual, result.ChunkingMode)
	assert.Equal(t, domain.ContextualizationManual, result.ContextualizationMode)
	assert.Equal(t, "bge-m3:latest", result.EmbeddingModel)
	assert.Equal(t, 2, result.EmbeddedChunkCount)

	chunks, err := store.ListChunks(ctx, result.DocumentID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "Hello world", chunks[0].RawChunk)
	assert.Equal(t, "Greeting.", chunks[0].ContextHeader)
	assert.Equal(t, "Greeting.\n\nHello world", chunks[0].ContextualizedChunk)
	assert.Equal(t, "content", chunks[1].RawChunk)
}

func TestIngestManualRequiresReviewedFields(t *testing.T) {
	store := newControlStore(t)
	svc := newTestService(t, store, newIndexerStub(), &embedderStub{}, &completerStub{}, t.TempDir())
	ctx := context.Background()

	project := seedTestProject(t, store, "Gaps")

	_, err := svc.Ingest(ctx, project.ID, IngestRequest{
		DocumentName: "Doc",
		RawText:      "raw",
		WorkflowMode: domain.WorkflowManual,
	})
	require.EqualError(t, err, "normalized_text is required when workflow_mode is 'manual'")

	normalized := "raw"
	_, err = svc.Ingest(ctx, project.ID, IngestRequest{
		DocumentName:   "Doc",
		RawText:        "raw",
		WorkflowMode:   domain.WorkflowManual,
		NormalizedText: &normalized,
	})
	require.EqualError(t, err, "approved_chunks is required when workflow_mode is 'manual'")
	assert.True(t, domain.IsValidation(err))
}

func TestIngestUnknownProject(t *testing.T) {
	store := newControlStore(t)
	svc := newTestService(t, store, newIndexerStub(), &embedderStub{}, &completerStub{}, t.TempDir())

	_, err := svc.Ingest(context.Background(), "missing", IngestRequest{
		DocumentName: "Doc",
		RawText:      "raw",
		WorkflowMode: domain.WorkflowAutomatic,
	})
	require.EqualError(t, err, "Project 'missing' was not found")
	assert.True(t, domain.IsNotFound(err))
}

func TestIngestRejectsEmptyPipelineOutput(t *testing.T) {
	store := newControlStore(t)
	svc := newTestService(t, store, newIndexerStub(), &embedderStub{}, &completerStub{}, t.TempDir())
	ctx := context.Background()

	project := seedTestProject(t, store, "Empty")

	noNormalize := false
	_, err := svc.Ingest(ctx, project.ID, IngestRequest{
		DocumentName: "Blank",
		RawText:      "   \n\n   ",
		WorkflowMode: domain.WorkflowAutomatic,
		Automation:   AutomationFlags{NormalizeText: &noNormalize},
	})
	require.EqualError(t, err, "No chunks available for embedding")

	docs, listErr := store.ListDocuments(ctx, project.ID)
	require.NoError(t, listErr)
	assert.Empty(t, docs)
}

func TestIngestEmbedFailureLeavesNoRows(t *testing.T) {
	store := newControlStore(t)
	svc := newTestService(t, store, newIndexerStub(), &embedderStub{err: domain.Externalf("Embedding request failed")}, &completerStub{}, t.TempDir())
	ctx := context.Background()

	project := seedTestProject(t, store, "Broken")

	_, err := svc.Ingest(ctx, project.ID, IngestRequest{
		DocumentName:          "Doc",
		RawText:               "body text for embedding",
		WorkflowMode:          domain.WorkflowAutomatic,
		ContextualizationMode: domain.ContextualizationTemplate,
	})
	require.Error(t, err)
	assert.True(t, domain.IsExternal(err))

	docs, listErr := store.ListDocuments(ctx, project.ID)
	require.NoError(t, listErr)
	assert.Empty(t, docs)
}

func TestIngestUpsertFailureRollsBack(t *testing.T) {
	store := newControlStore(t)
	indexer := newIndexerStub()
	indexer.upsertErr = domain.Externalf("Qdrant upsert failed")
	svc := newTestService(t, store, indexer, &embedderStub{}, &completerStub{}, t.TempDir())
	ctx := context.Background()

	project := seedTestProject(t, store, "Rollback")

	_, err := svc.Ingest(ctx, project.ID, IngestRequest{
		DocumentName:          "Doc",
		RawText:               "body text for indexing",
		WorkflowMode:          domain.WorkflowAutomatic,
		ContextualizationMode: domain.ContextualizationTemplate,
	})
	require.Error(t, err)
	assert.True(t, domain.IsExternal(err))

	docs, listErr := store.ListDocuments(ctx, project.ID)
	require.NoError(t, listErr)
	assert.Empty(t, docs)
}

func TestIngestCancelledDuringEmbedding(t *testing.T) {
	store := newControlStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := newTestService(t, store, newIndexerStub(), &cancellingEmbedder{cancel: cancel}, &completerStub{}, t.TempDir())

	project := seedTestProject(t, store, "Cancelled")

	_, err := svc.Ingest(ctx, project.ID, IngestRequest{
		DocumentName:          "Doc",
		RawText:               "body text for embedding",
		WorkflowMode:          domain.WorkflowAutomatic,
		ContextualizationMode: domain.ContextualizationTemplate,
	})
	require.EqualError(t, err, "Vectorization interrupted by user request.")
	assert.True(t, domain.IsCancelled(err))
}

func TestIngestValidatesRequestShape(t *testing.T) {
	store := newControlStore(t)
	svc := newTestService(t, store, newIndexerStub(), &embedderStub{}, &completerStub{}, t.TempDir())
	ctx := context.Background()

	project := seedTestProject(t, store, "Shape")

	cases := []struct {
		name string
		req  IngestRequest
		want string
	}{
		{
			name: "missing document name",
			req:  IngestRequest{RawText: "x", WorkflowMode: domain.WorkflowAutomatic},
			want: "document_name must be between 1 and 255 characters",
		},
		{
			name: "missing raw text",
			req:  IngestRequest{DocumentName: "d", WorkflowMode: domain.WorkflowAutomatic},
			want: "raw_text must not be empty",
		},
		{
			name: "bad workflow mode",
			req:  IngestRequest{DocumentName: "d", RawText: "x", WorkflowMode: "assisted"},
			want: "workflow_mode must be 'automatic' or 'manual'",
		},
		{
			name: "bad contextualization mode",
			req:  IngestRequest{DocumentName: "d", RawText: "x", WorkflowMode: domain.WorkflowAutomatic, ContextualizationMode: "markdown"},
			want: "contextualization_mode must be 'llm' or 'template'",
		},
		{
			name: "bad chunk mode",
			req:  IngestRequest{DocumentName: "d", RawText: "x", WorkflowMode: domain.WorkflowAutomatic, ChunkOptions: ChunkSettings{Mode: "semantic"}},
			want: "chunk_options.mode must be 'deterministic' or 'agentic'",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Ingest(ctx, project.ID, tc.req)
			require.EqualError(t, err, tc.want)
			assert.True(t, domain.IsValidation(err))
		})
	}
}

func TestRawChunkSnapshot(t *testing.T) {
	// Offsets land inside the raw text: slice wins.
	assert.Equal(t, "Hello", rawChunkSnapshot("Hello world", "Hello world", 0, 5, "fb"))
	// Invalid bounds fall back.
	assert.Equal(t, "fb", rawChunkSnapshot("Hello", "Hello", -1, 3, "fb"))
	assert.Equal(t, "fb", rawChunkSnapshot("Hello", "Hello", 3, 3, "fb"))
	// Blank raw slice falls back.
	assert.Equal(t, "fb", rawChunkSnapshot("ab   cd", "ab cd", 2, 5, "fb"))
	// Overrun is capped when raw and normalized match.
	assert.Equal(t, "llo", rawChunkSnapshot("Hello", "Hello", 2, 99, "fb"))
	// Overrun with differing texts falls back.
	assert.Equal(t, "fb", rawChunkSnapshot("Hello", "Hello!", 2, 99, "fb"))
}
