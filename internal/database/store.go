package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"dev.ragsuite.platform/internal/domain"
)

const controlPlaneSchema = `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	qdrant_collection_name TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	source_type TEXT NOT NULL DEFAULT 'text',
	raw_text TEXT NOT NULL,
	normalized_text TEXT NOT NULL,
	workflow_mode TEXT NOT NULL,
	chunking_mode TEXT NOT NULL,
	contextualization_mode TEXT NOT NULL,
	normalization_version TEXT NOT NULL DEFAULT '',
	chunking_version TEXT NOT NULL DEFAULT '',
	contextualization_version TEXT NOT NULL DEFAULT '',
	embedding_model TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_project_id ON documents(project_id);

CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	chunk_index INTEGER NOT NULL,
	start_char INTEGER NOT NULL,
	end_char INTEGER NOT NULL,
	rationale TEXT NOT NULL DEFAULT '',
	raw_chunk TEXT NOT NULL,
	normalized_chunk TEXT NOT NULL,
	context_header TEXT NOT NULL DEFAULT '',
	contextualized_chunk TEXT NOT NULL,
	approved INTEGER NOT NULL DEFAULT 1,
	qdrant_point_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	UNIQUE(document_id, chunk_index)
);

CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON chunks(document_id);
`

// Store is the ingestion control plane: projects, their documents, and
// the persisted chunk lineage. It also serves retrieval candidates to
// the orchestrator.
type Store struct {
	db     *sql.DB
	logger *logrus.Logger
}

// NewStore wraps an open control-plane database and applies its schema.
func NewStore(ctx context.Context, db *sql.DB, logger *logrus.Logger) (*Store, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if _, err := db.ExecContext(ctx, controlPlaneSchema); err != nil {
		return nil, fmt.Errorf("failed to apply control-plane schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// CreateProject persists a new project row. A duplicate name surfaces as
// a validation failure, matching the API's 400 contract.
func (s *Store) CreateProject(ctx context.Context, project *domain.Project) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM projects WHERE name = ?`, project.Name,
	).Scan(&count); err != nil {
		return fmt.Errorf("failed to check project name: %w", err)
	}
	if count > 0 {
		return domain.Validationf("Project '%s' already exists", project.Name)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO projects (id, name, description, qdrant_collection_name, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		project.ID, project.Name, project.Description,
		project.QdrantCollectionName, formatTime(project.CreatedAt),
	); err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit project: %w", err)
	}
	return nil
}

// ListProjects returns all projects, newest first.
func (s *Store) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, qdrant_collection_name, created_at
		 FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	projects := []domain.Project{}
	for rows.Next() {
		var p domain.Project
		var createdAt string
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.QdrantCollectionName, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		p.CreatedAt = parseTime(createdAt)
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// GetProject loads one project by id.
func (s *Store) GetProject(ctx context.Context, projectID string) (*domain.Project, error) {
	var p domain.Project
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, qdrant_collection_name, created_at
		 FROM projects WHERE id = ?`, projectID,
	).Scan(&p.ID, &p.Name, &p.Description, &p.QdrantCollectionName, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("Project '%s' was not found", projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load project: %w", err)
	}
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

// DeleteProject removes the project with its documents and chunks in one
// transaction and reports how many of each were deleted. The caller is
// responsible for the project's vector collection.
func (s *Store) DeleteProject(ctx context.Context, projectID string) (documentCount, chunkCount int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM documents WHERE project_id = ?`, projectID,
	).Scan(&documentCount); err != nil {
		return 0, 0, fmt.Errorf("failed to count documents: %w", err)
	}
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM chunks
		 WHERE document_id IN (SELECT id FROM documents WHERE project_id = ?)`, projectID,
	).Scan(&chunkCount); err != nil {
		return 0, 0, fmt.Errorf("failed to count chunks: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chunks
		 WHERE document_id IN (SELECT id FROM documents WHERE project_id = ?)`, projectID,
	); err != nil {
		return 0, 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM documents WHERE project_id = ?`, projectID,
	); err != nil {
		return 0, 0, fmt.Errorf("failed to delete documents: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, projectID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to delete project: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return 0, 0, domain.NotFoundf("Project '%s' was not found", projectID)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit project delete: %w", err)
	}
	return documentCount, chunkCount, nil
}

// IngestTx stages one document with its chunks. The caller commits only
// after the vector upsert succeeded, so a failed upsert leaves no SQL
// rows referencing vectors that were never written.
type IngestTx struct {
	tx *sql.Tx
}

// BeginIngest opens the staging transaction for one document ingest.
func (s *Store) BeginIngest(ctx context.Context) (*IngestTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin ingest transaction: %w", err)
	}
	return &IngestTx{tx: tx}, nil
}

// InsertDocument stages the document row.
func (t *IngestTx) InsertDocument(ctx context.Context, doc *domain.Document) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO documents (
			id, project_id, name, source_type, raw_text, normalized_text,
			workflow_mode, chunking_mode, contextualization_mode,
			normalization_version, chunking_version, contextualization_version,
			embedding_model, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.ProjectID, doc.Name, doc.SourceType, doc.RawText, doc.NormalizedText,
		doc.WorkflowMode, doc.ChunkingMode, doc.ContextualizationMode,
		doc.NormalizationVersion, doc.ChunkingVersion, doc.ContextualizationVersion,
		doc.EmbeddingModel, formatTime(doc.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

// InsertChunks stages the chunk rows of the document.
func (t *IngestTx) InsertChunks(ctx context.Context, chunks []domain.Chunk) error {
	stmt, err := t.tx.PrepareContext(ctx,
		`INSERT INTO chunks (
			id, document_id, chunk_index, start_char, end_char, rationale,
			raw_chunk, normalized_chunk, context_header, contextualized_chunk,
			approved, qdrant_point_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		if _, err := stmt.ExecContext(ctx,
			chunk.ID, chunk.DocumentID, chunk.ChunkIndex, chunk.StartChar, chunk.EndChar,
			chunk.Rationale, chunk.RawChunk, chunk.NormalizedChunk, chunk.ContextHeader,
			chunk.ContextualizedChunk, chunk.Approved, chunk.QdrantPointID,
			formatTime(chunk.CreatedAt),
		); err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", chunk.ChunkIndex, err)
		}
	}
	return nil
}

// Commit makes the staged document and chunks durable.
func (t *IngestTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ingest: %w", err)
	}
	return nil
}

// Rollback discards the staged rows. Safe to call after Commit.
func (t *IngestTx) Rollback() error {
	err := t.tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// ListDocuments returns the document summaries of a project, newest
// first, with chunk counts and the lineage flags derived per row.
func (s *Store) ListDocuments(ctx context.Context, projectID string) ([]domain.DocumentSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.id, d.name, d.source_type, COUNT(c.id),
			COALESCE(SUM(CASE WHEN TRIM(c.context_header) <> '' THEN 1 ELSE 0 END), 0),
			d.workflow_mode, d.chunking_mode, d.contextualization_mode,
			d.normalized_text <> d.raw_text, d.created_at
		 FROM documents d
		 LEFT JOIN chunks c ON c.document_id = d.id
		 WHERE d.project_id = ?
		 GROUP BY d.id
		 ORDER BY d.created_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	documents := []domain.DocumentSummary{}
	for rows.Next() {
		var d domain.DocumentSummary
		var headerCount int
		var createdAt string
		if err := rows.Scan(&d.ID, &d.Name, &d.SourceType, &d.ChunkCount, &headerCount,
			&d.WorkflowMode, &d.ChunkingMode, &d.ContextualizationMode,
			&d.UsedNormalization, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		d.UsedAgenticChunking = d.ChunkingMode == domain.ChunkingAgentic
		d.HasContextualHeaders = headerCount > 0
		d.CreatedAt = parseTime(createdAt)
		documents = append(documents, d)
	}
	return documents, rows.Err()
}

// GetDocument loads one document by id.
func (s *Store) GetDocument(ctx context.Context, documentID string) (*domain.Document, error) {
	var d domain.Document
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, name, source_type, raw_text, normalized_text,
			workflow_mode, chunking_mode, contextualization_mode,
			normalization_version, chunking_version, contextualization_version,
			embedding_model, created_at
		 FROM documents WHERE id = ?`, documentID,
	).Scan(&d.ID, &d.ProjectID, &d.Name, &d.SourceType, &d.RawText, &d.NormalizedText,
		&d.WorkflowMode, &d.ChunkingMode, &d.ContextualizationMode,
		&d.NormalizationVersion, &d.ChunkingVersion, &d.ContextualizationVersion,
		&d.EmbeddingModel, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("Document '%s' was not found", documentID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	d.CreatedAt = parseTime(createdAt)
	return &d, nil
}

// ListChunks returns the chunk rows of a document in chunk-index order.
func (s *Store) ListChunks(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, chunk_index, start_char, end_char, rationale,
			raw_chunk, normalized_chunk, context_header, contextualized_chunk,
			approved, qdrant_point_id, created_at
		 FROM chunks WHERE document_id = ? ORDER BY chunk_index`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	chunks := []domain.Chunk{}
	for rows.Next() {
		var c domain.Chunk
		var createdAt string
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.StartChar, &c.EndChar,
			&c.Rationale, &c.RawChunk, &c.NormalizedChunk, &c.ContextHeader,
			&c.ContextualizedChunk, &c.Approved, &c.QdrantPointID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		c.CreatedAt = parseTime(createdAt)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// ProjectDocumentIDs reports which of the given document ids belong to
// the project. Used to validate retrieval document filters.
func (s *Store) ProjectDocumentIDs(ctx context.Context, projectID string, documentIDs []string) (map[string]bool, error) {
	known := make(map[string]bool, len(documentIDs))
	if len(documentIDs) == 0 {
		return known, nil
	}

	query := fmt.Sprintf(
		`SELECT id FROM documents WHERE project_id = ? AND id IN (%s)`,
		placeholders(len(documentIDs)))
	args := make([]any, 0, len(documentIDs)+1)
	args = append(args, projectID)
	for _, id := range documentIDs {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve document ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan document id: %w", err)
		}
		known[id] = true
	}
	return known, rows.Err()
}

// LoadCandidates returns the approved chunks of a project joined with
// their document names, in document-creation then chunk-index order so
// downstream tie-breaks are stable. Text carries the contextualized
// chunk, which is what both BM25 and the prompt context see.
func (s *Store) LoadCandidates(ctx context.Context, projectID string, documentIDs []string) ([]domain.RetrievalCandidate, error) {
	query := `SELECT c.document_id, d.name, c.chunk_index, c.context_header, c.contextualized_chunk
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.project_id = ? AND c.approved = 1`
	args := []any{projectID}
	if len(documentIDs) > 0 {
		query += fmt.Sprintf(" AND c.document_id IN (%s)", placeholders(len(documentIDs)))
		for _, id := range documentIDs {
			args = append(args, id)
		}
	}
	query += " ORDER BY d.created_at, d.id, c.chunk_index"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidates: %w", err)
	}
	defer rows.Close()

	candidates := []domain.RetrievalCandidate{}
	for rows.Next() {
		var c domain.RetrievalCandidate
		if err := rows.Scan(&c.DocumentID, &c.DocumentName, &c.ChunkIndex, &c.ContextHeader, &c.Text); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		c.ChunkKey = fmt.Sprintf("%s:%d", c.DocumentID, c.ChunkIndex)
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// placeholders renders n comma-separated SQL placeholders.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
