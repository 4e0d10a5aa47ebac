package ingestion

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"dev.ragsuite.platform/internal/database"
	"dev.ragsuite.platform/internal/domain"
)

// Project name bounds enforced at creation.
const (
	minProjectNameLen = 2
	maxProjectNameLen = 200
)

// ProjectService manages ingestion namespaces and their inspection
// views. Each project owns one vector collection whose name is fixed
// at creation time.
type ProjectService struct {
	store   *database.Store
	vectors CollectionDropper
	prefix  string
	logger  *logrus.Logger
}

// NewProjectService wires the project namespace manager. prefix is the
// leading segment of every derived collection name.
func NewProjectService(store *database.Store, vectors CollectionDropper, prefix string, logger *logrus.Logger) *ProjectService {
	if logger == nil {
		logger = logrus.New()
	}
	return &ProjectService{store: store, vectors: vectors, prefix: prefix, logger: logger}
}

// Create reserves a project namespace and its collection name. The
// collection itself is created lazily on first ingest, once the
// embedding dimension is known.
func (s *ProjectService) Create(ctx context.Context, req CreateProjectRequest) (*domain.Project, error) {
	nameLen := utf8.RuneCountInString(req.Name)
	if nameLen < minProjectNameLen || nameLen > maxProjectNameLen {
		return nil, domain.Validationf("name must be between %d and %d characters", minProjectNameLen, maxProjectNameLen)
	}

	project := &domain.Project{
		ID:                   uuid.NewString(),
		Name:                 req.Name,
		Description:          req.Description,
		QdrantCollectionName: s.collectionName(req.Name),
		CreatedAt:            time.Now().UTC(),
	}
	if err := s.store.CreateProject(ctx, project); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"project_id": project.ID,
		"collection": project.QdrantCollectionName,
	}).Info("Project created")
	return project, nil
}

// List returns all projects, newest first.
func (s *ProjectService) List(ctx context.Context) ([]domain.Project, error) {
	return s.store.ListProjects(ctx)
}

// Get resolves one project by id.
func (s *ProjectService) Get(ctx context.Context, projectID string) (*domain.Project, error) {
	return s.store.GetProject(ctx, projectID)
}

// Delete removes a project, its documents and chunks, and its vector
// collection. The collection goes first so a vector-store failure
// leaves the SQL rows intact for a retry.
func (s *ProjectService) Delete(ctx context.Context, projectID string) (*DeleteProjectResult, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if err := s.vectors.DeleteCollection(ctx, project.QdrantCollectionName); err != nil {
		return nil, err
	}

	documentCount, chunkCount, err := s.store.DeleteProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"project_id":     projectID,
		"collection":     project.QdrantCollectionName,
		"deleted_docs":   documentCount,
		"deleted_chunks": chunkCount,
	}).Info("Project deleted")

	return &DeleteProjectResult{
		ProjectID:            projectID,
		QdrantCollectionName: project.QdrantCollectionName,
		DeletedDocumentCount: documentCount,
		DeletedChunkCount:    chunkCount,
	}, nil
}

// ListDocuments returns a project's document summaries, newest first.
func (s *ProjectService) ListDocuments(ctx context.Context, projectID string) ([]domain.DocumentSummary, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.store.ListDocuments(ctx, projectID)
}

// ListChunks returns a document's chunk records in document order.
func (s *ProjectService) ListChunks(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	return s.store.ListChunks(ctx, documentID)
}

func (s *ProjectService) collectionName(name string) string {
	return s.prefix + "_" + strings.ReplaceAll(strings.ToLower(name), " ", "_")
}
