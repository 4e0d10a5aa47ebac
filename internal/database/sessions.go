package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"dev.ragsuite.platform/internal/domain"
	"dev.ragsuite.platform/internal/rag"
)

// defaultSessionTitle is the placeholder kept until a turn supplies a
// user message to derive a title from.
const defaultSessionTitle = "Untitled Session"

const sessionsSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT 'Untitled Session',
	message_count INTEGER NOT NULL DEFAULT 0,
	selected_document_ids TEXT NOT NULL DEFAULT '[]',
	selected_source_id TEXT,
	latest_response TEXT,
	messages TEXT NOT NULL DEFAULT '[]',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at);
`

// SessionStore persists the UI-facing chat sessions: transcript,
// selected documents, and the latest grounded response snapshot.
type SessionStore struct {
	db     *sql.DB
	logger *logrus.Logger
}

// NewSessionStore wraps an open sessions database and applies its schema.
func NewSessionStore(ctx context.Context, db *sql.DB, logger *logrus.Logger) (*SessionStore, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if _, err := db.ExecContext(ctx, sessionsSchema); err != nil {
		return nil, fmt.Errorf("failed to apply sessions schema: %w", err)
	}
	return &SessionStore{db: db, logger: logger}, nil
}

// CreateSessionParams carries the session create request.
type CreateSessionParams struct {
	ID                  string
	ProjectID           string
	Title               string
	SelectedDocumentIDs []string
}

// UpdateSessionParams patches one session. Nil fields stay untouched.
type UpdateSessionParams struct {
	ProjectID           *string
	Title               *string
	Messages            *[]domain.Message
	SelectedDocumentIDs *[]string
	SelectedSourceID    *string
	LatestResponse      *domain.ChatResponse
}

// List returns session summaries sorted by recency. A non-blank
// projectID restricts the listing to that project.
func (s *SessionStore) List(ctx context.Context, projectID string) ([]domain.SessionSummary, error) {
	query := `SELECT id, project_id, title, message_count, created_at, updated_at
		FROM sessions`
	args := []any{}
	if strings.TrimSpace(projectID) != "" {
		query += ` WHERE project_id = ?`
		args = append(args, strings.TrimSpace(projectID))
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []domain.SessionSummary{}
	for rows.Next() {
		var summary domain.SessionSummary
		var createdAt, updatedAt string
		if err := rows.Scan(&summary.ID, &summary.ProjectID, &summary.Title,
			&summary.MessageCount, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		summary.CreatedAt = parseTime(createdAt)
		summary.UpdatedAt = parseTime(updatedAt)
		sessions = append(sessions, summary)
	}
	return sessions, rows.Err()
}

// Create inserts a new session row. An explicit id is honored; reusing
// an existing id is a validation failure.
func (s *SessionStore) Create(ctx context.Context, params CreateSessionParams) (*domain.SessionRecord, error) {
	id := strings.TrimSpace(params.ID)
	if id == "" {
		id = uuid.NewString()
	}
	projectID, err := normalizeProjectID(params.ProjectID)
	if err != nil {
		return nil, err
	}
	title := normalizeTitle(params.Title, nil)
	selected := params.SelectedDocumentIDs
	if selected == nil {
		selected = []string{}
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM sessions WHERE id = ?`, id,
	).Scan(&count); err != nil {
		return nil, fmt.Errorf("failed to check session id: %w", err)
	}
	if count > 0 {
		return nil, domain.Validationf("Session already exists: %s", id)
	}

	selectedJSON, err := json.Marshal(selected)
	if err != nil {
		return nil, fmt.Errorf("failed to encode selected documents: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, project_id, title, message_count, selected_document_ids,
			selected_source_id, latest_response, messages, created_at, updated_at)
		 VALUES (?, ?, ?, 0, ?, NULL, NULL, '[]', ?, ?)`,
		id, projectID, title, string(selectedJSON), formatTime(now), formatTime(now),
	); err != nil {
		return nil, fmt.Errorf("failed to insert session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit session: %w", err)
	}

	return &domain.SessionRecord{
		SessionSummary: domain.SessionSummary{
			ID:           id,
			ProjectID:    projectID,
			Title:        title,
			MessageCount: 0,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		SelectedDocumentIDs: selected,
		Messages:            []domain.Message{},
	}, nil
}

// Get loads the full persisted snapshot of one session.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*domain.SessionRecord, error) {
	id, err := normalizeSessionID(sessionID)
	if err != nil {
		return nil, err
	}
	record, err := s.loadRecord(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Update patches the provided fields of one session and returns the
// updated record.
func (s *SessionStore) Update(ctx context.Context, sessionID string, params UpdateSessionParams) (*domain.SessionRecord, error) {
	id, err := normalizeSessionID(sessionID)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	record, err := s.loadRecord(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if params.ProjectID != nil {
		projectID, err := normalizeProjectID(*params.ProjectID)
		if err != nil {
			return nil, err
		}
		record.ProjectID = projectID
	}
	if params.Messages != nil {
		record.Messages = *params.Messages
		if record.Messages == nil {
			record.Messages = []domain.Message{}
		}
		record.MessageCount = len(record.Messages)
		if params.Title == nil && titleIsDefault(record.Title) {
			record.Title = normalizeTitle("", record.Messages)
		}
	}
	if params.SelectedDocumentIDs != nil {
		record.SelectedDocumentIDs = *params.SelectedDocumentIDs
		if record.SelectedDocumentIDs == nil {
			record.SelectedDocumentIDs = []string{}
		}
	}
	if params.SelectedSourceID != nil {
		record.SelectedSourceID = normalizeSourceID(*params.SelectedSourceID)
	}
	if params.LatestResponse != nil {
		record.LatestResponse = params.LatestResponse
	}
	if params.Title != nil {
		record.Title = normalizeTitle(*params.Title, record.Messages)
	}
	record.UpdatedAt = time.Now().UTC()

	if err := s.writeRecord(ctx, tx, record); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit session update: %w", err)
	}
	return record, nil
}

// Delete removes one session row.
func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	id, err := normalizeSessionID(sessionID)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return domain.NotFoundf("Session not found: %s", id)
	}
	return nil
}

// AppendTurn loads or creates the session row, appends the non-empty
// user and assistant messages, and replaces the latest-response snapshot.
// Empty contents append nothing, so the message count is unchanged.
func (s *SessionStore) AppendTurn(ctx context.Context, turn rag.SessionTurn) error {
	id, err := normalizeSessionID(turn.SessionID)
	if err != nil {
		return err
	}
	projectID, err := normalizeProjectID(turn.ProjectID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	record, err := s.loadRecord(ctx, tx, id)
	if domain.IsNotFound(err) {
		record = &domain.SessionRecord{
			SessionSummary: domain.SessionSummary{
				ID:        id,
				ProjectID: projectID,
				Title:     defaultSessionTitle,
				CreatedAt: now,
			},
			SelectedDocumentIDs: []string{},
			Messages:            []domain.Message{},
		}
		if err := s.insertDefaults(ctx, tx, record); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if content := strings.TrimSpace(turn.UserMessage); content != "" {
		record.Messages = append(record.Messages, buildMessage(domain.RoleUser, content, now))
	}
	if content := strings.TrimSpace(turn.AssistantMessage); content != "" {
		record.Messages = append(record.Messages, buildMessage(domain.RoleAssistant, content, now))
	}

	record.ProjectID = projectID
	record.MessageCount = len(record.Messages)
	record.SelectedDocumentIDs = turn.SelectedDocumentIDs
	if record.SelectedDocumentIDs == nil {
		record.SelectedDocumentIDs = []string{}
	}
	record.LatestResponse = turn.LatestResponse
	record.SelectedSourceID = nil
	if turn.LatestResponse != nil && len(turn.LatestResponse.Sources) > 0 {
		sourceID := turn.LatestResponse.Sources[0].SourceID
		record.SelectedSourceID = &sourceID
	}
	if titleIsDefault(record.Title) {
		record.Title = normalizeTitle("", record.Messages)
	}
	record.UpdatedAt = now

	if err := s.writeRecord(ctx, tx, record); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session turn: %w", err)
	}
	return nil
}

// querier abstracts *sql.DB and *sql.Tx for the row helpers.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SessionStore) loadRecord(ctx context.Context, q querier, id string) (*domain.SessionRecord, error) {
	var record domain.SessionRecord
	var selectedJSON, messagesJSON, createdAt, updatedAt string
	var sourceID, responseJSON sql.NullString

	err := q.QueryRowContext(ctx,
		`SELECT id, project_id, title, message_count, selected_document_ids,
			selected_source_id, latest_response, messages, created_at, updated_at
		 FROM sessions WHERE id = ?`, id,
	).Scan(&record.ID, &record.ProjectID, &record.Title, &record.MessageCount,
		&selectedJSON, &sourceID, &responseJSON, &messagesJSON, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("Session not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	record.CreatedAt = parseTime(createdAt)
	record.UpdatedAt = parseTime(updatedAt)
	record.SelectedDocumentIDs = decodeStringList(selectedJSON)
	record.Messages = decodeMessages(messagesJSON)
	if sourceID.Valid && strings.TrimSpace(sourceID.String) != "" {
		value := sourceID.String
		record.SelectedSourceID = &value
	}
	if responseJSON.Valid {
		var response domain.ChatResponse
		if err := json.Unmarshal([]byte(responseJSON.String), &response); err == nil {
			record.LatestResponse = &response
		}
	}
	return &record, nil
}

func (s *SessionStore) insertDefaults(ctx context.Context, q querier, record *domain.SessionRecord) error {
	if _, err := q.ExecContext(ctx,
		`INSERT INTO sessions (id, project_id, title, message_count, selected_document_ids,
			selected_source_id, latest_response, messages, created_at, updated_at)
		 VALUES (?, ?, ?, 0, '[]', NULL, NULL, '[]', ?, ?)`,
		record.ID, record.ProjectID, record.Title,
		formatTime(record.CreatedAt), formatTime(record.CreatedAt),
	); err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (s *SessionStore) writeRecord(ctx context.Context, q querier, record *domain.SessionRecord) error {
	selectedJSON, err := json.Marshal(record.SelectedDocumentIDs)
	if err != nil {
		return fmt.Errorf("failed to encode selected documents: %w", err)
	}
	messagesJSON, err := json.Marshal(record.Messages)
	if err != nil {
		return fmt.Errorf("failed to encode messages: %w", err)
	}

	var responseJSON any
	if record.LatestResponse != nil {
		encoded, err := json.Marshal(record.LatestResponse)
		if err != nil {
			return fmt.Errorf("failed to encode latest response: %w", err)
		}
		responseJSON = string(encoded)
	}
	var sourceID any
	if record.SelectedSourceID != nil {
		sourceID = *record.SelectedSourceID
	}

	if _, err := q.ExecContext(ctx,
		`UPDATE sessions SET project_id = ?, title = ?, message_count = ?,
			selected_document_ids = ?, selected_source_id = ?, latest_response = ?,
			messages = ?, updated_at = ?
		 WHERE id = ?`,
		record.ProjectID, record.Title, record.MessageCount,
		string(selectedJSON), sourceID, responseJSON,
		string(messagesJSON), formatTime(record.UpdatedAt), record.ID,
	); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

func buildMessage(role, content string, createdAt time.Time) domain.Message {
	return domain.Message{
		ID:        "msg-" + uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: createdAt,
	}
}

func decodeStringList(raw string) []string {
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil || values == nil {
		return []string{}
	}
	filtered := make([]string, 0, len(values))
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			filtered = append(filtered, value)
		}
	}
	return filtered
}

func decodeMessages(raw string) []domain.Message {
	var messages []domain.Message
	if err := json.Unmarshal([]byte(raw), &messages); err != nil || messages == nil {
		return []domain.Message{}
	}
	return messages
}

func normalizeSessionID(sessionID string) (string, error) {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return "", domain.Validationf("session_id must be a non-empty string")
	}
	return id, nil
}

func normalizeProjectID(projectID string) (string, error) {
	id := strings.TrimSpace(projectID)
	if id == "" {
		return "", domain.Validationf("project_id must be a non-empty string")
	}
	return id, nil
}

func normalizeSourceID(sourceID string) *string {
	cleaned := strings.TrimSpace(sourceID)
	if cleaned == "" {
		return nil
	}
	return &cleaned
}

// normalizeTitle resolves an explicit title, falling back to the first
// non-empty user message (newlines flattened, capped at 64 characters)
// and finally to the default placeholder.
func normalizeTitle(title string, messages []domain.Message) string {
	if cleaned := strings.TrimSpace(title); cleaned != "" {
		return truncateRunes(cleaned, 200)
	}
	for _, message := range messages {
		if message.Role != domain.RoleUser {
			continue
		}
		candidate := strings.ReplaceAll(strings.TrimSpace(message.Content), "\n", " ")
		if candidate == "" {
			continue
		}
		return truncateRunes(candidate, 64)
	}
	return defaultSessionTitle
}

func titleIsDefault(title string) bool {
	cleaned := strings.TrimSpace(title)
	return cleaned == "" || cleaned == defaultSessionTitle
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
