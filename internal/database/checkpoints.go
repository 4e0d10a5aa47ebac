package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"dev.ragsuite.platform/internal/domain"
)

const checkpointsSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	thread_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (thread_id, seq)
);
`

// CheckpointStore is the durable conversation memory behind the chat
// graphs: an append-only message log per thread. Reads run concurrently;
// writes serialize per thread so seq allocation never races.
type CheckpointStore struct {
	db     *sql.DB
	logger *logrus.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewCheckpointStore wraps an open checkpoint database and applies its
// schema.
func NewCheckpointStore(ctx context.Context, db *sql.DB, logger *logrus.Logger) (*CheckpointStore, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if _, err := db.ExecContext(ctx, checkpointsSchema); err != nil {
		return nil, fmt.Errorf("failed to apply checkpoints schema: %w", err)
	}
	return &CheckpointStore{
		db:     db,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// History returns the thread's messages in append order.
func (c *CheckpointStore) History(ctx context.Context, threadID string) ([]domain.ChatMessage, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT role, content FROM checkpoints WHERE thread_id = ? ORDER BY seq`, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint history: %w", err)
	}
	defer rows.Close()

	messages := []domain.ChatMessage{}
	for rows.Next() {
		var message domain.ChatMessage
		if err := rows.Scan(&message.Role, &message.Content); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		messages = append(messages, message)
	}
	return messages, rows.Err()
}

// AppendTurn appends the non-empty user and assistant contents, in that
// order, under the thread's next sequence numbers in one transaction.
// Replaying a turn with both contents empty changes nothing.
func (c *CheckpointStore) AppendTurn(ctx context.Context, threadID, userContent, assistantContent string) error {
	type entry struct {
		role    string
		content string
	}
	entries := make([]entry, 0, 2)
	if content := strings.TrimSpace(userContent); content != "" {
		entries = append(entries, entry{role: domain.RoleUser, content: content})
	}
	if content := strings.TrimSpace(assistantContent); content != "" {
		entries = append(entries, entry{role: domain.RoleAssistant, content: content})
	}
	if len(entries) == 0 {
		return nil
	}

	lock := c.threadLock(threadID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var next int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), -1) + 1 FROM checkpoints WHERE thread_id = ?`, threadID,
	).Scan(&next); err != nil {
		return fmt.Errorf("failed to allocate checkpoint seq: %w", err)
	}

	now := formatTime(time.Now().UTC())
	for i, e := range entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO checkpoints (thread_id, seq, role, content, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			threadID, next+int64(i), e.role, e.content, now,
		); err != nil {
			return fmt.Errorf("failed to insert checkpoint: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit checkpoint turn: %w", err)
	}
	return nil
}

func (c *CheckpointStore) threadLock(threadID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[threadID]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[threadID] = lock
	}
	return lock
}
