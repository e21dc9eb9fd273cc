package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"aguacachat-sync/internal/models"
)

// PostgresStore is the sqlx-backed ChatStore.
type PostgresStore struct {
	db *sqlx.DB
}

// Connect opens the database and applies migrations.
func Connect(dsn string) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStore wraps an existing connection, used by tests.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func runMigrations(db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            creator_id TEXT NOT NULL,
            member_id TEXT NOT NULL,
            accepted BOOLEAN NOT NULL DEFAULT FALSE,
            blocked BOOLEAN NOT NULL DEFAULT FALSE,
            blocked_by TEXT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            UNIQUE(creator_id, member_id)
        );`,
		`CREATE TABLE IF NOT EXISTS messages (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
            sender_id TEXT NOT NULL,
            content TEXT NOT NULL,
            message_type TEXT NOT NULL DEFAULT 'text',
            seen_by TEXT[] NOT NULL DEFAULT '{}',
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
            ON messages (conversation_id, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS clear_markers (
            conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
            user_id TEXT NOT NULL,
            message_id UUID NOT NULL,
            cleared_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY(conversation_id, user_id)
        );`,
	}
	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

const messageColumns = `id, conversation_id, sender_id, content, message_type, seen_by, created_at`

// GetConversation fetches conversation metadata by id.
func (s *PostgresStore) GetConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	var conv models.Conversation
	err := s.db.GetContext(ctx, &conv,
		`SELECT id, creator_id, member_id, accepted, blocked, blocked_by, created_at FROM conversations WHERE id=$1`,
		conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// ListSummaries returns one last-message row per conversation the user
// participates in, most recent first.
func (s *PostgresStore) ListSummaries(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	query := `SELECT DISTINCT ON (m.conversation_id)
            m.conversation_id,
            CASE WHEN c.creator_id=$1 THEN c.member_id ELSE c.creator_id END AS peer_id,
            m.content AS last_content,
            m.message_type AS last_type,
            m.sender_id AS last_sender_id,
            m.created_at AS last_at
        FROM messages m
        JOIN conversations c ON c.id = m.conversation_id
        WHERE c.creator_id=$1 OR c.member_id=$1
        ORDER BY m.conversation_id, m.created_at DESC`
	var rows []models.ConversationSummary
	if err := s.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, err
	}
	// DISTINCT ON forces conversation_id ordering first; re-sort by recency.
	for i := 1; i < len(rows); i++ {
		for j := i; j > 0 && rows[j].LastAt.After(rows[j-1].LastAt); j-- {
			rows[j], rows[j-1] = rows[j-1], rows[j]
		}
	}
	return rows, nil
}

// SetAccepted flips the recipient-consent flag.
func (s *PostgresStore) SetAccepted(ctx context.Context, conversationID string, accepted bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE conversations SET accepted=$2 WHERE id=$1`, conversationID, accepted)
	if err != nil {
		return err
	}
	return requireRow(res, ErrConversationNotFound)
}

// SetBlocked sets or clears the block flag. blockedBy is recorded only when
// blocking; clearing the block also clears the owner.
func (s *PostgresStore) SetBlocked(ctx context.Context, conversationID string, blocked bool, blockedBy string) error {
	var res sql.Result
	var err error
	if blocked {
		res, err = s.db.ExecContext(ctx,
			`UPDATE conversations SET blocked=TRUE, blocked_by=$2 WHERE id=$1`, conversationID, blockedBy)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE conversations SET blocked=FALSE, blocked_by=NULL WHERE id=$1`, conversationID)
	}
	if err != nil {
		return err
	}
	return requireRow(res, ErrConversationNotFound)
}

// MessagePage fetches one page descending by created_at, applying the
// optional cursor bounds.
func (s *PostgresStore) MessagePage(ctx context.Context, q MessagePageQuery) ([]models.Message, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + messageColumns + ` FROM messages WHERE conversation_id=$1`)
	args := []interface{}{q.ConversationID}
	if q.Before != nil {
		args = append(args, *q.Before)
		fmt.Fprintf(&sb, ` AND created_at < $%d`, len(args))
	}
	if q.After != nil {
		args = append(args, *q.After)
		fmt.Fprintf(&sb, ` AND created_at > $%d`, len(args))
	}
	args = append(args, q.Limit)
	fmt.Fprintf(&sb, ` ORDER BY created_at DESC LIMIT $%d`, len(args))

	var msgs []models.Message
	err := s.db.SelectContext(ctx, &msgs, sb.String(), args...)
	return msgs, err
}

// GetMessage fetches a single row by id.
func (s *PostgresStore) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	var msg models.Message
	err := s.db.GetContext(ctx, &msg,
		`SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// InsertMessage persists a message and returns the stored row. The client's
// temporary id is not persisted; the store assigns the durable one.
func (s *PostgresStore) InsertMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	var stored models.Message
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO messages (conversation_id, sender_id, content, message_type)
            VALUES ($1, $2, $3, $4) RETURNING `+messageColumns,
		msg.ConversationID, msg.SenderID, msg.Content, msg.Type).
		StructScan(&stored)
	return stored, err
}

// DeleteMessage removes a message owned by the sender.
func (s *PostgresStore) DeleteMessage(ctx context.Context, messageID string, senderID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE id=$1 AND sender_id=$2`, messageID, senderID)
	if err != nil {
		return err
	}
	return requireRow(res, ErrMessageNotFound)
}

// AddSeenBy appends a viewer to a message's seen array. The append is a
// single-row atomic update, so the caller's serialization is about ordering,
// not correctness. Already-present viewers are a no-op.
func (s *PostgresStore) AddSeenBy(ctx context.Context, messageID string, viewerID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET seen_by = array_append(seen_by, $2)
            WHERE id=$1 AND NOT ($2 = ANY(seen_by))`, messageID, viewerID)
	if err != nil {
		return err
	}
	// Zero rows affected means either an unknown id or an already-seen
	// viewer; only the former is an error.
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		if _, err := s.GetMessage(ctx, messageID); err != nil {
			return err
		}
	}
	return nil
}

// SeenStates batch-fetches seen state for the consistency sweep.
func (s *PostgresStore) SeenStates(ctx context.Context, messageIDs []string) ([]models.SeenState, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	var states []models.SeenState
	err := s.db.SelectContext(ctx, &states,
		`SELECT id, content, seen_by FROM messages WHERE id = ANY($1)`, pq.Array(messageIDs))
	return states, err
}

// ClearMarker returns the viewer's clearance marker, or nil when none exists.
func (s *PostgresStore) ClearMarker(ctx context.Context, conversationID string, userID string) (*models.ClearMarker, error) {
	var marker models.ClearMarker
	err := s.db.GetContext(ctx, &marker,
		`SELECT conversation_id, user_id, message_id, cleared_at FROM clear_markers
            WHERE conversation_id=$1 AND user_id=$2`, conversationID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &marker, nil
}

// UpsertClearMarker records a clearance pivot, advancing an existing marker
// only when the new one is more recent.
func (s *PostgresStore) UpsertClearMarker(ctx context.Context, marker models.ClearMarker) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO clear_markers (conversation_id, user_id, message_id, cleared_at)
            VALUES ($1, $2, $3, $4)
            ON CONFLICT (conversation_id, user_id) DO UPDATE
            SET message_id = EXCLUDED.message_id, cleared_at = EXCLUDED.cleared_at
            WHERE clear_markers.cleared_at < EXCLUDED.cleared_at`,
		marker.ConversationID, marker.UserID, marker.MessageID, marker.ClearedAt)
	return err
}

func requireRow(res sql.Result, missing error) error {
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return missing
	}
	return nil
}

var _ ChatStore = (*PostgresStore)(nil)
