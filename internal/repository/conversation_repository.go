package repository

import (
	"context"
	"time"

	"market-quorum/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

const createConversationTable = `
CREATE TABLE IF NOT EXISTS conversation_messages (
	id BIGSERIAL PRIMARY KEY,
	chat_id BIGINT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_conversation_chat ON conversation_messages (chat_id, created_at DESC);
`

// ConversationRepository stores advisor chat turns so the narrator keeps
// context across Telegram messages.
type ConversationRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewConversationRepository(pool PgxPool, tracer trace.Tracer) *ConversationRepository {
	return &ConversationRepository{pool: pool, tracer: tracer}
}

func (r *ConversationRepository) RunMigrations(ctx context.Context) error {
	ctx, span := r.tracer.Start(ctx, "conversation-repo.migrate")
	defer span.End()

	_, err := r.pool.Exec(ctx, createConversationTable)
	return err
}

func (r *ConversationRepository) AppendMessage(ctx context.Context, chatID int64, role, content string) error {
	ctx, span := r.tracer.Start(ctx, "conversation-repo.append-message")
	defer span.End()

	_, err := r.pool.Exec(ctx,
		`INSERT INTO conversation_messages (chat_id, role, content) VALUES ($1, $2, $3)`,
		chatID, role, content,
	)
	return err
}

// RecentMessages returns the last limit turns for a chat, oldest first.
func (r *ConversationRepository) RecentMessages(ctx context.Context, chatID int64, limit int) ([]domain.ConversationMessage, error) {
	ctx, span := r.tracer.Start(ctx, "conversation-repo.recent-messages")
	defer span.End()

	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx,
		`SELECT role, content, created_at
		 FROM conversation_messages
		 WHERE chat_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		chatID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.ConversationMessage
	for rows.Next() {
		var m domain.ConversationMessage
		var ts time.Time
		if err := rows.Scan(&m.Role, &m.Content, &ts); err != nil {
			return nil, err
		}
		m.CreatedAt = ts.UTC()
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// The query returns newest first; prompts want chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// TrimHistory deletes everything but the newest keep rows for a chat.
func (r *ConversationRepository) TrimHistory(ctx context.Context, chatID int64, keep int) (int, error) {
	ctx, span := r.tracer.Start(ctx, "conversation-repo.trim-history")
	defer span.End()

	tag, err := r.pool.Exec(ctx,
		`DELETE FROM conversation_messages
		 WHERE chat_id = $1 AND id NOT IN (
			SELECT id FROM conversation_messages
			WHERE chat_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		 )`,
		chatID, keep,
	)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
