package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/trieve/retrieval-core/internal/repository"
)

// MessageRepo implements repository.MessageRepository. Per spec Non-goals,
// durable storage of chat transcripts beyond the assistant turn is out of
// scope; this repo still exposes reads so the RAG orchestrator can build
// chat context from whatever has already been persisted for a topic.
type MessageRepo struct {
	db *DB
}

func NewMessageRepo(db *DB) *MessageRepo {
	return &MessageRepo{db: db}
}

func (r *MessageRepo) GetTopicMessages(ctx context.Context, topicID uuid.UUID) ([]repository.Message, error) {
	query := `
		SELECT id, topic_id, role, content, prompt_tokens, completion_tokens, sort_order, created_at
		FROM messages
		WHERE topic_id = $1
		ORDER BY sort_order ASC
	`
	rows, err := r.db.Pool.Query(ctx, query, topicID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []repository.Message
	for rows.Next() {
		var m repository.Message
		if err := rows.Scan(&m.ID, &m.TopicID, &m.Role, &m.Content, &m.PromptTokens, &m.CompletionTokens, &m.SortOrder, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *MessageRepo) CreateMessage(ctx context.Context, msg *repository.Message) error {
	query := `
		INSERT INTO messages (id, topic_id, role, content, prompt_tokens, completion_tokens, sort_order, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.Pool.Exec(ctx, query, msg.ID, msg.TopicID, msg.Role, msg.Content, msg.PromptTokens, msg.CompletionTokens, msg.SortOrder, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}
