package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulse/internal/logger"
	"github.com/pulse/internal/model"
)

// messageCols — сообщение и публичные поля отправителя (порядок соответствует scanMessage).
const messageCols = `m.id, m.chat_id, m.sender_id, m.content, m.content_type, m.file_url, m.duration_ms,
		        m.ephemeral, m.expires_at, m.created_at,
		        u.id, u.username, u.avatar_url`

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func scanMessage(row pgx.CollectableRow) (model.Message, error) {
	var (
		m      model.Message
		sender model.UserPublic
	)
	err := row.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.ContentType, &m.FileURL, &m.DurationMs,
		&m.Ephemeral, &m.ExpiresAt, &m.CreatedAt,
		&sender.ID, &sender.Username, &sender.AvatarURL)
	m.Sender = &sender
	return m, err
}

func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages (id, chat_id, sender_id, content, content_type, file_url, duration_ms, ephemeral, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		m.ID, m.ChatID, m.SenderID, m.Content, m.ContentType, m.FileURL, m.DurationMs, m.Ephemeral, m.ExpiresAt, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	return nil
}

// visibleMessages — сообщения чата, новые первыми. Истёкшие исчезающие сообщения
// отфильтровываются при чтении, даже если janitor их ещё не удалил.
const visibleMessages = `SELECT ` + messageCols + `
	FROM messages m
	JOIN users u ON u.id = m.sender_id
	WHERE m.chat_id = $1 AND (m.expires_at IS NULL OR m.expires_at > $2)
	ORDER BY m.created_at DESC, m.id DESC
	LIMIT $3 OFFSET $4`

func (r *MessageRepository) GetChatMessages(ctx context.Context, chatID string, now time.Time, limit, offset int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.GetChatMessages", time.Now())()
	rows, _ := r.pool.Query(ctx, visibleMessages, chatID, now, limit, offset)
	messages, err := pgx.CollectRows(rows, scanMessage)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetChatMessages: %w", err)
	}
	return messages, nil
}

// GetLastMessage — последнее видимое сообщение или nil, если чат пуст.
func (r *MessageRepository) GetLastMessage(ctx context.Context, chatID string, now time.Time) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetLastMessage", time.Now())()
	rows, _ := r.pool.Query(ctx, visibleMessages, chatID, now, 1, 0)
	m, err := pgx.CollectOneRow(rows, scanMessage)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetLastMessage: %w", err)
	}
	return &m, nil
}

// DeleteExpiredEphemeral удаляет исчезающие сообщения с expires_at <= before.
func (r *MessageRepository) DeleteExpiredEphemeral(ctx context.Context, before time.Time) ([]model.MessageRef, error) {
	defer logger.DeferLogDuration("msg.DeleteExpiredEphemeral", time.Now())()
	rows, _ := r.pool.Query(ctx,
		`DELETE FROM messages WHERE ephemeral AND expires_at IS NOT NULL AND expires_at <= $1
		 RETURNING id, chat_id`, before,
	)
	refs, err := pgx.CollectRows(rows, pgx.RowToStructByPos[model.MessageRef])
	if err != nil {
		return nil, fmt.Errorf("msgRepo.DeleteExpiredEphemeral: %w", err)
	}
	return refs, nil
}
