package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulse/internal/logger"
	"github.com/pulse/internal/model"
)

// activeAt — последнее сообщение чата; исчезнувшие сообщения удалены и не учитываются.
const chatCols = `c.id, c.chat_type, c.name, c.created_by, c.created_at,
	COALESCE((SELECT MAX(m.created_at) FROM messages m WHERE m.chat_id = c.id), c.created_at)`

type ChatRepository struct {
	pool *pgxpool.Pool
}

func NewChatRepository(pool *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{pool: pool}
}

func scanChat(row pgx.CollectableRow) (model.Chat, error) {
	var c model.Chat
	err := row.Scan(&c.ID, &c.ChatType, &c.Name, &c.CreatedBy, &c.CreatedAt, &c.ActiveAt)
	return c, err
}

// CreatePersonal создаёт личный чат двух пользователей одной транзакцией.
func (r *ChatRepository) CreatePersonal(ctx context.Context, userID, peerID string, now time.Time) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.CreatePersonal", time.Now())()
	c := &model.Chat{ID: uuid.NewString(), ChatType: model.ChatTypePersonal, CreatedBy: userID, CreatedAt: now, ActiveAt: now}
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO chats (id, chat_type, name, created_by, created_at) VALUES ($1, $2, '', $3, $4)`,
			c.ID, c.ChatType, c.CreatedBy, c.CreatedAt,
		); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, id := range []string{userID, peerID} {
			batch.Queue(`INSERT INTO chat_members (chat_id, user_id, role, joined_at) VALUES ($1, $2, 'member', $3)`, c.ID, id, now)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return nil, fmt.Errorf("chatRepo.CreatePersonal: %w", err)
	}
	return c, nil
}

func (r *ChatRepository) FindPersonalChat(ctx context.Context, userID1, userID2 string) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.FindPersonalChat", time.Now())()
	rows, _ := r.pool.Query(ctx,
		`SELECT `+chatCols+`
		 FROM chats c
		 JOIN chat_members a ON a.chat_id = c.id AND a.user_id = $1
		 JOIN chat_members b ON b.chat_id = c.id AND b.user_id = $2
		 WHERE c.chat_type = 'personal'
		 LIMIT 1`,
		userID1, userID2,
	)
	c, err := pgx.CollectExactlyOneRow(rows, scanChat)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("chatRepo.FindPersonalChat: %w", err)
	}
	return &c, nil
}

func (r *ChatRepository) GetMemberIDs(ctx context.Context, chatID string) ([]string, error) {
	defer logger.DeferLogDuration("chat.GetMemberIDs", time.Now())()
	rows, _ := r.pool.Query(ctx, `SELECT user_id FROM chat_members WHERE chat_id = $1 ORDER BY joined_at`, chatID)
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("chatRepo.GetMemberIDs: %w", err)
	}
	return ids, nil
}

func (r *ChatRepository) IsMember(ctx context.Context, chatID, userID string) (bool, error) {
	defer logger.DeferLogDuration("chat.IsMember", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM chat_members WHERE chat_id = $1 AND user_id = $2)`,
		chatID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("chatRepo.IsMember: %w", err)
	}
	return exists, nil
}

// GetUserChats — чаты пользователя, недавно активные первыми.
func (r *ChatRepository) GetUserChats(ctx context.Context, userID string) ([]model.Chat, error) {
	defer logger.DeferLogDuration("chat.GetUserChats", time.Now())()
	rows, _ := r.pool.Query(ctx,
		`SELECT `+chatCols+` AS active_at
		 FROM chats c
		 JOIN chat_members cm ON cm.chat_id = c.id
		 WHERE cm.user_id = $1
		 ORDER BY active_at DESC, c.id`, userID,
	)
	chats, err := pgx.CollectRows(rows, scanChat)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.GetUserChats: %w", err)
	}
	return chats, nil
}
