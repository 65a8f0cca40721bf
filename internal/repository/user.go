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
	"github.com/pulse/internal/presence"
)

var ErrNotFound = errors.New("not found")

// userCols — список колонок для SELECT (порядок соответствует scanUser).
const userCols = `id, username, email, avatar_url, presence_status, last_seen_at, mood_emoji, mood_text, mood_expires_at, created_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// scanUser сканирует строку в model.User. NULL в last_seen_at даёт нулевое время («Unknown»).
func scanUser(row pgx.CollectableRow) (model.User, error) {
	var (
		u                   model.User
		lastSeen            *time.Time
		moodEmoji, moodText string
		moodExpires         *time.Time
	)
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.AvatarURL, &u.PresenceStatus, &lastSeen, &moodEmoji, &moodText, &moodExpires, &u.CreatedAt); err != nil {
		return u, err
	}
	if lastSeen != nil {
		u.LastSeenAt = *lastSeen
	}
	if moodExpires != nil {
		u.Mood = &model.Mood{Emoji: moodEmoji, Text: moodText, ExpiresAt: *moodExpires}
	}
	return u, nil
}

// Upsert создаёт пользователя или обновляет профиль (учётки живут в auth-сервисе, здесь — копия профиля).
func (r *UserRepository) Upsert(ctx context.Context, u *model.User) error {
	defer logger.DeferLogDuration("user.Upsert", time.Now())()
	if u.PresenceStatus == "" {
		u.PresenceStatus = presence.StatusOnline
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, username, email, avatar_url, presence_status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username, email = EXCLUDED.email, avatar_url = EXCLUDED.avatar_url`,
		u.ID, u.Username, u.Email, u.AvatarURL, u.PresenceStatus, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("userRepo.Upsert: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByID", time.Now())()
	rows, _ := r.pool.Query(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id)
	u, err := pgx.CollectExactlyOneRow(rows, scanUser)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("userRepo.GetByID: %w", err)
	}
	return &u, nil
}

// GetByIDs возвращает пользователей по списку id (отсутствующие пропускаются).
func (r *UserRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*model.User, error) {
	defer logger.DeferLogDuration("user.GetByIDs", time.Now())()
	out := make(map[string]*model.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, _ := r.pool.Query(ctx, `SELECT `+userCols+` FROM users WHERE id = ANY($1)`, ids)
	users, err := pgx.CollectRows(rows, scanUser)
	if err != nil {
		return nil, fmt.Errorf("userRepo.GetByIDs: %w", err)
	}
	for i := range users {
		out[users[i].ID] = &users[i]
	}
	return out, nil
}

func (r *UserRepository) SearchByUsername(ctx context.Context, query string, limit int) ([]model.User, error) {
	defer logger.DeferLogDuration("user.SearchByUsername", time.Now())()
	rows, _ := r.pool.Query(ctx,
		`SELECT `+userCols+` FROM users WHERE username ILIKE $1 ORDER BY username LIMIT $2`,
		"%"+query+"%", limit,
	)
	users, err := pgx.CollectRows(rows, scanUser)
	if err != nil {
		return nil, fmt.Errorf("userRepo.SearchByUsername: %w", err)
	}
	return users, nil
}

// SetPresenceStatus сохраняет выбранный пользователем статус (online/idle/dnd/invisible).
func (r *UserRepository) SetPresenceStatus(ctx context.Context, id string, status presence.Status) error {
	defer logger.DeferLogDuration("user.SetPresenceStatus", time.Now())()
	tag, err := r.pool.Exec(ctx, `UPDATE users SET presence_status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("userRepo.SetPresenceStatus: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *UserRepository) TouchLastSeen(ctx context.Context, id string, at time.Time) error {
	defer logger.DeferLogDuration("user.TouchLastSeen", time.Now())()
	_, err := r.pool.Exec(ctx, `UPDATE users SET last_seen_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("userRepo.TouchLastSeen: %w", err)
	}
	return nil
}

// SetMood устанавливает настроение; nil — очистить.
func (r *UserRepository) SetMood(ctx context.Context, id string, mood *model.Mood) error {
	defer logger.DeferLogDuration("user.SetMood", time.Now())()
	var (
		emoji, text string
		expires     *time.Time
	)
	if mood != nil {
		emoji, text, expires = mood.Emoji, mood.Text, &mood.ExpiresAt
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET mood_emoji = $1, mood_text = $2, mood_expires_at = $3 WHERE id = $4`,
		emoji, text, expires, id,
	)
	if err != nil {
		return fmt.Errorf("userRepo.SetMood: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearExpiredMoods сбрасывает истёкшие настроения и возвращает id затронутых пользователей.
func (r *UserRepository) ClearExpiredMoods(ctx context.Context, now time.Time) ([]string, error) {
	defer logger.DeferLogDuration("user.ClearExpiredMoods", time.Now())()
	rows, err := r.pool.Query(ctx,
		`UPDATE users SET mood_emoji = '', mood_text = '', mood_expires_at = NULL
		 WHERE mood_expires_at IS NOT NULL AND mood_expires_at <= $1
		 RETURNING id`, now,
	)
	if err != nil {
		return nil, fmt.Errorf("userRepo.ClearExpiredMoods: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("userRepo.ClearExpiredMoods rows: %w", err)
	}
	return ids, nil
}

// GetContactIDs — пользователи, с которыми userID состоит хотя бы в одном чате.
func (r *UserRepository) GetContactIDs(ctx context.Context, userID string) ([]string, error) {
	defer logger.DeferLogDuration("user.GetContactIDs", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT other.user_id
		 FROM chat_members me
		 JOIN chat_members other ON other.chat_id = me.chat_id AND other.user_id <> me.user_id
		 WHERE me.user_id = $1`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("userRepo.GetContactIDs: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("userRepo.GetContactIDs rows: %w", err)
	}
	return ids, nil
}
