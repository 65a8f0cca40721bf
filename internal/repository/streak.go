package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulse/internal/logger"
	"github.com/pulse/internal/streak"
)

// StreakRepository хранит серии в таблице streaks; реализует streak.Store.
type StreakRepository struct {
	pool *pgxpool.Pool
}

var _ streak.Store = (*StreakRepository)(nil)

func NewStreakRepository(pool *pgxpool.Pool) *StreakRepository {
	return &StreakRepository{pool: pool}
}

func scanStreak(s interface{ Scan(dest ...any) error }) (streak.Record, error) {
	var (
		rec  streak.Record
		last *time.Time
	)
	if err := s.Scan(&rec.CurrentStreak, &rec.LongestStreak, &last); err != nil {
		return streak.Record{}, err
	}
	if last != nil {
		rec.LastActiveDate = *last
	}
	return rec, nil
}

// Get возвращает серию; у пользователя без записи — нулевая серия.
func (r *StreakRepository) Get(ctx context.Context, userID string) (streak.Record, error) {
	defer logger.DeferLogDuration("streak.Get", time.Now())()
	rec, err := scanStreak(r.pool.QueryRow(ctx,
		`SELECT current_streak, longest_streak, last_active_date FROM streaks WHERE user_id = $1`, userID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return streak.Record{}, nil
	}
	if err != nil {
		return streak.Record{}, fmt.Errorf("streakRepo.Get: %w", err)
	}
	return rec, nil
}

// Update выполняет fn под блокировкой строки (SELECT ... FOR UPDATE), поэтому параллельные
// сообщения одного пользователя в один день не увеличат серию дважды.
func (r *StreakRepository) Update(ctx context.Context, userID string, fn func(streak.Record) (streak.Record, bool)) (streak.Record, error) {
	defer logger.DeferLogDuration("streak.Update", time.Now())()
	var out streak.Record
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		// Строка должна существовать, иначе блокировать нечего.
		if _, err := tx.Exec(ctx,
			`INSERT INTO streaks (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID,
		); err != nil {
			return err
		}
		cur, err := scanStreak(tx.QueryRow(ctx,
			`SELECT current_streak, longest_streak, last_active_date FROM streaks WHERE user_id = $1 FOR UPDATE`, userID,
		))
		if err != nil {
			return err
		}
		next, changed := fn(cur)
		if !changed {
			out = cur
			return nil
		}
		var last *time.Time
		if !next.LastActiveDate.IsZero() {
			last = &next.LastActiveDate
		}
		if _, err := tx.Exec(ctx,
			`UPDATE streaks SET current_streak = $1, longest_streak = $2, last_active_date = $3 WHERE user_id = $4`,
			next.CurrentStreak, next.LongestStreak, last, userID,
		); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return streak.Record{}, fmt.Errorf("streakRepo.Update: %w", err)
	}
	return out, nil
}
