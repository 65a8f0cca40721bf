package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/pulse/internal/logger"
	"github.com/pulse/migrations"
)

// backoff — экспоненциальные повторы от 2с, не чаще раза в 30с, не дольше maxWait.
func backoff(maxWait time.Duration) retry.Backoff {
	b := retry.NewExponential(2 * time.Second)
	b = retry.WithCappedDuration(30*time.Second, b)
	return retry.WithMaxDuration(maxWait, b)
}

// ConnectDB подключается к Postgres с повторами; при недоступности БД не роняет процесс сразу.
// logPrefix добавляется к сообщениям лога (например "api: ").
func ConnectDB(ctx context.Context, poolCfg *pgxpool.Config, maxWait time.Duration, logPrefix string) (*pgxpool.Pool, error) {
	var pool *pgxpool.Pool
	err := retry.Do(ctx, backoff(maxWait), func(ctx context.Context) error {
		connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		p, err := pgxpool.NewWithConfig(connCtx, poolCfg)
		if err != nil {
			logger.Errorf("%sdb connect failed, retrying: %v", logPrefix, err)
			return retry.RetryableError(err)
		}
		if err := p.Ping(connCtx); err != nil {
			p.Close()
			logger.Errorf("%sdb ping failed, retrying: %v", logPrefix, err)
			return retry.RetryableError(err)
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect to db (gave up after %v): %w", maxWait, err)
	}
	return pool, nil
}

// Migrate применяет встроенные миграции goose поверх пула.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	defer logger.DeferLogDuration("startup.Migrate", time.Now())()
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrations.Files)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}
