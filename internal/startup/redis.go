package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/pulse/internal/logger"
	redisstorage "github.com/pulse/internal/storage/redis"
)

// ConnectRedis подключается к Redis с повторами.
// logPrefix добавляется к сообщениям лога (например "api: ").
func ConnectRedis(ctx context.Context, redisURL string, maxWait time.Duration, logPrefix string) (*redisstorage.Client, error) {
	var client *redisstorage.Client
	err := retry.Do(ctx, backoff(maxWait), func(ctx context.Context) error {
		connCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		c, err := redisstorage.New(connCtx, redisURL)
		if err != nil {
			logger.Errorf("%sredis connect failed, retrying: %v", logPrefix, err)
			return retry.RetryableError(err)
		}
		client = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis (gave up after %v): %w", maxWait, err)
	}
	return client, nil
}
