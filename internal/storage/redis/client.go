package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pulse/internal/storage"
)

// subscriptionBuffer — размер буфера входящих сообщений одной подписки.
const subscriptionBuffer = 256

// releaseScript удаляет ключ аренды, только если значение совпадает с token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Client struct {
	cli *redis.Client
}

var _ storage.Store = (*Client)(nil)

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

// Redis отдаёт нижележащий клиент (push-сервис хранит в нём подписки).
func (c *Client) Redis() *redis.Client { return c.cli }

func (c *Client) Close() error {
	return c.cli.Close()
}

func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := c.cli.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

// PSubscribe ждёт подтверждения подписки, чтобы события после возврата не терялись.
func (c *Client) PSubscribe(ctx context.Context, pattern string) (storage.Subscription, error) {
	ps := c.cli.PSubscribe(ctx, pattern)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis psubscribe %s: %w", pattern, err)
	}
	s := &subscription{ps: ps, out: make(chan storage.Message, subscriptionBuffer), done: make(chan struct{})}
	go s.pump()
	return s, nil
}

type subscription struct {
	ps   *redis.PubSub
	out  chan storage.Message
	done chan struct{}

	mu   sync.Mutex
	err  error
	once sync.Once
}

// pump читает через ReceiveMessage: в отличие от Channel() он возвращает ошибку соединения.
func (s *subscription) pump() {
	defer close(s.out)
	for {
		msg, err := s.ps.ReceiveMessage(context.Background())
		if err != nil {
			select {
			case <-s.done:
				s.setErr(storage.ErrSubscriptionClosed)
			default:
				s.setErr(fmt.Errorf("redis subscription: %w", err))
			}
			return
		}
		select {
		case s.out <- storage.Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
		case <-s.done:
			s.setErr(storage.ErrSubscriptionClosed)
			return
		}
	}
}

func (s *subscription) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *subscription) Messages() <-chan storage.Message { return s.out }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}

// AcquireLease — SET key token NX PX ttl.
func (c *Client) AcquireLease(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := c.cli.SetNX(ctx, "lease:"+key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis lease %s: %w", key, err)
	}
	return ok, nil
}

func (c *Client) ReleaseLease(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, c.cli, []string{"lease:" + key}, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("redis release %s: %w", key, err)
	}
	return nil
}

// Allow — фиксированное окно: INCR, на первом запросе EXPIRE.
func (c *Client) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	k := "rate:" + key
	n, err := c.cli.Incr(ctx, k).Result()
	if err != nil {
		return false, err
	}
	if n == 1 {
		c.cli.Expire(ctx, k, window)
	}
	return n <= int64(limit), nil
}

// FlushDB очищает текущую БД Redis (для сброса аренд и лимитов при тестах/перезапуске).
func (c *Client) FlushDB(ctx context.Context) error {
	return c.cli.FlushDB(ctx).Err()
}
