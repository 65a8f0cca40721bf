package memory

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/pulse/internal/logger"
	"github.com/pulse/internal/storage"
)

const subscriptionBuffer = 256

type lease struct {
	token string
	exp   time.Time
}

type window struct {
	count int
	exp   time.Time
}

// Client — in-process реализация storage.Store для -dev и тестов (один инстанс API).
type Client struct {
	now func() time.Time

	mu     sync.Mutex
	subs   map[*subscription]struct{}
	leases map[string]lease
	rates  map[string]window
	closed bool
}

var _ storage.Store = (*Client)(nil)

func New() *Client {
	return &Client{
		now:    time.Now,
		subs:   make(map[*subscription]struct{}),
		leases: make(map[string]lease),
		rates:  make(map[string]window),
	}
}

// Close закрывает все подписки.
func (c *Client) Close() error {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[*subscription]struct{})
	c.closed = true
	c.mu.Unlock()
	for s := range subs {
		s.finish(storage.ErrSubscriptionClosed)
	}
	return nil
}

// Publish доставляет сообщение всем подходящим подпискам. Переполненная подписка теряет сообщение.
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := storage.Message{Channel: channel, Payload: append([]byte(nil), payload...)}
	c.mu.Lock()
	defer c.mu.Unlock()
	for s := range c.subs {
		if ok, _ := path.Match(s.pattern, channel); !ok {
			continue
		}
		select {
		case s.out <- msg:
		default:
			logger.Warnf("memory bus: subscriber %s is full, dropping message on %s", s.pattern, channel)
		}
	}
	return nil
}

func (c *Client) PSubscribe(ctx context.Context, pattern string) (storage.Subscription, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &subscription{client: c, pattern: pattern, out: make(chan storage.Message, subscriptionBuffer)}
	if c.closed {
		s.closed = true
		s.err = storage.ErrSubscriptionClosed
		close(s.out)
		return s, nil
	}
	c.subs[s] = struct{}{}
	return s, nil
}

type subscription struct {
	client  *Client
	pattern string
	out     chan storage.Message

	mu     sync.Mutex
	err    error
	closed bool
}

func (s *subscription) Messages() <-chan storage.Message { return s.out }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) Close() error {
	s.client.mu.Lock()
	delete(s.client.subs, s)
	s.client.mu.Unlock()
	s.finish(storage.ErrSubscriptionClosed)
	return nil
}

// Fail обрывает подписку с ошибкой (эмуляция потери соединения в тестах).
func (s *subscription) Fail(err error) {
	s.client.mu.Lock()
	delete(s.client.subs, s)
	s.client.mu.Unlock()
	s.finish(err)
}

func (s *subscription) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.out)
}

// FailSubscriptions обрывает все активные подписки с err.
func (c *Client) FailSubscriptions(err error) {
	c.mu.Lock()
	subs := make([]*subscription, 0, len(c.subs))
	for s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()
	for _, s := range subs {
		s.Fail(err)
	}
}

func (c *Client) AcquireLease(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if l, ok := c.leases[key]; ok && now.Before(l.exp) {
		return false, nil
	}
	c.leases[key] = lease{token: token, exp: now.Add(ttl)}
	return true, nil
}

func (c *Client) ReleaseLease(ctx context.Context, key, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.leases[key]; ok && l.token == token {
		delete(c.leases, key)
	}
	return nil
}

func (c *Client) Allow(ctx context.Context, key string, limit int, d time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	w, ok := c.rates[key]
	if !ok || !now.Before(w.exp) {
		w = window{exp: now.Add(d)}
	}
	w.count++
	c.rates[key] = w
	return w.count <= limit, nil
}
