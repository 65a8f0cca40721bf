package storage

import (
	"context"
	"errors"
	"time"
)

// ErrSubscriptionClosed — подписка закрыта вызовом Close, а не из-за сбоя.
var ErrSubscriptionClosed = errors.New("storage: subscription closed")

// Message — одно сообщение pub/sub: канал и сырой payload.
type Message struct {
	Channel string
	Payload []byte
}

// Subscription — активная подписка. Канал Messages закрывается при Close или сбое;
// причину возвращает Err.
type Subscription interface {
	Messages() <-chan Message
	Err() error
	Close() error
}

// Bus — транспорт real-time событий (typing, presence) между инстансами API.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// PSubscribe подписывается на каналы по glob-шаблону (typing:*).
	PSubscribe(ctx context.Context, pattern string) (Subscription, error)
}

// LeaseStore — эксклюзивные аренды с TTL (одна запись голоса на пользователя).
type LeaseStore interface {
	// AcquireLease возвращает false, если ключ уже занят другим token.
	AcquireLease(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// ReleaseLease снимает аренду, только если она принадлежит token.
	ReleaseLease(ctx context.Context, key, token string) error
}

// RateStore — счётчик запросов в фиксированном окне (rate limit между инстансами).
type RateStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Store объединяет всё, что нужно API. Реализации: redis.Client, memory.Client (для -dev без Redis).
type Store interface {
	Bus
	LeaseStore
	RateStore
	Close() error
}
