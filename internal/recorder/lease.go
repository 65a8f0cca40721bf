package recorder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulse/internal/storage"
)

// LeaseDevice grants one input per user across connections and API instances by
// holding a lease in the shared store while recording.
type LeaseDevice struct {
	Store  storage.LeaseStore
	UserID string
	// TTL bounds a lease left behind by a crashed instance.
	TTL time.Duration
}

func (d LeaseDevice) Acquire(ctx context.Context) (Input, error) {
	ttl := d.TTL
	if ttl <= 0 {
		ttl = DefaultMaxDuration + 30*time.Second
	}
	key := "mic:" + d.UserID
	token := uuid.NewString()
	ok, err := d.Store.AcquireLease(ctx, key, token, ttl)
	if err != nil {
		return nil, fmt.Errorf("recorder.LeaseDevice: %w", err)
	}
	if !ok {
		return nil, ErrDeviceBusy
	}
	return &leaseInput{store: d.Store, key: key, token: token}, nil
}

type leaseInput struct {
	store storage.LeaseStore
	key   string
	token string
	once  sync.Once
}

func (in *leaseInput) Close() error {
	var err error
	in.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		err = in.store.ReleaseLease(ctx, in.key, in.token)
	})
	return err
}
