package typing

import (
	"context"
	"errors"
	"fmt"

	"github.com/pulse/internal/logger"
	"github.com/pulse/internal/storage"
)

// BusPublisher publishes events to the chat's bus channel.
type BusPublisher struct {
	Bus storage.Bus
}

func (p BusPublisher) PublishTyping(ctx context.Context, ev Event) error {
	data, err := Encode(ev)
	if err != nil {
		return err
	}
	return p.Bus.Publish(ctx, Channel(ev.ChatID), data)
}

// Listen pumps one chat's typing channel into tr until ctx is done. A subscription
// failure is reported to tr.Fail and returned.
func Listen(ctx context.Context, bus storage.Bus, chatID string, tr *Tracker) error {
	sub, err := bus.PSubscribe(ctx, Channel(chatID))
	if err != nil {
		tr.Fail(err)
		return fmt.Errorf("typing.Listen: %w", err)
	}
	defer sub.Close()
	return Pump(ctx, sub, func(ev Event) {
		if ev.ChatID == chatID {
			tr.Handle(ev)
		}
	}, tr.Fail)
}

// Pump decodes messages from sub and hands them to handle. It returns nil when ctx
// ends; any other end of the subscription goes to fail.
func Pump(ctx context.Context, sub storage.Subscription, handle func(Event), fail func(error)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.Messages():
			if !ok {
				err := sub.Err()
				if err == nil {
					err = storage.ErrSubscriptionClosed
				}
				if ctx.Err() != nil && errors.Is(err, storage.ErrSubscriptionClosed) {
					return nil
				}
				fail(err)
				return fmt.Errorf("typing.Pump: %w", err)
			}
			ev, err := Decode(msg.Payload)
			if err != nil {
				logger.Debugf("typing: drop malformed event on %s: %v", msg.Channel, err)
				continue
			}
			if id, ok := ChatFromChannel(msg.Channel); ok && id != ev.ChatID {
				logger.Debugf("typing: drop event for chat %s on %s", ev.ChatID, msg.Channel)
				continue
			}
			handle(ev)
		}
	}
}
