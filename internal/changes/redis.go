package changes

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	red "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/and161185/fitsync/internal/model"
)

const defaultChannelPrefix = "fitsync:changes"

// RedisBus fans changes out through Redis pub/sub so that every server instance sees them.
type RedisBus struct {
	client *red.Client
	prefix string
	log    *zap.Logger
}

var _ Bus = (*RedisBus)(nil)

// NewRedisBus wires a Redis client into a change bus.
func NewRedisBus(client *red.Client, prefix string, log *zap.Logger) *RedisBus {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultChannelPrefix
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisBus{client: client, prefix: prefix, log: log}
}

func (b *RedisBus) channel(owner string) string { return b.prefix + ":" + owner }

// Publish implements Bus.
func (b *RedisBus) Publish(ctx context.Context, c model.Change) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel(c.Owner), payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe implements Bus. The subscription is confirmed before it returns.
func (b *RedisBus) Subscribe(ctx context.Context, owner string) (<-chan model.Change, func(), error) {
	ps := b.client.Subscribe(ctx, b.channel(owner))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("redis subscribe: %w", err)
	}

	out := make(chan model.Change, subscriberBuffer)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() { once.Do(func() { close(done) }) }

	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				var c model.Change
				if err := json.Unmarshal([]byte(m.Payload), &c); err != nil {
					b.log.Warn("drop malformed change", zap.String("channel", m.Channel), zap.Error(err))
					continue
				}
				select {
				case out <- c:
				default:
					b.log.Warn("change subscriber lagged", zap.String("owner", owner))
					return
				}
			}
		}
	}()
	return out, cancel, nil
}
