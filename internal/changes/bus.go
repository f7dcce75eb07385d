// Package changes fans document changes out to watchers of the owning subject.
package changes

import (
	"context"
	"errors"
	"sync"

	"github.com/and161185/fitsync/internal/model"
)

// ErrLagged is reported when a subscriber fell too far behind and was dropped.
var ErrLagged = errors.New("change subscriber lagged")

// Bus publishes changes per owner and delivers them to that owner's subscribers in publish order.
type Bus interface {
	Publish(ctx context.Context, c model.Change) error
	// Subscribe returns a channel of the owner's changes, closed when ctx ends or cancel is called.
	Subscribe(ctx context.Context, owner string) (<-chan model.Change, func(), error)
}

const subscriberBuffer = 256

// MemoryBus is an in-process Bus for a single server instance.
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[string]map[*memSub]struct{}
	buffer int
}

type memSub struct {
	ch     chan model.Change
	closed bool
}

var _ Bus = (*MemoryBus)(nil)

// NewMemoryBus constructs an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: map[string]map[*memSub]struct{}{}, buffer: subscriberBuffer}
}

// Publish delivers c to every subscriber of c.Owner without blocking.
// A subscriber whose buffer is full is closed.
func (b *MemoryBus) Publish(ctx context.Context, c model.Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs[c.Owner] {
		select {
		case s.ch <- c:
		default:
			b.dropLocked(c.Owner, s)
		}
	}
	return nil
}

// Subscribe implements Bus.
func (b *MemoryBus) Subscribe(ctx context.Context, owner string) (<-chan model.Change, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	s := &memSub{ch: make(chan model.Change, b.buffer)}
	b.mu.Lock()
	set := b.subs[owner]
	if set == nil {
		set = map[*memSub]struct{}{}
		b.subs[owner] = set
	}
	set[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			b.dropLocked(owner, s)
			b.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return s.ch, cancel, nil
}

func (b *MemoryBus) dropLocked(owner string, s *memSub) {
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
	delete(b.subs[owner], s)
	if len(b.subs[owner]) == 0 {
		delete(b.subs, owner)
	}
}
