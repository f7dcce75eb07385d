package state

import "sync"

// Slot is one observable value of the Store. Only the Store writes it; any number of readers may
// Get it or Subscribe to it.
type Slot[T any] struct {
	store *Store
	value T
	equal func(a, b T) bool

	lmu       sync.Mutex
	listeners []listener[T]
	nextID    int
}

type listener[T any] struct {
	id int
	fn func(T)
}

func newSlot[T any](s *Store, initial T, equal func(a, b T) bool) *Slot[T] {
	return &Slot[T]{store: s, value: initial, equal: equal}
}

// Get returns the committed value.
func (s *Slot[T]) Get() T {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	return s.value
}

// Subscribe registers fn to be called synchronously after every commit that changes the slot.
// Listeners run in subscription order and must not commit to the Store themselves.
func (s *Slot[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	s.lmu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners = append(s.listeners, listener[T]{id: id, fn: fn})
	s.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.lmu.Lock()
			defer s.lmu.Unlock()
			for i, l := range s.listeners {
				if l.id == id {
					s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// set must be called with the store lock held. It reports whether the value changed.
func (s *Slot[T]) set(v T) bool {
	if s.equal != nil && s.equal(s.value, v) {
		return false
	}
	s.value = v
	return true
}

// capture must be called with the store lock held; the returned func notifies listeners with
// the value as of the capture.
func (s *Slot[T]) capture() func() {
	v := s.value
	return func() {
		s.lmu.Lock()
		ls := make([]listener[T], len(s.listeners))
		copy(ls, s.listeners)
		s.lmu.Unlock()
		for _, l := range ls {
			l.fn(v)
		}
	}
}

func eq[T comparable](a, b T) bool { return a == b }
