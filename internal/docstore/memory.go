package docstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/and161185/fitsync/internal/docpath"
	"github.com/and161185/fitsync/internal/errs"
	"github.com/and161185/fitsync/internal/model"
)

// MemoryBackend is an in-process Backend. Watchers of one path observe changes in write order.
type MemoryBackend struct {
	mu       sync.Mutex
	docs     map[string]model.Snapshot
	watchers map[string]map[int]*watcher
	nextID   int
	now      func() time.Time
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend returns an empty store.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		docs:     map[string]model.Snapshot{},
		watchers: map[string]map[int]*watcher{},
		now:      time.Now,
	}
}

func parseDoc(path string) (docpath.Path, error) {
	p, err := docpath.Parse(path)
	if err != nil {
		return docpath.Path{}, err
	}
	if !p.IsDocument() {
		return docpath.Path{}, errs.Validation("path", "not a document")
	}
	return p, nil
}

// Get implements Backend.
func (m *MemoryBackend) Get(ctx context.Context, path string) (model.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return model.Snapshot{}, err
	}
	p, err := parseDoc(path)
	if err != nil {
		return model.Snapshot{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.docs[p.String()]
	if !ok {
		return model.Snapshot{}, errs.ErrNotFound
	}
	return copySnap(snap), nil
}

// Set implements Backend.
func (m *MemoryBackend) Set(ctx context.Context, path string, data model.Document, merge bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := parseDoc(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cur, ok := m.docs[p.String()]
	next := model.Snapshot{Path: p.String(), ID: p.ID(), Exists: true, CreatedAt: now, UpdatedAt: now}
	switch {
	case ok && merge:
		next.Data = cur.Data.Merge(data)
		next.CreatedAt = cur.CreatedAt
	case ok:
		next.Data = data.Clone()
		next.CreatedAt = cur.CreatedAt
	default:
		next.Data = data.Clone()
	}
	if next.Data == nil {
		next.Data = model.Document{}
	}
	m.docs[p.String()] = next
	m.publishLocked(next)
	return nil
}

// Delete implements Backend.
func (m *MemoryBackend) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := parseDoc(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[p.String()]; !ok {
		return nil
	}
	delete(m.docs, p.String())
	m.publishLocked(model.Snapshot{Path: p.String(), ID: p.ID(), UpdatedAt: m.now()})
	return nil
}

// Query implements Backend.
func (m *MemoryBackend) Query(ctx context.Context, collection string, filters []model.Filter, order model.OrderBy) ([]model.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := docpath.Parse(collection)
	if err != nil {
		return nil, err
	}
	if c.IsDocument() {
		return nil, errs.Validation("collection", "not a collection")
	}

	m.mu.Lock()
	out := make([]model.Snapshot, 0)
	for path, snap := range m.docs {
		p, _ := docpath.Parse(path)
		if p.Parent() != c.String() || !matchAll(snap.Data, filters) {
			continue
		}
		out = append(out, copySnap(snap))
	}
	m.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if order.Field == "" {
			return out[i].ID < out[j].ID
		}
		cmp, ok := compareValues(out[i].Data[order.Field], out[j].Data[order.Field])
		if !ok || cmp == 0 {
			return out[i].ID < out[j].ID
		}
		if order.Desc {
			return cmp > 0
		}
		return cmp < 0
	})
	return out, nil
}

// Watch implements Backend.
func (m *MemoryBackend) Watch(ctx context.Context, path string, fn func(model.Snapshot)) (func(), error) {
	p, err := parseDoc(path)
	if err != nil {
		return nil, err
	}
	w := newWatcher(fn)

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	if m.watchers[p.String()] == nil {
		m.watchers[p.String()] = map[int]*watcher{}
	}
	m.watchers[p.String()][id] = w
	initial, ok := m.docs[p.String()]
	if !ok {
		initial = model.Snapshot{Path: p.String(), ID: p.ID()}
	}
	w.push(copySnap(initial))
	m.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.watchers[p.String()], id)
			m.mu.Unlock()
			w.close()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-w.done:
		}
	}()
	return stop, nil
}

func (m *MemoryBackend) publishLocked(snap model.Snapshot) {
	for _, w := range m.watchers[snap.Path] {
		w.push(copySnap(snap))
	}
}

func copySnap(s model.Snapshot) model.Snapshot {
	s.Data = s.Data.Clone()
	return s
}

// watcher delivers snapshots to fn on its own goroutine through an unbounded FIFO.
type watcher struct {
	mu     sync.Mutex
	queue  []model.Snapshot
	signal chan struct{}
	done   chan struct{}
	closed bool
}

func newWatcher(fn func(model.Snapshot)) *watcher {
	w := &watcher{signal: make(chan struct{}, 1), done: make(chan struct{})}
	go w.loop(fn)
	return w
}

func (w *watcher) push(s model.Snapshot) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.queue = append(w.queue, s)
	w.mu.Unlock()
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *watcher) close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.done)
	}
	w.mu.Unlock()
}

func (w *watcher) loop(fn func(model.Snapshot)) {
	for {
		select {
		case <-w.done:
			return
		case <-w.signal:
		}
		for {
			w.mu.Lock()
			if w.closed || len(w.queue) == 0 {
				w.mu.Unlock()
				break
			}
			next := w.queue[0]
			w.queue = w.queue[1:]
			w.mu.Unlock()
			fn(next)
		}
	}
}
