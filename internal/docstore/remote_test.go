package docstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"

	"github.com/and161185/fitsync/internal/errs"
	"github.com/and161185/fitsync/internal/model"
	"github.com/and161185/fitsync/internal/rpc"
)

// scriptedStream replays snaps, then returns end (or blocks until ctx ends when end is nil).
type scriptedStream struct {
	grpc.ClientStream
	ctx   context.Context
	snaps []model.Snapshot
	end   error
}

func (s *scriptedStream) Recv() (*rpc.DocumentResponse, error) {
	if len(s.snaps) > 0 {
		next := s.snaps[0]
		s.snaps = s.snaps[1:]
		return &rpc.DocumentResponse{Snapshot: next}, nil
	}
	if s.end != nil {
		return nil, s.end
	}
	<-s.ctx.Done()
	return nil, errs.ErrNetwork
}

type fakeDocAPI struct {
	mu      sync.Mutex
	mem     *MemoryBackend
	scripts []*scriptedStream
	opened  int
	lastSet *rpc.SetDocumentRequest
}

var _ DocumentAPI = (*fakeDocAPI)(nil)

func (f *fakeDocAPI) GetDocument(ctx context.Context, in *rpc.GetDocumentRequest, _ ...grpc.CallOption) (*rpc.DocumentResponse, error) {
	snap, err := f.mem.Get(ctx, in.Path)
	if err != nil {
		return nil, err
	}
	return &rpc.DocumentResponse{Snapshot: snap}, nil
}

func (f *fakeDocAPI) SetDocument(ctx context.Context, in *rpc.SetDocumentRequest, _ ...grpc.CallOption) (*rpc.DocumentResponse, error) {
	f.mu.Lock()
	f.lastSet = in
	f.mu.Unlock()
	return &rpc.DocumentResponse{}, f.mem.Set(ctx, in.Path, in.Data, in.Merge)
}

func (f *fakeDocAPI) DeleteDocument(ctx context.Context, in *rpc.DeleteDocumentRequest, _ ...grpc.CallOption) error {
	return f.mem.Delete(ctx, in.Path)
}

func (f *fakeDocAPI) QueryDocuments(ctx context.Context, in *rpc.QueryDocumentsRequest, _ ...grpc.CallOption) (*rpc.QueryDocumentsResponse, error) {
	docs, err := f.mem.Query(ctx, in.Collection, in.Filters, in.Order)
	if err != nil {
		return nil, err
	}
	return &rpc.QueryDocumentsResponse{Documents: docs}, nil
}

func (f *fakeDocAPI) WatchDocument(ctx context.Context, _ *rpc.WatchDocumentRequest, _ ...grpc.CallOption) (rpc.WatchDocumentClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.opened >= len(f.scripts) {
		return nil, errs.ErrPermissionDenied
	}
	s := f.scripts[f.opened]
	s.ctx = ctx
	f.opened++
	return s, nil
}

func (f *fakeDocAPI) openedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

func TestRemoteBackend_CRUDPassThrough(t *testing.T) {
	t.Parallel()
	api := &fakeDocAPI{mem: NewMemoryBackend()}
	b := NewRemoteBackend(api, zaptest.NewLogger(t))
	ctx := context.Background()

	_, err := b.Get(ctx, "users/u1")
	require.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, b.Set(ctx, "users/u1", model.Document{"age": 30}, false))
	require.NoError(t, b.Set(ctx, "users/u1", model.Document{"sex": "male"}, true))
	require.True(t, api.lastSet.Merge)

	snap, err := b.Get(ctx, "users/u1")
	require.NoError(t, err)
	require.Equal(t, model.Document{"age": 30, "sex": "male"}, snap.Data)

	require.NoError(t, b.Set(ctx, "users/u1/settings/measurements", model.Document{"height": "cm"}, false))
	docs, err := b.Query(ctx, "users/u1/settings", nil, model.OrderBy{})
	require.NoError(t, err)
	require.Len(t, docs, 1)

	require.NoError(t, b.Delete(ctx, "users/u1"))
	_, err = b.Get(ctx, "users/u1")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRemoteBackend_WatchReconnects(t *testing.T) {
	t.Parallel()
	api := &fakeDocAPI{mem: NewMemoryBackend(), scripts: []*scriptedStream{
		{snaps: []model.Snapshot{{ID: "1"}, {ID: "2"}}, end: errs.ErrNetwork},
		{snaps: []model.Snapshot{{ID: "3"}}},
	}}
	b := NewRemoteBackend(api, zaptest.NewLogger(t))
	b.minBackoff = time.Millisecond
	b.maxBackoff = 5 * time.Millisecond

	got := make(chan string, 8)
	stop, err := b.Watch(context.Background(), "users/u1", func(s model.Snapshot) { got <- s.ID })
	require.NoError(t, err)
	defer stop()

	for _, want := range []string{"1", "2", "3"} {
		select {
		case id := <-got:
			require.Equal(t, want, id)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for snapshot %s", want)
		}
	}
	require.Equal(t, 2, api.openedCount())
}

func TestRemoteBackend_WatchStopsOnPermanentError(t *testing.T) {
	t.Parallel()
	api := &fakeDocAPI{mem: NewMemoryBackend(), scripts: []*scriptedStream{
		{snaps: []model.Snapshot{{ID: "1"}}, end: errs.ErrPermissionDenied},
	}}
	b := NewRemoteBackend(api, zaptest.NewLogger(t))

	got := make(chan string, 4)
	stop, err := b.Watch(context.Background(), "users/u1", func(s model.Snapshot) { got <- s.ID })
	require.NoError(t, err)
	defer stop()

	require.Equal(t, "1", <-got)
	select {
	case id := <-got:
		t.Fatalf("unexpected snapshot %s", id)
	case <-time.After(50 * time.Millisecond):
	}
	require.Equal(t, 1, api.openedCount())

	_, err = b.Watch(context.Background(), "users/u1", func(model.Snapshot) {})
	require.ErrorIs(t, err, errs.ErrPermissionDenied)
}
