package docstore

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/and161185/fitsync/internal/errs"
	"github.com/and161185/fitsync/internal/model"
	"github.com/and161185/fitsync/internal/rpc"
)

// DocumentAPI is the part of rpc.Client the remote backend uses.
type DocumentAPI interface {
	GetDocument(ctx context.Context, in *rpc.GetDocumentRequest, opts ...grpc.CallOption) (*rpc.DocumentResponse, error)
	SetDocument(ctx context.Context, in *rpc.SetDocumentRequest, opts ...grpc.CallOption) (*rpc.DocumentResponse, error)
	DeleteDocument(ctx context.Context, in *rpc.DeleteDocumentRequest, opts ...grpc.CallOption) error
	QueryDocuments(ctx context.Context, in *rpc.QueryDocumentsRequest, opts ...grpc.CallOption) (*rpc.QueryDocumentsResponse, error)
	WatchDocument(ctx context.Context, in *rpc.WatchDocumentRequest, opts ...grpc.CallOption) (rpc.WatchDocumentClient, error)
}

var _ DocumentAPI = (*rpc.Client)(nil)

// RemoteBackend is a Backend served by the FitSync document RPCs.
type RemoteBackend struct {
	api        DocumentAPI
	log        *zap.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
}

var _ Backend = (*RemoteBackend)(nil)

// NewRemoteBackend constructs a RemoteBackend. log may be nil.
func NewRemoteBackend(api DocumentAPI, log *zap.Logger) *RemoteBackend {
	if log == nil {
		log = zap.NewNop()
	}
	return &RemoteBackend{api: api, log: log, minBackoff: 500 * time.Millisecond, maxBackoff: 15 * time.Second}
}

// Get implements Backend.
func (b *RemoteBackend) Get(ctx context.Context, path string) (model.Snapshot, error) {
	res, err := b.api.GetDocument(ctx, &rpc.GetDocumentRequest{Path: path})
	if err != nil {
		return model.Snapshot{}, err
	}
	return res.Snapshot, nil
}

// Set implements Backend.
func (b *RemoteBackend) Set(ctx context.Context, path string, data model.Document, merge bool) error {
	_, err := b.api.SetDocument(ctx, &rpc.SetDocumentRequest{Path: path, Data: data, Merge: merge})
	return err
}

// Delete implements Backend.
func (b *RemoteBackend) Delete(ctx context.Context, path string) error {
	return b.api.DeleteDocument(ctx, &rpc.DeleteDocumentRequest{Path: path})
}

// Query implements Backend.
func (b *RemoteBackend) Query(ctx context.Context, collection string, filters []model.Filter, order model.OrderBy) ([]model.Snapshot, error) {
	res, err := b.api.QueryDocuments(ctx, &rpc.QueryDocumentsRequest{Collection: collection, Filters: filters, Order: order})
	if err != nil {
		return nil, err
	}
	return res.Documents, nil
}

// Watch implements Backend. Snapshots are delivered in stream order on one goroutine. A broken stream
// is reopened with exponential backoff; the server starts every stream with the current snapshot.
// A snapshot already in flight may still be delivered after stop returns.
func (b *RemoteBackend) Watch(ctx context.Context, path string, fn func(model.Snapshot)) (func(), error) {
	wctx, cancel := context.WithCancel(ctx)
	stream, err := b.api.WatchDocument(wctx, &rpc.WatchDocumentRequest{Path: path})
	if err != nil {
		cancel()
		return nil, err
	}
	go b.follow(wctx, path, stream, fn)
	return cancel, nil
}

func retryable(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, errs.ErrNetwork)
}

func (b *RemoteBackend) follow(ctx context.Context, path string, stream rpc.WatchDocumentClient, fn func(model.Snapshot)) {
	for {
		err := drain(stream, fn)
		if ctx.Err() != nil {
			return
		}
		if !retryable(err) {
			b.log.Warn("watch ended", zap.String("path", path), zap.Error(err))
			return
		}
		b.log.Info("watch interrupted, reconnecting", zap.String("path", path), zap.Error(err))

		backoff := retry.WithCappedDuration(b.maxBackoff, retry.NewExponential(b.minBackoff))
		err = retry.Do(ctx, backoff, func(ctx context.Context) error {
			s, err := b.api.WatchDocument(ctx, &rpc.WatchDocumentRequest{Path: path})
			if err != nil {
				if retryable(err) {
					return retry.RetryableError(err)
				}
				return err
			}
			stream = s
			return nil
		})
		if err != nil {
			if ctx.Err() == nil {
				b.log.Warn("watch reconnect failed", zap.String("path", path), zap.Error(err))
			}
			return
		}
	}
}

func drain(stream rpc.WatchDocumentClient, fn func(model.Snapshot)) error {
	for {
		msg, err := stream.Recv()
		if err != nil {
			return err
		}
		fn(msg.Snapshot)
	}
}
