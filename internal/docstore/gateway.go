// Package docstore is the client's gateway to the document store.
//
// The Gateway scopes every path under users/{subject} for the subject of the live session
// and fails with errs.ErrUnauthenticated when there is none, before touching the backend.
package docstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/fitsync/internal/docpath"
	"github.com/and161185/fitsync/internal/errs"
	"github.com/and161185/fitsync/internal/model"
)

// Backend is the document store boundary: absolute paths, no session awareness.
type Backend interface {
	// Get returns the document at path or errs.ErrNotFound.
	Get(ctx context.Context, path string) (model.Snapshot, error)
	// Set replaces (merge=false) or shallow-merges (merge=true) data into the document at path.
	Set(ctx context.Context, path string, data model.Document, merge bool) error
	// Delete removes the document at path. Deleting an absent document is not an error.
	Delete(ctx context.Context, path string) error
	// Query lists documents of a collection. A zero order sorts by document id.
	Query(ctx context.Context, collection string, filters []model.Filter, order model.OrderBy) ([]model.Snapshot, error)
	// Watch calls fn with the current snapshot of path and again after every change, in order.
	Watch(ctx context.Context, path string, fn func(model.Snapshot)) (stop func(), err error)
}

// SubjectSource reports the subject of the live session, "" when anonymous.
type SubjectSource interface {
	Subject() string
}

// WriteOptions control Write.
type WriteOptions struct {
	Merge bool
}

// Gateway is a stateless request executor scoped by the live session's subject.
type Gateway struct {
	backend  Backend
	subjects SubjectSource
	pinned   string
	log      *zap.Logger
}

// New constructs a Gateway reading the current subject from src.
func New(backend Backend, src SubjectSource, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{backend: backend, subjects: src, log: log}
}

// As returns a gateway pinned to subject regardless of the live session.
func (g *Gateway) As(subject string) *Gateway {
	cp := *g
	cp.pinned = subject
	return &cp
}

func (g *Gateway) subject() (string, error) {
	s := g.pinned
	if s == "" && g.subjects != nil {
		s = g.subjects.Subject()
	}
	if s == "" {
		return "", errs.ErrUnauthenticated
	}
	return s, nil
}

func (g *Gateway) resolve(rel string, wantDoc bool) (string, error) {
	subject, err := g.subject()
	if err != nil {
		return "", err
	}
	p, err := docpath.Parse(docpath.Join(subject, rel))
	if err != nil {
		return "", err
	}
	if p.IsDocument() != wantDoc {
		if wantDoc {
			return "", errs.Validation("path", fmt.Sprintf("%q is a collection", rel))
		}
		return "", errs.Validation("path", fmt.Sprintf("%q is a document", rel))
	}
	return p.String(), nil
}

// Read returns the document at rel or errs.ErrNotFound.
func (g *Gateway) Read(ctx context.Context, rel string) (model.Snapshot, error) {
	path, err := g.resolve(rel, true)
	if err != nil {
		return model.Snapshot{}, err
	}
	snap, err := g.backend.Get(ctx, path)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("read %s: %w", path, err)
	}
	return snap, nil
}

// Write stores data at rel.
func (g *Gateway) Write(ctx context.Context, rel string, data model.Document, opts WriteOptions) error {
	path, err := g.resolve(rel, true)
	if err != nil {
		return err
	}
	if err := g.backend.Set(ctx, path, data, opts.Merge); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	g.log.Debug("document written", zap.String("path", path), zap.Bool("merge", opts.Merge), zap.Int("fields", len(data)))
	return nil
}

// Delete removes the document at rel.
func (g *Gateway) Delete(ctx context.Context, rel string) error {
	path, err := g.resolve(rel, true)
	if err != nil {
		return err
	}
	if err := g.backend.Delete(ctx, path); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

// ReadCollection returns every document of the collection at rel, ordered by id.
func (g *Gateway) ReadCollection(ctx context.Context, rel string) ([]model.Snapshot, error) {
	path, err := g.resolve(rel, false)
	if err != nil {
		return nil, err
	}
	out, err := g.backend.Query(ctx, path, nil, model.OrderBy{})
	if err != nil {
		return nil, fmt.Errorf("read collection %s: %w", path, err)
	}
	return out, nil
}

// Query lists documents of the collection at rel matching filters; a zero order means model.DefaultOrder.
func (g *Gateway) Query(ctx context.Context, rel string, filters []model.Filter, order model.OrderBy) ([]model.Snapshot, error) {
	path, err := g.resolve(rel, false)
	if err != nil {
		return nil, err
	}
	for i, f := range filters {
		if !ValidOp(f.Op) {
			return nil, errs.Validation(fmt.Sprintf("filters[%d].op", i), "unsupported operator "+f.Op)
		}
		if f.Field == "" {
			return nil, errs.Validation(fmt.Sprintf("filters[%d].field", i), "empty")
		}
	}
	if order.Field == "" {
		order = model.DefaultOrder
	}
	out, err := g.backend.Query(ctx, path, filters, order)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", path, err)
	}
	return out, nil
}

// Subscribe delivers a full snapshot of the document at rel on every change until unsubscribe is called.
func (g *Gateway) Subscribe(ctx context.Context, rel string, onChange func(model.Snapshot)) (unsubscribe func(), err error) {
	path, err := g.resolve(rel, true)
	if err != nil {
		return nil, err
	}
	stop, err := g.backend.Watch(ctx, path, onChange)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", path, err)
	}
	return stop, nil
}

// ValidOp reports whether op is a supported filter operator.
func ValidOp(op string) bool {
	switch op {
	case model.OpEq, model.OpNe, model.OpLt, model.OpLte, model.OpGt, model.OpGte:
		return true
	}
	return false
}
