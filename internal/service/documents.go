package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/fitsync/internal/changes"
	"github.com/and161185/fitsync/internal/docpath"
	"github.com/and161185/fitsync/internal/errs"
	"github.com/and161185/fitsync/internal/model"
	"github.com/and161185/fitsync/internal/repository"
)

// DocumentService serves path-addressed documents owned by the calling subject.
type DocumentService interface {
	// Get returns the document at path or errs.ErrNotFound.
	Get(ctx context.Context, subject uuid.UUID, path string) (model.Snapshot, error)
	// Set replaces or shallow-merges data into the document and returns the stored result.
	Set(ctx context.Context, subject uuid.UUID, path string, data model.Document, merge bool) (model.Snapshot, error)
	// Delete removes the document. Deleting an absent document succeeds.
	Delete(ctx context.Context, subject uuid.UUID, path string) error
	// Query lists documents of a collection.
	Query(ctx context.Context, subject uuid.UUID, collection string, filters []model.Filter, order model.OrderBy) ([]model.Snapshot, error)
	// Watch calls fn with the current snapshot and then once per change, until ctx ends or fn fails.
	Watch(ctx context.Context, subject uuid.UUID, path string, fn func(model.Snapshot) error) error
}

// DocumentServiceImpl implements DocumentService over a repository and a change bus.
type DocumentServiceImpl struct {
	repo    repository.DocumentRepository
	bus     changes.Bus
	schemas *Schemas
	obs     Observer
	log     *zap.Logger
}

var _ DocumentService = (*DocumentServiceImpl)(nil)

// NewDocumentService constructs DocumentService. obs and log may be nil.
func NewDocumentService(repo repository.DocumentRepository, bus changes.Bus, schemas *Schemas, obs Observer, log *zap.Logger) *DocumentServiceImpl {
	if obs == nil {
		obs = nopObserver{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &DocumentServiceImpl{repo: repo, bus: bus, schemas: schemas, obs: obs, log: log}
}

// authorize parses raw and checks that subject owns it.
func authorize(subject uuid.UUID, raw string, wantDoc bool) (docpath.Path, error) {
	if subject == uuid.Nil {
		return docpath.Path{}, errs.ErrUnauthenticated
	}
	p, err := docpath.Parse(raw)
	if err != nil {
		return docpath.Path{}, err
	}
	if p.Owner() != subject.String() {
		return docpath.Path{}, errs.ErrPermissionDenied
	}
	if p.IsDocument() != wantDoc {
		if wantDoc {
			return docpath.Path{}, errs.Validation("path", "not a document")
		}
		return docpath.Path{}, errs.Validation("collection", "not a collection")
	}
	return p, nil
}

// Get implements DocumentService.
func (s *DocumentServiceImpl) Get(ctx context.Context, subject uuid.UUID, path string) (model.Snapshot, error) {
	p, err := authorize(subject, path, true)
	if err != nil {
		return model.Snapshot{}, err
	}
	return s.repo.Get(ctx, p.String())
}

// Set implements DocumentService.
func (s *DocumentServiceImpl) Set(ctx context.Context, subject uuid.UUID, path string, data model.Document, merge bool) (model.Snapshot, error) {
	p, err := authorize(subject, path, true)
	if err != nil {
		return model.Snapshot{}, err
	}
	data, err = normalize(data)
	if err != nil {
		return model.Snapshot{}, err
	}
	kind := KindOf(p)
	if err := s.schemas.Validate(kind, data); err != nil {
		return model.Snapshot{}, err
	}

	snap, err := s.repo.Set(ctx, repository.DocumentWrite{
		Owner:      subject,
		Path:       p.String(),
		Collection: p.Parent(),
		ID:         p.ID(),
		Data:       data,
		Merge:      merge,
	})
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("store %s: %w", p, err)
	}
	s.obs.DocumentWrite(kind, merge)
	s.publish(ctx, subject, snap)
	return snap, nil
}

// Delete implements DocumentService.
func (s *DocumentServiceImpl) Delete(ctx context.Context, subject uuid.UUID, path string) error {
	p, err := authorize(subject, path, true)
	if err != nil {
		return err
	}
	existed, err := s.repo.Delete(ctx, p.String())
	if err != nil {
		return err
	}
	if existed {
		s.obs.DocumentWrite(KindOf(p), false)
		s.publish(ctx, subject, model.Snapshot{Path: p.String(), ID: p.ID()})
	}
	return nil
}

// publish is best effort: the write already happened.
func (s *DocumentServiceImpl) publish(ctx context.Context, subject uuid.UUID, snap model.Snapshot) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(context.WithoutCancel(ctx), model.Change{Owner: subject.String(), Snapshot: snap}); err != nil {
		s.log.Warn("publish change failed", zap.String("path", snap.Path), zap.Error(err))
	}
}

// Query implements DocumentService.
func (s *DocumentServiceImpl) Query(ctx context.Context, subject uuid.UUID, collection string, filters []model.Filter, order model.OrderBy) ([]model.Snapshot, error) {
	p, err := authorize(subject, collection, false)
	if err != nil {
		return nil, err
	}
	for i, f := range filters {
		if f.Field == "" {
			return nil, errs.Validation(fmt.Sprintf("filters[%d].field", i), "empty")
		}
	}
	return s.repo.Query(ctx, repository.DocumentQuery{
		Owner:      subject,
		Collection: p.String(),
		Filters:    filters,
		Order:      order,
	})
}

// Watch implements DocumentService. It subscribes before reading so no change between the read
// and the first published change is missed; a change may be delivered twice.
func (s *DocumentServiceImpl) Watch(ctx context.Context, subject uuid.UUID, path string, fn func(model.Snapshot) error) error {
	p, err := authorize(subject, path, true)
	if err != nil {
		return err
	}
	if s.bus == nil {
		return errors.New("watch: no change bus")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, stop, err := s.bus.Subscribe(ctx, subject.String())
	if err != nil {
		return fmt.Errorf("watch %s: %w", p, err)
	}
	defer stop()

	cur, err := s.repo.Get(ctx, p.String())
	switch {
	case errors.Is(err, errs.ErrNotFound):
		cur = model.Snapshot{Path: p.String(), ID: p.ID()}
	case err != nil:
		return err
	}
	if err := fn(cur); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-ch:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return changes.ErrLagged
			}
			if c.Snapshot.Path != p.String() {
				continue
			}
			if err := fn(c.Snapshot); err != nil {
				return err
			}
		}
	}
}
