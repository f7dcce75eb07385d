package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/fitsync/internal/model"
)

// DocumentWrite describes one document write.
type DocumentWrite struct {
	Owner      uuid.UUID
	Path       string // canonical document path
	Collection string // parent collection path
	ID         string // last path segment
	Data       model.Document
	Merge      bool // shallow-merge into the stored fields instead of replacing them
}

// DocumentQuery selects documents of one owner's collection.
type DocumentQuery struct {
	Owner      uuid.UUID
	Collection string
	Filters    []model.Filter
	Order      model.OrderBy // zero value sorts by document id
}

// DocumentRepository stores path-addressed JSON documents.
type DocumentRepository interface {
	// Get returns the document at path or errs.ErrNotFound.
	Get(ctx context.Context, path string) (model.Snapshot, error)
	// Set writes a document and returns the stored result.
	Set(ctx context.Context, w DocumentWrite) (model.Snapshot, error)
	// Delete removes the document at path and reports whether it existed.
	Delete(ctx context.Context, path string) (bool, error)
	// Query lists the matching documents.
	Query(ctx context.Context, q DocumentQuery) ([]model.Snapshot, error)
}
