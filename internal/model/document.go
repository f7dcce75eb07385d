package model

import "time"

// Document is the raw field map of a stored document.
type Document map[string]any

// Clone returns a shallow copy of d.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Merge shallow-merges patch into a copy of d: top-level keys of patch replace those of d,
// all other keys of d are kept.
func (d Document) Merge(patch Document) Document {
	out := make(Document, len(d)+len(patch))
	for k, v := range d {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// Snapshot is a point-in-time view of one document.
type Snapshot struct {
	Path      string    `json:"path"`
	ID        string    `json:"id"`
	Exists    bool      `json:"exists"`
	Data      Document  `json:"data,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Change describes a document mutation published to subscribers of the owner.
type Change struct {
	Owner    string   `json:"owner"`
	Snapshot Snapshot `json:"snapshot"`
}

// Filter operators accepted by collection queries.
const (
	OpEq  = "=="
	OpNe  = "!="
	OpLt  = "<"
	OpLte = "<="
	OpGt  = ">"
	OpGte = ">="
)

// Filter restricts a collection query to documents whose field compares to Value.
type Filter struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

// OrderBy sorts query results by a data field.
type OrderBy struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc"`
}

// DefaultOrder is applied when a query names no ordering.
var DefaultOrder = OrderBy{Field: "createdAt", Desc: true}
