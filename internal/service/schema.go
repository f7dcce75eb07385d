package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/and161185/fitsync/internal/docpath"
	"github.com/and161185/fitsync/internal/errs"
	"github.com/and161185/fitsync/internal/model"
)

// Document kinds with a registered schema.
const (
	KindProfile      = "profile"
	KindMeasurements = "measurements"
	KindPreferences  = "preferences"
	KindOther        = "other"
)

const profileSchema = `{
  "type": "object",
  "properties": {
    "uid":         {"type": "string"},
    "email":       {"type": "string", "maxLength": 255},
    "displayName": {"type": "string", "maxLength": 200},
    "photoURL":    {"type": "string", "maxLength": 2048},
    "firstName":   {"type": "string", "maxLength": 100},
    "lastName":    {"type": "string", "maxLength": 100},
    "age":         {"type": "integer", "minimum": 1, "maximum": 150},
    "sex":         {"enum": ["male", "female", "other"]},
    "height":      {"type": "number", "minimum": 1},
    "weight":      {"type": "number", "minimum": 1},
    "chest":       {"type": "number", "minimum": 0},
    "hip":         {"type": "number", "minimum": 0},
    "waist":       {"type": "number", "minimum": 0},
    "muscleMass":  {"type": "number", "minimum": 0},
    "settings":    {"type": "object"},
    "createdAt":   {"type": "string", "format": "date-time"},
    "updatedAt":   {"type": "string", "format": "date-time"}
  }
}`

const measurementsSchema = `{
  "type": "object",
  "properties": {
    "height":    {"enum": ["cm", "ft-in"]},
    "weight":    {"enum": ["kg", "lb"]},
    "updatedAt": {"type": "string", "format": "date-time"}
  }
}`

const preferencesSchema = `{
  "type": "object",
  "properties": {
    "language":  {"type": "string", "pattern": "^[a-z]{2,3}(-[A-Za-z0-9]{2,8})*$"},
    "updatedAt": {"type": "string", "format": "date-time"}
  }
}`

// Schemas validates documents by the kind their path implies. Schemas carry no required
// properties, so a merge patch validates on its own.
type Schemas struct {
	byKind map[string]*jsonschema.Schema
}

// NewSchemas compiles the built-in document schemas.
func NewSchemas() (*Schemas, error) {
	s := &Schemas{byKind: map[string]*jsonschema.Schema{}}
	for kind, src := range map[string]string{
		KindProfile:      profileSchema,
		KindMeasurements: measurementsSchema,
		KindPreferences:  preferencesSchema,
	} {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		c.AssertFormat = true
		url := fmt.Sprintf("https://fitsync.schemas.local/%s.schema.json", kind)
		if err := c.AddResource(url, strings.NewReader(src)); err != nil {
			return nil, fmt.Errorf("schema %s load failed: %w", kind, err)
		}
		compiled, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("schema %s compile failed: %w", kind, err)
		}
		s.byKind[kind] = compiled
	}
	return s, nil
}

// KindOf classifies a document path.
func KindOf(p docpath.Path) string {
	switch p.Rel() {
	case "":
		return KindProfile
	case "settings/measurements":
		return KindMeasurements
	case "settings/preferences":
		return KindPreferences
	}
	return KindOther
}

// Validate checks data against the schema of kind. Unknown kinds accept any object.
func (s *Schemas) Validate(kind string, data model.Document) error {
	sch, ok := s.byKind[kind]
	if !ok {
		return nil
	}
	if err := sch.Validate(map[string]any(data)); err != nil {
		var ve *jsonschema.ValidationError
		if !errors.As(err, &ve) {
			return errs.Validation("data", err.Error())
		}
		for len(ve.Causes) > 0 {
			ve = ve.Causes[0]
		}
		return errs.Validation(strings.TrimPrefix(ve.InstanceLocation, "/"), ve.Message)
	}
	return nil
}

// normalize re-encodes data through JSON so that it holds only JSON value types.
func normalize(data model.Document) (model.Document, error) {
	if data == nil {
		return model.Document{}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, errs.Validation("data", "not representable as JSON")
	}
	var out model.Document
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errs.Validation("data", err.Error())
	}
	return out, nil
}
