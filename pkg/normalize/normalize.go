// Package normalize flattens nested API documents into per-kind id->record
// maps. Nested entities are replaced in the parent record by id references,
// so the store never holds embedded object graphs.
package normalize

import (
	"encoding/json"
	"fmt"

	"github.com/studylab/studysync/pkg/apperrors"
	"github.com/studylab/studysync/pkg/jsonutil"
	"github.com/studylab/studysync/pkg/models"
)

// Schema describes how one entity kind is extracted from a document: the
// collection it lands in and which fields hold nested child entities.
// Schemas compose; declare each kind once and embed it where it nests.
type Schema struct {
	kind   models.Kind
	nested []nestedField
}

type nestedField struct {
	field  string
	schema *Schema
	list   bool
}

// NewSchema creates a schema for the given kind with no nested fields.
func NewSchema(kind models.Kind) *Schema {
	return &Schema{kind: kind}
}

// List declares field as a list of child entities described by child.
// Returns the receiver for chained composition.
func (s *Schema) List(field string, child *Schema) *Schema {
	s.nested = append(s.nested, nestedField{field: field, schema: child, list: true})
	return s
}

// One declares field as a single nested child entity described by child.
func (s *Schema) One(field string, child *Schema) *Schema {
	s.nested = append(s.nested, nestedField{field: field, schema: child})
	return s
}

// Kind returns the collection this schema extracts into.
func (s *Schema) Kind() models.Kind { return s.kind }

// Payload is the flat result of normalizing one API response: the root
// entity id(s) plus every extracted record keyed by kind and id. Records are
// generic documents; the store decodes them into typed entities on merge.
type Payload struct {
	Result   []string
	Entities map[models.Kind]map[string]map[string]any
}

// RootID returns the single root id of a non-list payload.
func (p *Payload) RootID() string {
	if len(p.Result) == 0 {
		return ""
	}
	return p.Result[0]
}

// Record returns the normalized record for kind/id, or nil.
func (p *Payload) Record(kind models.Kind, id string) map[string]any {
	return p.Entities[kind][id]
}

// Merge folds other's entities into p, shallow-merging records that appear
// in both. Result is left untouched. Used when one logical operation yields
// several API responses (dataset create plus raw-file registration).
func (p *Payload) Merge(other *Payload) {
	for kind, records := range other.Entities {
		if p.Entities[kind] == nil {
			p.Entities[kind] = make(map[string]map[string]any, len(records))
		}
		for id, record := range records {
			existing, ok := p.Entities[kind][id]
			if !ok {
				p.Entities[kind][id] = record
				continue
			}
			for k, v := range record {
				existing[k] = v
			}
		}
	}
}

// Normalize flattens a single-entity document. It is a pure function: the
// same input always yields the same payload and nothing else is touched.
func Normalize(raw json.RawMessage, s *Schema) (*Payload, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}

	p := newPayload()
	id, err := visit(doc, s, p)
	if err != nil {
		return nil, err
	}
	p.Result = []string{id}
	return p, nil
}

// NormalizeList flattens a list response. Result preserves the server's
// ordering of root ids.
func NormalizeList(raw json.RawMessage, s *Schema) (*Payload, error) {
	var docs []map[string]any
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("decode document list: %w", err)
	}

	p := newPayload()
	p.Result = make([]string, 0, len(docs))
	for _, doc := range docs {
		id, err := visit(doc, s, p)
		if err != nil {
			return nil, err
		}
		p.Result = append(p.Result, id)
	}
	return p, nil
}

func newPayload() *Payload {
	return &Payload{Entities: make(map[models.Kind]map[string]map[string]any)}
}

func visit(doc map[string]any, s *Schema, p *Payload) (string, error) {
	record := make(map[string]any, len(doc))
	for k, v := range doc {
		record[k] = v
	}

	for _, nf := range s.nested {
		v, ok := record[nf.field]
		if !ok || v == nil {
			continue
		}
		if nf.list {
			items, ok := v.([]any)
			if !ok {
				return "", fmt.Errorf("field %q of %s: expected list, got %T", nf.field, s.kind, v)
			}
			ids := make([]string, 0, len(items))
			for _, item := range items {
				childDoc, ok := item.(map[string]any)
				if !ok {
					// Already an id reference; keep it as-is.
					ids = append(ids, jsonutil.StringValue(item))
					continue
				}
				childID, err := visit(childDoc, nf.schema, p)
				if err != nil {
					return "", err
				}
				ids = append(ids, childID)
			}
			record[nf.field] = ids
		} else {
			childDoc, ok := v.(map[string]any)
			if !ok {
				record[nf.field] = jsonutil.StringValue(v)
				continue
			}
			childID, err := visit(childDoc, nf.schema, p)
			if err != nil {
				return "", err
			}
			record[nf.field] = childID
		}
	}

	id := jsonutil.StringValue(record["id"])
	if id == "" {
		return "", fmt.Errorf("kind %s: %w", s.kind, apperrors.ErrMissingID)
	}

	if p.Entities[s.kind] == nil {
		p.Entities[s.kind] = make(map[string]map[string]any)
	}
	if existing, ok := p.Entities[s.kind][id]; ok {
		// The same entity can appear twice in one document; later
		// occurrences shallow-merge over earlier ones.
		for k, v := range record {
			existing[k] = v
		}
	} else {
		p.Entities[s.kind][id] = record
	}
	return id, nil
}
