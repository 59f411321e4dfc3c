// Package virtual resolves the schema and the query scope of virtual
// datasets, which aggregate the rows of other datasets.
package virtual

import (
	"context"

	"go-dataset-pipeline/internal/model"
	"go-dataset-pipeline/internal/store"

	"github.com/pkg/errors"
)

// MaxDepth bounds the walk of the children graph.
const MaxDepth = 20

// Store is the part of the document store the resolver reads.
type Store interface {
	GetDataset(ctx context.Context, id string) (*model.Dataset, error)
	Descendants(ctx context.Context, id string, maxDepth int) ([]store.Descendant, error)
}

// Resolver validates virtual schemas and finds the physical datasets
// queried on behalf of a virtual one. It never writes.
type Resolver struct {
	store Store
}

// NewResolver returns a Resolver reading from s.
func NewResolver(s Store) *Resolver {
	return &Resolver{store: s}
}

// childrenSchemas collects the schemas of children and of all their
// descendants. Fields of a grandchild that a virtual child does not expose
// itself are added to blacklist.
func (r *Resolver) childrenSchemas(ctx context.Context, children []string, blacklist map[string]bool, depth int) ([][]model.Field, error) {
	if depth > MaxDepth {
		return nil, errors.Wrapf(model.ErrMaxDepth, "children deeper than %d levels", MaxDepth)
	}
	var schemas [][]model.Field
	for _, id := range children {
		child, err := r.store.GetDataset(ctx, id)
		if err != nil {
			return nil, errors.Wrapf(err, "child %s", id)
		}
		schemas = append(schemas, child.Schema)
		if !child.IsVirtual || child.Virtual == nil {
			continue
		}
		grand, err := r.childrenSchemas(ctx, child.Virtual.Children, blacklist, depth+1)
		if err != nil {
			return nil, err
		}
		for _, s := range grand {
			for _, f := range s {
				if _, ok := model.FieldByKey(child.Schema, f.Key); !ok {
					blacklist[f.Key] = true
				}
			}
		}
		schemas = append(schemas, grand...)
	}
	return schemas, nil
}

// PrepareSchema validates the candidate schema of a virtual dataset against
// its descendants and completes each field from the first descendant field
// sharing its key. The candidate is not modified.
func (r *Resolver) PrepareSchema(ctx context.Context, candidate []model.Field, spec model.VirtualSpec) ([]model.Field, error) {
	blacklist := make(map[string]bool)
	schemas, err := r.childrenSchemas(ctx, spec.Children, blacklist, 1)
	if err != nil {
		return nil, err
	}

	out := model.CloneSchema(candidate)
	for i := range out {
		field := &out[i]
		if blacklist[field.Key] {
			return nil, errors.Wrapf(model.ErrBlacklistedField, "field %q", field.Key)
		}
		var matches []model.Field
		for _, s := range schemas {
			for _, f := range s {
				if f.Key == field.Key {
					matches = append(matches, f)
				}
			}
		}
		if len(matches) == 0 {
			return nil, errors.Wrapf(model.ErrUnknownField, "field %q", field.Key)
		}
		if field.Type == "" {
			field.Type = matches[0].Type
		}
		if field.Format == "" {
			field.Format = matches[0].Format
		}
		for _, m := range matches {
			if m.Type != field.Type {
				return nil, errors.Wrapf(model.ErrTypeConflict, "field %q (%s, %s)", field.Key, field.Type, m.Type)
			}
			if m.Format != field.Format {
				return nil, errors.Wrapf(model.ErrFormatConflict, "field %q (%s, %s)", field.Key, field.Format, m.Format)
			}
			if field.Title == "" {
				field.Title = m.Title
			}
			if field.Description == "" {
				field.Description = m.Description
			}
			if field.RefersTo == "" {
				field.RefersTo = m.RefersTo
			}
		}
	}
	return out, nil
}

// ResolveDescendants returns the ids of the physical datasets reached from
// d, the only ones the index can be queried on.
func (r *Resolver) ResolveDescendants(ctx context.Context, d *model.Dataset) ([]string, error) {
	// one level past the cap so that a deeper graph or a cycle is detected
	nodes, err := r.store.Descendants(ctx, d.ID, MaxDepth+1)
	if err != nil {
		return nil, err
	}
	var physical []string
	for _, n := range nodes {
		if n.Deepest > MaxDepth {
			return nil, errors.Wrapf(model.ErrMaxDepth, "dataset %s", d.ID)
		}
		if n.Dataset == nil {
			continue
		}
		if n.Dataset.IsVirtual {
			if n.Dataset.Virtual != nil && len(n.Dataset.Virtual.Filters) > 0 {
				return nil, errors.Wrapf(model.ErrFilteredDescendant, "descendant %s", n.ID)
			}
			continue
		}
		physical = append(physical, n.ID)
	}
	if len(physical) == 0 {
		return nil, errors.Wrapf(model.ErrNoPhysicalDescendants, "dataset %s", d.ID)
	}
	return physical, nil
}
