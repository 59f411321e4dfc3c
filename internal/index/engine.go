// Package index stores indexed dataset rows in generations that are
// atomically published behind a per-dataset alias, and answers the
// aggregations and searches run on them.
package index

import (
	"context"

	"go-dataset-pipeline/internal/model"
)

// Document is one indexed row with its optional geographic bounds.
type Document struct {
	Source map[string]any
	Bounds *model.BBox
}

// Bucket is one value of a terms aggregation.
type Bucket struct {
	Value any   `json:"value"`
	Total int64 `json:"total"`
}

// ValuesAgg is the result of a terms aggregation on a field.
type ValuesAgg struct {
	TotalValues int64    `json:"total_values"` // distinct values
	Aggs        []Bucket `json:"aggs"`         // most frequent first
}

// Query restricts and pages a search.
type Query struct {
	Q       string              // substring matched anywhere in the row
	Filters map[string][]string // field equal to one of the values
	Select  []string
	Sort    string // field key, "-" prefix for descending
	Size    int
	Skip    int
	BBox    *model.BBox
}

// SearchResult is one page of hits.
type SearchResult struct {
	Total int64            `json:"total"`
	Hits  []map[string]any `json:"results"`
}

// CalculateFunc rewrites an indexed row, returning its new geographic bounds.
type CalculateFunc func(source map[string]any) (*model.BBox, error)

// Engine is the search/index engine used by the pipeline and the API.
// Targets are dataset ids, resolved through their public alias.
type Engine interface {
	CreateGeneration(ctx context.Context, datasetID string) (string, error)
	BulkIndex(ctx context.Context, generation string, docs []Document) error
	SwitchAlias(ctx context.Context, datasetID, generation string) error
	DeleteGeneration(ctx context.Context, generation string) error
	DeleteAlias(ctx context.Context, datasetID string) error
	Count(ctx context.Context, targets []string) (int64, error)
	ValuesAgg(ctx context.Context, targets []string, field model.Field, size int) (*ValuesAgg, error)
	BBoxAgg(ctx context.Context, targets []string) (*model.BBox, error)
	Search(ctx context.Context, targets []string, q Query) (*SearchResult, error)
	ExtendCalculated(ctx context.Context, datasetID string, fn CalculateFunc) error
}
