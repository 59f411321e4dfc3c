// Package pipeline implements the processing stages datasets go through
// and the orchestrator polling for datasets to run them on.
package pipeline

import (
	"context"

	"go-dataset-pipeline/internal/model"
	"go-dataset-pipeline/internal/store"
)

// Stage names, also used as event prefixes
const (
	StageAnalyze    = "analyze"
	StageSchematize = "schematize"
	StageExtend     = "extend"
	StageIndex      = "index"
	StageFinalize   = "finalize"
)

// Stage is one step of the pipeline. Process reads the dataset and returns
// the patch to apply; it never writes the dataset itself.
type Stage interface {
	Name() string
	Filter() store.Filter
	Process(ctx context.Context, d *model.Dataset) (*model.Patch, error)
}

// Store is the part of the document store used by the stages and the
// orchestrator.
type Store interface {
	GetDataset(ctx context.Context, id string) (*model.Dataset, error)
	SampleDatasets(ctx context.Context, f store.Filter, size int) ([]*model.Dataset, error)
	PatchDataset(ctx context.Context, id string, p *model.Patch) (*model.Dataset, error)
}

var notVirtual = false

func physicalIn(statuses ...model.Status) store.Filter {
	return store.Filter{Statuses: statuses, Virtual: &notVirtual}
}

// Filters returns the eligibility filter of every stage, by name.
func Filters() map[string]store.Filter {
	return map[string]store.Filter{
		StageAnalyze:    physicalIn(model.StatusLoaded),
		StageSchematize: physicalIn(model.StatusAnalyzed),
		StageExtend:     physicalIn(model.StatusSchematized),
		StageIndex:      physicalIn(model.StatusExtended),
		StageFinalize:   {Statuses: []model.Status{model.StatusIndexed, model.StatusUpdated}},
	}
}
