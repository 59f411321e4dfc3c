package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go-dataset-pipeline/internal/index"
	"go-dataset-pipeline/internal/model"
	"go-dataset-pipeline/internal/store"

	"github.com/pkg/errors"
)

// EnumSize is both the number of values aggregated per field and the
// distinct count under which they become the field enum
const EnumSize = 50

// DescendantResolver finds the physical datasets behind a virtual one.
type DescendantResolver interface {
	ResolveDescendants(ctx context.Context, d *model.Dataset) ([]string, error)
}

// FinalizeStage computes the publication metadata of an indexed dataset:
// calculated geographic fields, cardinalities, enums and bounding box.
type FinalizeStage struct {
	Engine   index.Engine
	Resolver DescendantResolver
	Logger   *slog.Logger
	Now      func() time.Time
}

func (s *FinalizeStage) Name() string         { return StageFinalize }
func (s *FinalizeStage) Filter() store.Filter { return Filters()[StageFinalize] }

func (s *FinalizeStage) Process(ctx context.Context, d *model.Dataset) (*model.Patch, error) {
	logger := s.logger().With("dataset", d.ID)
	geo := model.SchemaGeoFields(d.Schema)

	targets := []string{d.ID}
	count := d.Count
	if d.IsVirtual {
		var err error
		if targets, err = s.Resolver.ResolveDescendants(ctx, d); err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return nil, err
			}
			return nil, model.Fatal(err)
		}
		if count, err = s.Engine.Count(ctx, targets); err != nil {
			return nil, err
		}
	} else if geo.Any() {
		if err := s.Engine.ExtendCalculated(ctx, d.ID, CalculatedFields(geo)); err != nil {
			return nil, err
		}
	}

	schema := model.CloneSchema(d.Schema)
	for i := range schema {
		f := &schema[i]
		if strings.HasPrefix(f.Key, "_") || f.IsGeometry() || f.Calculated {
			continue
		}
		agg, err := s.Engine.ValuesAgg(ctx, targets, *f, EnumSize)
		if err != nil {
			return nil, errors.Wrapf(err, "aggregating values of %s", f.Key)
		}
		f.Cardinality = agg.TotalValues
		// a constant field or a field with only unique values
		if agg.TotalValues == 1 || (len(agg.Aggs) > 0 && agg.Aggs[0].Total == 1) {
			f.Cardinality = count
		}
		f.Enum = nil
		if !d.IsRest && agg.TotalValues <= EnumSize {
			for _, b := range agg.Aggs {
				f.Enum = append(f.Enum, b.Value)
			}
		}
	}

	now := s.now()
	p := &model.Patch{
		Status:           model.StatusFinalized,
		FromStatus:       d.Status,
		ReadUpdatedAt:    d.UpdatedAt,
		PreserveStatuses: []model.Status{model.StatusUpdated},
		Schema:           model.ExtendedSchema(schema),
		Count:            &count,
		FinalizedAt:      &now,
		ClearBBox:        true,
	}
	if geo.Any() {
		bbox, err := s.Engine.BBoxAgg(ctx, targets)
		if err != nil {
			return nil, err
		}
		if bbox != nil {
			p.BBox, p.ClearBBox = bbox, false
		}
	}
	logger.InfoContext(ctx, "dataset finalized", "count", count, "targets", len(targets))
	return p, nil
}

func (s *FinalizeStage) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *FinalizeStage) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
