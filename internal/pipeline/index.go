package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"go-dataset-pipeline/internal/datafile"
	"go-dataset-pipeline/internal/index"
	"go-dataset-pipeline/internal/metrics"
	"go-dataset-pipeline/internal/model"
	"go-dataset-pipeline/internal/store"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// BulkSize is the number of documents sent per bulk request
const BulkSize = 1000

// IndexStage writes every row of a dataset to a new index generation and
// publishes it.
type IndexStage struct {
	Layout datafile.Layout
	Engine index.Engine
	Logger *slog.Logger
}

func (s *IndexStage) Name() string         { return StageIndex }
func (s *IndexStage) Filter() store.Filter { return Filters()[StageIndex] }

func (s *IndexStage) Process(ctx context.Context, d *model.Dataset) (*model.Patch, error) {
	if d.Status != model.StatusExtended && d.Status != model.StatusSchematized {
		return nil, errors.Errorf("cannot index dataset %s in status %s", d.ID, d.Status)
	}
	if d.IsVirtual {
		return nil, errors.Errorf("cannot index virtual dataset %s", d.ID)
	}
	r, err := s.Layout.OpenRows(d)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	generation, err := s.Engine.CreateGeneration(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	count, err := s.stream(ctx, d, r, generation)
	if err == nil {
		err = s.Engine.SwitchAlias(ctx, d.ID, generation)
	}
	if err != nil {
		if derr := s.Engine.DeleteGeneration(context.WithoutCancel(ctx), generation); derr != nil {
			s.logger().WarnContext(ctx, "failed to drop generation", "dataset", d.ID, "generation", generation, "error", derr)
		}
		return nil, model.Fatal(errors.Wrap(err, "indexing rows"))
	}

	metrics.CounterIndexedRows.Add(float64(count))
	s.logger().InfoContext(ctx, "dataset indexed", "dataset", d.ID, "count", count)
	return &model.Patch{Status: model.StatusIndexed, Count: &count}, nil
}

// stream casts the rows read from r and bulk indexes them into generation.
func (s *IndexStage) stream(ctx context.Context, d *model.Dataset, r datafile.RowReader, generation string) (int64, error) {
	types := make(map[string]string, len(d.Schema))
	for _, f := range d.Schema {
		types[f.Key] = f.Type
	}

	docs := make(chan index.Document, BulkSize)
	var count int64
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(docs)
		for line := int64(1); ; line++ {
			row, err := r.Next()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			select {
			case docs <- index.Document{Source: IndexedRow(d.ID, line, row, types)}:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	g.Go(func() error {
		batch := make([]index.Document, 0, BulkSize)
		for doc := range docs {
			batch = append(batch, doc)
			if len(batch) == BulkSize {
				if err := s.Engine.BulkIndex(gctx, generation, batch); err != nil {
					return err
				}
				count += int64(len(batch))
				batch = batch[:0]
			}
		}
		if len(batch) > 0 {
			if err := s.Engine.BulkIndex(gctx, generation, batch); err != nil {
				return err
			}
			count += int64(len(batch))
		}
		return nil
	})

	err := g.Wait()
	return count, err
}

func (s *IndexStage) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// IndexedRow casts the values of row to their field type and adds the
// line number and a pseudo random value stable for a given line. Values
// that do not parse as their type are left out.
func IndexedRow(datasetID string, line int64, row datafile.Row, types map[string]string) map[string]any {
	src := make(map[string]any, len(row)+2)
	for k, v := range row {
		if cast, ok := castValue(v, types[k]); ok {
			src[k] = cast
		}
	}
	src[model.KeyLine] = line
	src[model.KeyRand] = int64(xxhash.Sum64String(datasetID+":"+strconv.FormatInt(line, 10)) >> 12)
	return src
}

func castValue(v any, typ string) (any, bool) {
	s, isString := v.(string)
	if !isString {
		return v, v != nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	switch typ {
	case model.TypeInteger:
		i, err := strconv.ParseInt(s, 10, 64)
		return i, err == nil
	case model.TypeNumber:
		return parseNumber(s)
	case model.TypeBoolean:
		switch strings.ToLower(s) {
		case "true", "1":
			return true, true
		case "false", "0":
			return false, true
		}
		return nil, false
	}
	return s, true
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}
