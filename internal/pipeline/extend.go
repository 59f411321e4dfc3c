package pipeline

import (
	"context"
	"io"
	"log/slog"

	"go-dataset-pipeline/internal/datafile"
	"go-dataset-pipeline/internal/metrics"
	"go-dataset-pipeline/internal/model"
	"go-dataset-pipeline/internal/store"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// DefaultBatchSize is the number of rows sent per remote call
const DefaultBatchSize = 100

// Extender enriches the rows of a dataset with the output of a remote
// service action, writing the extended rows file.
type Extender interface {
	Extend(ctx context.Context, d *model.Dataset, svc *model.RemoteService, action *model.Action) error
}

// ServiceStore resolves remote services.
type ServiceStore interface {
	GetRemoteService(ctx context.Context, id string) (*model.RemoteService, error)
}

// ExtensionKey returns the key under which an action output field is stored.
func ExtensionKey(serviceID, actionID, field string) string {
	return "_ext_" + serviceID + "_" + actionID + "." + field
}

// ExtendStage runs every active extension of a dataset.
type ExtendStage struct {
	Services ServiceStore
	Extender Extender
	Logger   *slog.Logger
}

func (s *ExtendStage) Name() string         { return StageExtend }
func (s *ExtendStage) Filter() store.Filter { return Filters()[StageExtend] }

func (s *ExtendStage) Process(ctx context.Context, d *model.Dataset) (*model.Patch, error) {
	logger := s.logger().With("dataset", d.ID)
	schema := model.CloneSchema(d.Schema)
	changed := false

	for _, ext := range d.ActiveExtensions() {
		svc, err := s.Services.GetRemoteService(ctx, ext.RemoteService)
		if errors.Is(err, model.ErrNotFound) {
			logger.WarnContext(ctx, "unknown remote service", "service", ext.RemoteService)
			continue
		}
		if err != nil {
			return nil, err
		}
		action, ok := svc.Action(ext.Action)
		if !ok {
			logger.WarnContext(ctx, "unknown remote service action", "service", svc.ID, "action", ext.Action)
			continue
		}
		if err := s.Extender.Extend(ctx, d, svc, action); err != nil {
			metrics.CounterExtensionCalls.WithLabelValues(svc.ID, "error").Inc()
			logger.ErrorContext(ctx, "extension failed", "service", svc.ID, "action", action.ID, "error", err)
			continue
		}
		for _, out := range action.Output {
			key := ExtensionKey(svc.ID, action.ID, out.Key)
			if fieldIndex(schema, key) >= 0 {
				continue
			}
			f := out
			f.Key = key
			f.Extension = svc.ID + "/" + action.ID
			f.Enum, f.Cardinality, f.OriginalName = nil, 0, ""
			schema = append(schema, f)
			changed = true
		}
	}

	p := &model.Patch{Status: model.StatusExtended}
	if changed {
		p.Schema = schema
	}
	return p, nil
}

func (s *ExtendStage) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// BatchFunc enriches a batch of action inputs. It returns one output per
// input, in order.
type BatchFunc func(ctx context.Context, inputs []map[string]any) ([]map[string]any, error)

// ExtendRows streams the current rows of d in batches through call and
// writes them, merged with the returned outputs, to the extended rows
// file. The file is only replaced once every batch succeeded.
func ExtendRows(ctx context.Context, layout datafile.Layout, d *model.Dataset, svc *model.RemoteService, action *model.Action, batchSize int, call BatchFunc) error {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	inputKeys := make(map[string]string, len(action.Input))
	for _, concept := range action.Input {
		for _, f := range d.Schema {
			if f.RefersTo == concept {
				inputKeys[concept] = f.Key
				break
			}
		}
	}

	r, err := layout.OpenRows(d)
	if err != nil {
		return err
	}
	defer r.Close()
	w, err := datafile.CreateNDJSON(layout.Full(d))
	if err != nil {
		return err
	}

	rowsCh := make(chan datafile.Row, batchSize)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(rowsCh)
		for {
			row, err := r.Next()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			select {
			case rowsCh <- row:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	g.Go(func() error {
		batch := make([]datafile.Row, 0, batchSize)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			inputs := make([]map[string]any, len(batch))
			for i, row := range batch {
				in := make(map[string]any, len(inputKeys))
				for concept, key := range inputKeys {
					if v, ok := row[key]; ok {
						in[concept] = v
					}
				}
				inputs[i] = in
			}
			outputs, err := call(gctx, inputs)
			if err != nil {
				return err
			}
			if len(outputs) != len(batch) {
				return errors.Errorf("remote service %s returned %d rows for %d", svc.ID, len(outputs), len(batch))
			}
			for i, row := range batch {
				// drop previous values of this extension
				for _, f := range action.Output {
					delete(row, ExtensionKey(svc.ID, action.ID, f.Key))
				}
				for k, v := range outputs[i] {
					if v != nil {
						row[ExtensionKey(svc.ID, action.ID, k)] = v
					}
				}
				if err := w.Write(row); err != nil {
					return err
				}
			}
			batch = batch[:0]
			return nil
		}
		for row := range rowsCh {
			batch = append(batch, row)
			if len(batch) == batchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		return flush()
	})

	if err := g.Wait(); err != nil {
		w.Abort()
		return err
	}
	return w.Commit()
}
