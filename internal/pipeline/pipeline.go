package pipeline

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go-dataset-pipeline/internal/config"
	"go-dataset-pipeline/internal/events"
	"go-dataset-pipeline/internal/locks"
	"go-dataset-pipeline/internal/metrics"
	"go-dataset-pipeline/internal/model"
	applog "go-dataset-pipeline/pkg/logger"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Hook is called after every stage run that found a dataset, with the
// dataset as read before the run and the run error.
type Hook func(stage string, d *model.Dataset, err error)

// Orchestrator runs the pollers of every stage.
type Orchestrator struct {
	store   Store
	locker  locks.Locker
	emitter events.Emitter
	logger  *slog.Logger
	cfg     config.WorkersConfig

	// Hook, when set before Start, observes every run.
	Hook Hook

	mu          sync.Mutex
	supervisors []*supervisor
}

// NewOrchestrator returns an orchestrator running stages.
func NewOrchestrator(cfg config.WorkersConfig, st Store, locker locks.Locker, emitter events.Emitter, logger *slog.Logger, stages ...Stage) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if emitter == nil {
		emitter = events.LogEmitter{Logger: logger}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = time.Second
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 100
	}
	o := &Orchestrator{store: st, locker: locker, emitter: emitter, logger: logger, cfg: cfg}
	for _, stage := range stages {
		o.supervisors = append(o.supervisors, &supervisor{
			o:      o,
			stage:  stage,
			logger: logger.With("component", "worker", "stage", stage.Name()),
			stop:   make(chan struct{}),
		})
	}
	return o
}

// Start launches the pollers. In-flight runs use ctx; cancelling it also
// ends the pollers.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range o.supervisors {
		for i := 0; i < o.cfg.Concurrency; i++ {
			s.wg.Add(1)
			go s.poll(ctx)
		}
		s.logger.Info("stage started", "pollers", o.cfg.Concurrency)
	}
}

// Stop prevents new iterations and waits for in-flight ones to complete,
// or for ctx to be done.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	supervisors := o.supervisors
	o.mu.Unlock()

	var g errgroup.Group
	for _, s := range supervisors {
		g.Go(func() error { return s.shutdown(ctx) })
	}
	return g.Wait()
}

// supervisor owns the pollers of one stage.
type supervisor struct {
	o      *Orchestrator
	stage  Stage
	logger *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func (s *supervisor) shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("stage stopped")
		return nil
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "stopping stage %s", s.stage.Name())
	}
}

func (s *supervisor) poll(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		default:
		}
		s.iterate(ctx)
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-time.After(s.o.cfg.PollingInterval):
		}
	}
}

// iterate claims one eligible dataset and runs the stage on it.
func (s *supervisor) iterate(ctx context.Context) {
	d, err := s.acquireNext(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to look for work", "error", err)
		return
	}
	if d == nil {
		metrics.CounterIdleIterations.WithLabelValues(s.stage.Name()).Inc()
		return
	}
	defer s.release(ctx, d.ID)
	s.run(ctx, d)
}

// acquireNext scans a random sample of eligible datasets and returns the
// first one it could lease, re-read after the lease so that it is current.
func (s *supervisor) acquireNext(ctx context.Context) (*model.Dataset, error) {
	filter := s.stage.Filter()
	sample, err := s.o.store.SampleDatasets(ctx, filter, s.o.cfg.SampleSize)
	if err != nil {
		return nil, err
	}
	name := s.stage.Name()
	for _, candidate := range sample {
		ok, err := s.o.locker.Acquire(ctx, locks.DatasetKey(candidate.ID))
		if err != nil {
			metrics.CounterLockAttempts.WithLabelValues(name, "error").Inc()
			s.logger.WarnContext(ctx, "failed to acquire lock", "dataset", candidate.ID, "error", err)
			continue
		}
		if !ok {
			metrics.CounterLockAttempts.WithLabelValues(name, "conflict").Inc()
			continue
		}
		metrics.CounterLockAttempts.WithLabelValues(name, "acquired").Inc()

		d, err := s.o.store.GetDataset(ctx, candidate.ID)
		if err == nil && filter.Match(d) {
			return d, nil
		}
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			s.logger.WarnContext(ctx, "failed to read leased dataset", "dataset", candidate.ID, "error", err)
		}
		s.release(ctx, candidate.ID)
	}
	return nil, nil
}

func (s *supervisor) release(ctx context.Context, id string) {
	if err := s.o.locker.Release(context.WithoutCancel(ctx), locks.DatasetKey(id)); err != nil {
		s.logger.WarnContext(ctx, "failed to release lock", "dataset", id, "error", err)
	}
}

func (s *supervisor) run(ctx context.Context, d *model.Dataset) {
	name := s.stage.Name()
	logger := applog.WithDataset(s.logger, d.ID)
	ctx = applog.WithContext(ctx, logger)
	s.emit(ctx, d.ID, name+"-start", nil)
	metrics.CounterStageStarted.WithLabelValues(name).Inc()
	start := time.Now()

	err := s.process(ctx, d)
	metrics.HistogramStageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	if err != nil {
		fatal := model.IsFatal(err)
		metrics.CounterStageFailed.WithLabelValues(name, strconv.FormatBool(fatal)).Inc()
		logger.ErrorContext(ctx, "stage failed", "fatal", fatal, "error", err)
		s.emit(ctx, d.ID, name+"-fail", map[string]any{"error": err.Error()})
		if fatal {
			if _, perr := s.o.store.PatchDataset(context.WithoutCancel(ctx), d.ID, model.StatusPatch(model.StatusError)); perr != nil {
				logger.ErrorContext(ctx, "failed to store error status", "error", perr)
			}
		}
	} else {
		metrics.CounterStageEnded.WithLabelValues(name).Inc()
		logger.DebugContext(ctx, "stage done", "duration", time.Since(start))
		s.emit(ctx, d.ID, name+"-end", nil)
	}
	if s.o.Hook != nil {
		s.o.Hook(name, d, err)
	}
}

func (s *supervisor) process(ctx context.Context, d *model.Dataset) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic in stage %s: %v", s.stage.Name(), r)
		}
	}()
	patch, err := s.stage.Process(ctx, d.Clone())
	if err != nil {
		return err
	}
	if patch.Empty() {
		return nil
	}
	_, err = s.o.store.PatchDataset(ctx, d.ID, patch)
	return err
}

func (s *supervisor) emit(ctx context.Context, datasetID, typ string, data map[string]any) {
	ev := model.Event{DatasetID: datasetID, Type: typ, Date: time.Now(), Data: data}
	if err := s.o.emitter.Emit(ctx, ev); err != nil {
		s.logger.WarnContext(ctx, "failed to emit event", "dataset", datasetID, "type", typ, "error", err)
	}
}
