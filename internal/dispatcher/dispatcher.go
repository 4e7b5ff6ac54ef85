// Package dispatcher turns filesystem change notifications into queue
// records for valid job descriptors and failure records for rejected ones.
package dispatcher

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/angariumd/intake/internal/config"
	"github.com/angariumd/intake/internal/events"
	"github.com/angariumd/intake/internal/models"
	"github.com/angariumd/intake/internal/naming"
	"github.com/angariumd/intake/internal/preset"
	"github.com/angariumd/intake/internal/validator"
	"github.com/angariumd/intake/internal/watch"
	"github.com/google/uuid"
)

const (
	// TimestampLayout prefixes every record filename.
	TimestampLayout = "20060102_150405"
	// ISOLayout is used for submitted_at and failed_at.
	ISOLayout = "2006-01-02T15:04:05.000000Z07:00"
)

// Outcome describes what was persisted for one descriptor.
type Outcome struct {
	Valid   bool
	JobName string
	Record  string
	Errors  []string
}

type Dispatcher struct {
	cfg       *config.IntakeConfig
	validator *validator.Validator
	recorder  events.Recorder
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Dispatcher)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func New(cfg *config.IntakeConfig, v *validator.Validator, recorder events.Recorder, logger *slog.Logger, opts ...Option) *Dispatcher {
	if recorder == nil {
		recorder = events.Discard{}
	}
	d := &Dispatcher{
		cfg:       cfg,
		validator: v,
		recorder:  recorder,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Prepare creates the watch root, queue and failed directories.
func (d *Dispatcher) Prepare() error {
	for _, dir := range []string{d.cfg.WatchRoot, d.cfg.QueueDir, d.cfg.FailedDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// Run consumes src until ctx is canceled or src closes. Events are spread
// over the configured workers by directory, so descriptors in the same user
// directory are always handled in arrival order.
func (d *Dispatcher) Run(ctx context.Context, src watch.Source) error {
	if err := d.Prepare(); err != nil {
		return err
	}

	workers := d.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	shards := make([]chan watch.Event, workers)
	var wg sync.WaitGroup
	for i := range shards {
		shards[i] = make(chan watch.Event, 64)
		wg.Add(1)
		go func(ch <-chan watch.Event) {
			defer wg.Done()
			for ev := range ch {
				d.handle(ctx, ev)
			}
		}(shards[i])
	}
	defer func() {
		for _, ch := range shards {
			close(ch)
		}
		wg.Wait()
	}()

	d.logger.Info("watching for job descriptors",
		"watch_root", d.cfg.WatchRoot,
		"queue_dir", d.cfg.QueueDir,
		"failed_dir", d.cfg.FailedDir,
		"descriptor", d.cfg.DescriptorName,
		"workers", workers,
	)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("stopping watch", "reason", context.Cause(ctx))
			return nil
		case ev, ok := <-src.Events():
			if !ok {
				d.logger.Info("event source closed")
				return nil
			}
			if !d.accept(ev) {
				continue
			}
			select {
			case shards[shardFor(ev.Dir, workers)] <- ev:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// accept keeps only settled writes of the descriptor file.
func (d *Dispatcher) accept(ev watch.Event) bool {
	if ev.Name != d.cfg.DescriptorName {
		return false
	}
	if !ev.Op.Settled() {
		d.logger.Debug("ignoring descriptor event", "op", ev.Op.String(), "path", ev.Path())
		return false
	}
	return true
}

func shardFor(dir string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(dir))
	return int(h.Sum32() % uint32(n))
}

func (d *Dispatcher) handle(ctx context.Context, ev watch.Event) {
	path := ev.Path()
	traceID := uuid.NewString()
	logger := d.logger.With("trace_id", traceID, "job_file", path)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while processing job file", "panic", r, "stack", string(debug.Stack()))
			d.recorder.Emit(events.TypeProcessingFailed, nil, &path, map[string]string{
				"trace_id": traceID,
				"error":    fmt.Sprint(r),
			})
		}
	}()

	logger.Info("job file detected", "op", ev.Op.String())

	select {
	case <-ctx.Done():
		logger.Info("dropping job file, shutting down")
		return
	case <-time.After(d.cfg.Debounce):
	}

	if _, err := d.process(path, traceID, logger); err != nil {
		logger.Error("processing job file failed", "error", err)
		d.recorder.Emit(events.TypeProcessingFailed, nil, &path, map[string]string{
			"trace_id": traceID,
			"error":    err.Error(),
		})
	}
}

// ProcessFile validates the descriptor at path and writes the matching queue
// or failure record. The returned error is set only when the record could
// not be written; a rejected descriptor is a successful Outcome.
func (d *Dispatcher) ProcessFile(path string) (Outcome, error) {
	traceID := uuid.NewString()
	return d.process(path, traceID, d.logger.With("trace_id", traceID, "job_file", path))
}

func (d *Dispatcher) process(path, traceID string, logger *slog.Logger) (Outcome, error) {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	res := d.validator.Validate(path)
	now := d.now()
	timestamp := now.Format(TimestampLayout)

	if res.Valid() {
		return d.enqueue(path, res.Descriptor, now, timestamp, traceID, logger)
	}
	return d.reject(path, res, now, timestamp, traceID, logger)
}

func (d *Dispatcher) enqueue(path string, desc *validator.Descriptor, now time.Time, timestamp, traceID string, logger *slog.Logger) (Outcome, error) {
	jobName := naming.JobName(desc)
	p, err := preset.Resolve(desc.Preset)
	if err != nil {
		return Outcome{}, fmt.Errorf("resolving preset for %s: %w", jobName, err)
	}

	record, err := writeRecord(d.cfg.QueueDir, timestamp+"_"+jobName, func(stem string) any {
		return buildMetadata(path, desc, jobName, stem, p, now)
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("writing queue record for %s: %w", jobName, err)
	}

	payload := map[string]any{
		"trace_id": traceID,
		"record":   record,
		"gpu":      desc.GPU,
		"preset":   p.Name,
	}
	if dir, want := filepath.Base(filepath.Dir(path)), naming.UserDirName(desc); dir != want {
		logger.Warn("user directory does not match descriptor", "user_dir", dir, "expected", want)
		payload["expected_user_dir"] = want
	}

	logger.Info("job queued", "job_name", jobName, "record", record, "gpu", desc.GPU, "preset", p.Name)
	d.recorder.Emit(events.TypeJobQueued, &jobName, &path, payload)
	return Outcome{Valid: true, JobName: jobName, Record: record}, nil
}

func (d *Dispatcher) reject(path string, res validator.Result, now time.Time, timestamp, traceID string, logger *slog.Logger) (Outcome, error) {
	errs := res.Errors()
	userDir := filepath.Base(filepath.Dir(path))

	var data any
	if validator.Truthy(res.Data) {
		data = res.Data
	}
	failure := models.FailureRecord{
		JobFile:  path,
		FailedAt: now.Format(ISOLayout),
		Errors:   errs,
		Data:     data,
	}

	record, err := writeRecord(d.cfg.FailedDir, timestamp+"_"+userDir, func(string) any {
		return failure
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("writing failure record for %s: %w", path, err)
	}

	logger.Warn("job rejected", "kind", res.Err.Kind.String(), "error", res.Err.Message, "record", record)
	d.recorder.Emit(events.TypeJobRejected, nil, &path, map[string]any{
		"trace_id": traceID,
		"record":   record,
		"kind":     res.Err.Kind.String(),
		"errors":   errs,
	})
	return Outcome{Record: record, Errors: errs}, nil
}

func buildMetadata(path string, desc *validator.Descriptor, jobName, jobID string, p preset.Preset, now time.Time) models.JobMetadata {
	userDir := filepath.Dir(path)
	meta := models.JobMetadata{
		JobName:     jobName,
		JobID:       jobID,
		SubmittedAt: now.Format(ISOLayout),
		Status:      models.JobStatusQueued,
		Type:        desc.Type,
		ID:          desc.ID,
		Resource: models.Resource{
			GPU:    desc.GPU,
			Preset: p.Name,
			CPU:    p.CPU,
			Memory: p.Memory,
		},
		Script: desc.Script,
		Paths: models.Paths{
			JobSpec:    path,
			UserDir:    userDir,
			ScriptPath: filepath.Join(userDir, desc.Script),
		},
	}
	if validator.Truthy(desc.Index) {
		meta.Index = desc.Index
	}
	if len(desc.Data) > 0 {
		meta.Data = desc.Data
		meta.Paths.DataDir = filepath.Join(userDir, validator.DataDirName)
	}
	return meta
}
