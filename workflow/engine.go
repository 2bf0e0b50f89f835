package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pithecene-io/ucdsync/adapter"
	"github.com/pithecene-io/ucdsync/cache"
	"github.com/pithecene-io/ucdsync/iox"
	"github.com/pithecene-io/ucdsync/log"
	"github.com/pithecene-io/ucdsync/manifest"
	"github.com/pithecene-io/ucdsync/metrics"
	"github.com/pithecene-io/ucdsync/storage"
	"github.com/pithecene-io/ucdsync/types"
)

// Config tunes the engine. Zero fields take the DefaultConfig values.
type Config struct {
	// MaxArchiveBytes is the largest accepted archive.
	MaxArchiveBytes int64
	// MaxExtractedBytes caps the total size of the files in one archive.
	MaxExtractedBytes int64
	// UploadBatchSize is the number of files uploaded concurrently.
	UploadBatchSize int
	// ValidateConcurrency bounds in-flight existence checks.
	ValidateConcurrency int

	Extract  RetryPolicy
	Upload   RetryPolicy
	Validate RetryPolicy
	Cleanup  RetryPolicy

	// PurgeTimeout bounds the whole cache purge step.
	PurgeTimeout time.Duration
	// PublishTimeout bounds the completion event publish.
	PublishTimeout time.Duration
}

// DefaultConfig returns the production engine settings.
func DefaultConfig() Config {
	return Config{
		MaxArchiveBytes:     DefaultMaxArchiveBytes,
		MaxExtractedBytes:   DefaultMaxExtractedBytes,
		UploadBatchSize:     20,
		ValidateConcurrency: 10,
		Extract:             RetryPolicy{Attempts: 3, BaseDelay: time.Second, Timeout: time.Minute},
		Upload:              RetryPolicy{Attempts: 3, BaseDelay: time.Second, Timeout: 5 * time.Minute},
		Validate:            RetryPolicy{Attempts: 3, BaseDelay: time.Second, Timeout: 5 * time.Minute},
		Cleanup:             RetryPolicy{Attempts: 3, BaseDelay: time.Second, Timeout: time.Minute},
		PurgeTimeout:        2 * time.Minute,
		PublishTimeout:      10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxArchiveBytes <= 0 {
		c.MaxArchiveBytes = d.MaxArchiveBytes
	}
	if c.MaxExtractedBytes <= 0 {
		c.MaxExtractedBytes = d.MaxExtractedBytes
	}
	if c.UploadBatchSize <= 0 {
		c.UploadBatchSize = d.UploadBatchSize
	}
	if c.ValidateConcurrency <= 0 {
		c.ValidateConcurrency = d.ValidateConcurrency
	}
	if c.Extract.Attempts <= 0 {
		c.Extract = d.Extract
	}
	if c.Upload.Attempts <= 0 {
		c.Upload = d.Upload
	}
	if c.Validate.Attempts <= 0 {
		c.Validate = d.Validate
	}
	if c.Cleanup.Attempts <= 0 {
		c.Cleanup = d.Cleanup
	}
	if c.PurgeTimeout <= 0 {
		c.PurgeTimeout = d.PurgeTimeout
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = d.PublishTimeout
	}
	return c
}

// EngineConfig wires an Engine.
type EngineConfig struct {
	// Blobs holds archives and uploaded files (required).
	Blobs storage.Store
	// Manifests receives the manifest document of each completed upload.
	// Defaults to a manifest.BlobStore over Blobs.
	Manifests manifest.Store
	// State persists instances and step records. Defaults to a
	// BlobStateStore over Blobs.
	State StateStore
	// Invalidator purges downstream caches; nil skips purging.
	Invalidator *cache.Invalidator
	// Adapter receives completion events; nil skips publishing.
	Adapter adapter.Adapter

	Logger  *log.Logger
	Metrics *metrics.Collector
	Config  Config

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Engine runs upload workflow instances.
type Engine struct {
	blobs       storage.Store
	manifests   manifest.Store
	state       StateStore
	invalidator *cache.Invalidator
	adapter     adapter.Adapter
	logger      *log.Logger
	metrics     *metrics.Collector
	cfg         Config
	now         func() time.Time

	locks keyedMutex
}

// NewEngine creates an engine.
func NewEngine(ec EngineConfig) (*Engine, error) {
	if ec.Blobs == nil {
		return nil, errors.New("workflow engine requires a blob store")
	}
	if ec.Manifests == nil {
		ec.Manifests = manifest.NewBlobStore(ec.Blobs)
	}
	if ec.State == nil {
		ec.State = NewBlobStateStore(ec.Blobs)
	}
	if ec.Now == nil {
		ec.Now = time.Now
	}
	return &Engine{
		blobs:       ec.Blobs,
		manifests:   ec.Manifests,
		state:       ec.State,
		invalidator: ec.Invalidator,
		adapter:     ec.Adapter,
		logger:      ec.Logger,
		metrics:     ec.Metrics,
		cfg:         ec.Config.withDefaults(),
		now:         ec.Now,
	}, nil
}

// StageArchive stores an archive at the key the instance will read it from.
func (e *Engine) StageArchive(ctx context.Context, id, version string, data []byte) error {
	if err := types.ValidateWorkflowID(id); err != nil {
		return err
	}
	if err := types.ValidateVersion(version); err != nil {
		return err
	}
	return e.blobs.Put(ctx, types.ArchiveKey(version, id), data)
}

// Submit creates a pending instance. Submitting an existing ID returns the
// stored instance with created false; a different version for the same ID
// is an error.
func (e *Engine) Submit(ctx context.Context, id, version string) (*Instance, bool, error) {
	if err := types.ValidateWorkflowID(id); err != nil {
		return nil, false, err
	}
	if err := types.ValidateVersion(version); err != nil {
		return nil, false, err
	}

	now := e.now().UTC()
	inst := &Instance{
		ID:         id,
		Version:    version,
		ArchiveKey: types.ArchiveKey(version, id),
		State:      types.StatePending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	created, err := e.state.Create(ctx, inst)
	if err != nil {
		return nil, false, fmt.Errorf("create instance %s: %w", id, err)
	}
	if !created {
		existing, err := e.state.Load(ctx, id)
		if err != nil {
			return nil, false, err
		}
		if existing.Version != version {
			return nil, false, fmt.Errorf("instance %s already exists for version %s", id, existing.Version)
		}
		return existing, false, nil
	}

	e.metrics.IncWorkflowStarted()
	e.logger.Info("workflow submitted", map[string]any{"workflow_id": id, "version": version})
	return inst, true, nil
}

// Status returns the stored instance.
func (e *Engine) Status(ctx context.Context, id string) (*Instance, error) {
	return e.state.Load(ctx, id)
}

// List returns every instance ID.
func (e *Engine) List(ctx context.Context) ([]string, error) {
	return e.state.List(ctx)
}

// Run drives an instance to a terminal state, replaying recorded steps.
//
// A complete instance is returned as is. An errored instance is returned
// with its recorded failure as a *StepError and no work is done. Errors other
// than *StepError (cancellation, state store failures) leave the instance
// resumable at its last recorded step.
func (e *Engine) Run(ctx context.Context, id string) (*Instance, error) {
	unlock := e.locks.lock(id)
	defer unlock()

	inst, err := e.state.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	switch inst.State {
	case types.StateComplete:
		return inst, nil
	case types.StateErrored:
		return inst, &StepError{Step: inst.FailedStep, Err: errors.New(inst.Error)}
	}

	if inst.StartedAt == nil {
		started := e.now().UTC()
		inst.StartedAt = &started
		inst.UpdatedAt = started
		if err := e.state.Save(ctx, inst); err != nil {
			return inst, err
		}
	}

	r := &run{
		engine: e,
		inst:   inst,
		logger: e.logger.With(map[string]any{"workflow_id": inst.ID, "version": inst.Version}),
	}
	return r.execute(ctx)
}

// run is the state of one Run call.
type run struct {
	engine *Engine
	inst   *Instance
	logger *log.Logger
}

func (r *run) execute(ctx context.Context) (*Instance, error) {
	e := r.engine
	version := r.inst.Version

	files, err := runStep(ctx, r, StepExtract, e.cfg.Extract, func(ctx context.Context) ([]ExtractedFile, error) {
		return e.extract(ctx, r.inst, r.logger)
	})
	if err != nil {
		return r.fail(ctx, err)
	}

	uploaded, err := runStep(ctx, r, StepUpload, e.cfg.Upload, func(ctx context.Context) (UploadResult, error) {
		if err := e.upload(ctx, version, files); err != nil {
			return UploadResult{}, err
		}
		e.metrics.AddFilesUploaded(len(files))
		return UploadResult{FilesUploaded: len(files)}, nil
	})
	if err != nil {
		return r.fail(ctx, err)
	}

	// Files found missing by one validation attempt are uploaded again by
	// the next.
	var missing []ExtractedFile
	_, err = runStep(ctx, r, StepValidate, e.cfg.Validate, func(ctx context.Context) (ValidateResult, error) {
		if len(missing) > 0 {
			if err := e.upload(ctx, version, missing); err != nil {
				return ValidateResult{}, err
			}
		}
		// A failed check keeps the previous missing set for the next attempt.
		found, err := e.missingFiles(ctx, version, files)
		if err != nil {
			return ValidateResult{}, err
		}
		missing = found
		if len(missing) > 0 {
			e.metrics.AddMissingFiles(len(missing))
			names := make([]string, len(missing))
			for i, f := range missing {
				names[i] = f.Name
			}
			return ValidateResult{}, &MissingFilesError{Files: names}
		}
		if err := e.manifests.Put(ctx, version, manifestOf(files)); err != nil {
			return ValidateResult{}, err
		}
		return ValidateResult{Validated: true, FileCount: len(files)}, nil
	})
	if err != nil {
		return r.fail(ctx, err)
	}

	purgePolicy := RetryPolicy{Attempts: 1, Timeout: e.cfg.PurgeTimeout}
	_, err = runStep(ctx, r, StepPurge, purgePolicy, func(ctx context.Context) (PurgeResult, error) {
		report := e.invalidator.Invalidate(ctx, version)
		return PurgeResult{Purged: len(report.Purged), Failed: len(report.Failures)}, nil
	})
	if err != nil {
		return r.inst, err
	}

	_, err = runStep(ctx, r, StepCleanup, e.cfg.Cleanup, func(ctx context.Context) (CleanupResult, error) {
		if err := e.blobs.Delete(ctx, r.inst.ArchiveKey); err != nil {
			return CleanupResult{}, err
		}
		return CleanupResult{ArchiveDeleted: true}, nil
	})
	if err != nil {
		var se *StepError
		if !errors.As(err, &se) {
			return r.inst, err
		}
		r.logger.Warn("archive cleanup failed", map[string]any{"key": r.inst.ArchiveKey, "error": se.Err.Error()})
	}

	return r.complete(ctx, uploaded.FilesUploaded)
}

// runStep executes one step under its retry policy and records the result,
// or replays the recorded result when one exists.
func runStep[T any](ctx context.Context, r *run, step string, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	e := r.engine

	data, found, err := e.state.LoadStep(ctx, r.inst.ID, step)
	if err != nil {
		return zero, fmt.Errorf("load step %s: %w", step, err)
	}
	if found {
		var out T
		if err := decodeStep(data, &out); err != nil {
			return zero, fmt.Errorf("replay step %s: %w", step, err)
		}
		e.metrics.IncStepReplay()
		r.logger.Debug("step replayed", map[string]any{"step": step})
		return out, nil
	}

	if err := r.transition(ctx, stepStates[step]); err != nil {
		return zero, err
	}

	var out T
	attempts, err := policy.Do(ctx, func(ctx context.Context) error {
		e.metrics.IncStepAttempt()
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, func(attempt int, err error) {
		e.metrics.IncStepRetry()
		r.logger.Warn("step attempt failed", map[string]any{
			"step":    step,
			"attempt": attempt,
			"error":   err.Error(),
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			return zero, err
		}
		return zero, &StepError{Step: step, Attempts: attempts, Err: err}
	}

	data, err = encodeStep(out)
	if err != nil {
		return zero, err
	}
	stored, err := e.state.SaveStep(ctx, r.inst.ID, step, data)
	if err != nil {
		return zero, fmt.Errorf("record step %s: %w", step, err)
	}
	if !stored {
		// Another run recorded this step first; its result wins.
		data, _, err := e.state.LoadStep(ctx, r.inst.ID, step)
		if err != nil {
			return zero, fmt.Errorf("load step %s: %w", step, err)
		}
		out = zero
		if err := decodeStep(data, &out); err != nil {
			return zero, fmt.Errorf("replay step %s: %w", step, err)
		}
	}

	r.logger.Info("step completed", map[string]any{"step": step, "attempts": attempts})
	return out, nil
}

func (r *run) transition(ctx context.Context, to types.WorkflowState) error {
	from := r.inst.State
	if from == to {
		return nil
	}
	if !allowedTransition(from, to) {
		return fmt.Errorf("workflow %s: invalid transition %s -> %s", r.inst.ID, from, to)
	}
	r.inst.State = to
	r.inst.UpdatedAt = r.engine.now().UTC()
	if err := r.engine.state.Save(ctx, r.inst); err != nil {
		return fmt.Errorf("save instance %s: %w", r.inst.ID, err)
	}
	return nil
}

// fail records a step failure. Errors that are not step failures leave the
// instance untouched.
func (r *run) fail(ctx context.Context, err error) (*Instance, error) {
	var se *StepError
	if !errors.As(err, &se) {
		return r.inst, err
	}
	r.inst.FailedStep = se.Step
	r.inst.Error = se.Err.Error()
	if terr := r.transition(ctx, types.StateErrored); terr != nil {
		return r.inst, errors.Join(err, terr)
	}
	r.engine.metrics.IncWorkflowErrored()
	r.logger.Error("workflow errored", map[string]any{
		"step":     se.Step,
		"attempts": se.Attempts,
		"error":    se.Err.Error(),
	})
	return r.inst, se
}

func (r *run) complete(ctx context.Context, filesUploaded int) (*Instance, error) {
	e := r.engine
	now := e.now().UTC()
	var duration time.Duration
	if r.inst.StartedAt != nil {
		duration = now.Sub(*r.inst.StartedAt)
	}
	r.inst.Output = &Output{
		Success:       true,
		Version:       r.inst.Version,
		FilesUploaded: filesUploaded,
		Duration:      duration.Round(time.Millisecond).String(),
		WorkflowID:    r.inst.ID,
	}
	if err := r.transition(ctx, types.StateComplete); err != nil {
		return r.inst, err
	}
	e.metrics.IncWorkflowCompleted()
	r.logger.Info("workflow complete", map[string]any{
		"files_uploaded": filesUploaded,
		"duration":       r.inst.Output.Duration,
	})

	e.publish(ctx, r.logger, adapter.NewUploadCompletedEvent(r.inst.ID, r.inst.Version, filesUploaded, duration, now))
	return r.inst, nil
}

func (e *Engine) publish(ctx context.Context, logger *log.Logger, event *adapter.UploadCompletedEvent) {
	if e.adapter == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, e.cfg.PublishTimeout)
	defer cancel()
	if err := e.adapter.Publish(pubCtx, event); err != nil {
		logger.Warn("completion event publish failed", map[string]any{"error": err.Error()})
	}
}

func (e *Engine) extract(ctx context.Context, inst *Instance, logger *log.Logger) ([]ExtractedFile, error) {
	rc, err := e.blobs.Get(ctx, inst.ArchiveKey)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, Permanent(fmt.Errorf("archive %s: %w", inst.ArchiveKey, err))
		}
		return nil, err
	}
	defer iox.DiscardClose(rc)

	data, err := iox.ReadAllLimit(rc, e.cfg.MaxArchiveBytes)
	if errors.Is(err, iox.ErrTooLarge) {
		return nil, Permanent(fmt.Errorf("%w: %s is larger than %d bytes", ErrArchiveTooLarge, inst.ArchiveKey, e.cfg.MaxArchiveBytes))
	}
	if err != nil {
		return nil, storage.Wrap(err, "get", inst.ArchiveKey)
	}
	return ExtractArchive(data, ExtractOptions{
		MaxExtractedBytes: e.cfg.MaxExtractedBytes,
		OnDrop: func(name, reason string) {
			logger.Warn("archive entry dropped", map[string]any{"entry": name, "reason": reason})
		},
	})
}

// upload stores files under the version prefix in concurrent batches.
func (e *Engine) upload(ctx context.Context, version string, files []ExtractedFile) error {
	for start := 0; start < len(files); start += e.cfg.UploadBatchSize {
		batch := files[start:min(start+e.cfg.UploadBatchSize, len(files))]
		g, gctx := errgroup.WithContext(ctx)
		for _, f := range batch {
			g.Go(func() error {
				return e.blobs.Put(gctx, types.FileKey(version, f.Name), f.Data)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// missingFiles returns the files that do not exist in storage, in input
// order.
func (e *Engine) missingFiles(ctx context.Context, version string, files []ExtractedFile) ([]ExtractedFile, error) {
	present := make([]bool, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.ValidateConcurrency)
	for i, f := range files {
		g.Go(func() error {
			ok, err := e.blobs.Exists(gctx, types.FileKey(version, f.Name))
			if err != nil {
				return err
			}
			present[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var missing []ExtractedFile
	for i, f := range files {
		if !present[i] {
			missing = append(missing, f)
		}
	}
	return missing, nil
}

func manifestOf(files []ExtractedFile) types.Manifest {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}
	return types.NewManifest(names)
}

// keyedMutex serializes work per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedEntry)
	}
	ent, ok := k.locks[key]
	if !ok {
		ent = &keyedEntry{}
		k.locks[key] = ent
	}
	ent.refs++
	k.mu.Unlock()

	ent.mu.Lock()
	return func() {
		ent.mu.Unlock()
		k.mu.Lock()
		ent.refs--
		if ent.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
