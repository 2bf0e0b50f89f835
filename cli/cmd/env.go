package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/ucdsync/adapter"
	redisadapter "github.com/pithecene-io/ucdsync/adapter/redis"
	"github.com/pithecene-io/ucdsync/adapter/webhook"
	"github.com/pithecene-io/ucdsync/cache"
	"github.com/pithecene-io/ucdsync/cli/config"
	"github.com/pithecene-io/ucdsync/log"
	"github.com/pithecene-io/ucdsync/manifest"
	"github.com/pithecene-io/ucdsync/metrics"
	"github.com/pithecene-io/ucdsync/storage"
	"github.com/pithecene-io/ucdsync/upstream"
	"github.com/pithecene-io/ucdsync/workflow"
)

// Backend names for workflow state and the manifest store.
const (
	backendBlob  = "blob"
	backendRedis = "redis"
)

// env holds the configuration and the components built from it for one
// command invocation.
type env struct {
	cfg     *config.Config
	logger  *log.Logger
	metrics *metrics.Collector

	blobs   storage.Store
	closers []io.Closer
}

// loadEnv loads .env files and the config file, then applies global flag
// overrides.
func loadEnv(c *cli.Context) (*env, error) {
	if err := config.LoadEnvFiles(c.StringSlice(EnvFileFlag.Name)...); err != nil {
		return nil, err
	}

	cfg := &config.Config{}
	if path := c.String(ConfigFlag.Name); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if v := c.String(LogLevelFlag.Name); v != "" {
		cfg.LogLevel = v
	}
	if v := c.String(StorageBackendFlag.Name); v != "" {
		cfg.Storage.Backend = v
	}
	if v := c.String(StoragePathFlag.Name); v != "" {
		cfg.Storage.Path = v
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = storage.BackendFS
	}
	if cfg.Storage.Path == "" && cfg.Storage.Backend == storage.BackendFS {
		cfg.Storage.Path = "./ucd-data"
	}
	if cfg.Upstream.BaseURL == "" {
		cfg.Upstream.BaseURL = upstream.DefaultBaseURL
	}

	level := cfg.LogLevel
	if level == "" {
		level = "info"
	}
	stateBackend := cfg.State.Backend
	if stateBackend == "" {
		stateBackend = backendBlob
	}

	return &env{
		cfg:     cfg,
		logger:  log.NewLoggerWithLevel("ucdsync", level),
		metrics: metrics.NewCollector(cfg.Storage.Backend, stateBackend),
	}, nil
}

// close releases every opened component and flushes the logger.
func (e *env) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i].Close(); err != nil {
			e.logger.Warn("close failed", map[string]any{"error": err.Error()})
		}
	}
	_ = e.logger.Sync()
}

func (e *env) track(v any) {
	if c, ok := v.(io.Closer); ok {
		e.closers = append(e.closers, c)
	}
}

// storage opens the configured blob store once.
func (e *env) storage(ctx context.Context) (storage.Store, error) {
	if e.blobs != nil {
		return e.blobs, nil
	}
	s := e.cfg.Storage
	blobs, err := storage.Open(ctx, storage.Config{
		Backend:      s.Backend,
		Path:         s.Path,
		Region:       s.Region,
		Endpoint:     s.Endpoint,
		UsePathStyle: s.S3PathStyle,
		AccessKey:    s.AccessKey,
		SecretKey:    s.SecretKey,
		UseSSL:       s.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", s.Backend, err)
	}
	e.blobs = blobs
	return blobs, nil
}

func (e *env) manifests(ctx context.Context) (manifest.Store, error) {
	m := e.cfg.Manifests
	switch m.Backend {
	case backendRedis:
		store, err := manifest.NewRedisStoreFromURL(m.URL, m.Prefix)
		if err != nil {
			return nil, err
		}
		e.track(store)
		return store, nil
	case backendBlob, "":
		blobs, err := e.storage(ctx)
		if err != nil {
			return nil, err
		}
		return manifest.NewBlobStore(blobs), nil
	default:
		return nil, fmt.Errorf("unknown manifests backend: %s (must be blob or redis)", m.Backend)
	}
}

func (e *env) stateStore() (workflow.StateStore, error) {
	s := e.cfg.State
	switch s.Backend {
	case backendRedis:
		store, err := workflow.NewRedisStateStoreFromURL(s.URL, s.Prefix)
		if err != nil {
			return nil, err
		}
		e.track(store)
		return store, nil
	case backendBlob, "":
		// The engine keeps state in its blob store.
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown state backend: %s (must be blob or redis)", s.Backend)
	}
}

func (e *env) invalidator() (*cache.Invalidator, error) {
	cc := e.cfg.Caches
	if len(cc.Named) == 0 {
		return nil, nil
	}

	var purger cache.Purger
	switch cc.Purger {
	case "http", "":
		purger = cache.NewHTTPPurger(cache.HTTPConfig{
			Method:  cc.Method,
			Headers: cc.Headers,
			Timeout: cc.Timeout.Duration,
		})
	case backendRedis:
		p, err := cache.NewRedisPurgerFromURL(cc.URL, cc.Prefix)
		if err != nil {
			return nil, err
		}
		e.track(p)
		purger = p
	default:
		return nil, fmt.Errorf("unknown cache purger: %s (must be http or redis)", cc.Purger)
	}

	named := make([]cache.NamedCache, len(cc.Named))
	for i, n := range cc.Named {
		named[i] = cache.NamedCache{Name: n.Name, Routes: n.Routes}
	}
	return cache.NewInvalidator(purger, named, cc.Concurrency, e.logger.With(map[string]any{"subsystem": "cache"}), e.metrics), nil
}

func (e *env) adapter() (adapter.Adapter, error) {
	ac := e.cfg.Adapter
	switch ac.Type {
	case "":
		return nil, nil
	case "webhook":
		retries := webhook.DefaultRetries
		if ac.Retries != nil {
			retries = *ac.Retries
		}
		a, err := webhook.New(webhook.Config{
			URL:     ac.URL,
			Headers: ac.Headers,
			Secret:  ac.Secret,
			Timeout: ac.Timeout.Duration,
			Retries: retries,
		})
		if err != nil {
			return nil, err
		}
		e.track(a)
		return a, nil
	case "redis":
		retries := redisadapter.DefaultRetries
		if ac.Retries != nil {
			retries = *ac.Retries
		}
		a, err := redisadapter.New(redisadapter.Config{
			URL:     ac.URL,
			Channel: ac.Channel,
			Timeout: ac.Timeout.Duration,
			Retries: retries,
		})
		if err != nil {
			return nil, err
		}
		e.track(a)
		return a, nil
	default:
		return nil, fmt.Errorf("unknown adapter type: %s (must be webhook or redis)", ac.Type)
	}
}

// engineConfig overlays the workflow section on the engine defaults.
func (e *env) engineConfig() workflow.Config {
	w := e.cfg.Workflow
	wc := workflow.DefaultConfig()
	if w.MaxArchiveBytes > 0 {
		wc.MaxArchiveBytes = w.MaxArchiveBytes
	}
	if w.MaxExtractedBytes > 0 {
		wc.MaxExtractedBytes = w.MaxExtractedBytes
	}
	if w.UploadBatchSize > 0 {
		wc.UploadBatchSize = w.UploadBatchSize
	}
	if w.ValidateConcurrency > 0 {
		wc.ValidateConcurrency = w.ValidateConcurrency
	}
	if w.PurgeTimeout.Duration > 0 {
		wc.PurgeTimeout = w.PurgeTimeout.Duration
	}
	for _, p := range []*workflow.RetryPolicy{&wc.Extract, &wc.Upload, &wc.Validate, &wc.Cleanup} {
		if w.Attempts > 0 {
			p.Attempts = w.Attempts
		}
		if w.RetryBaseDelay.Duration > 0 {
			p.BaseDelay = w.RetryBaseDelay.Duration
		}
		if w.StepTimeout.Duration > 0 {
			p.Timeout = w.StepTimeout.Duration
		}
	}
	return wc
}

// engine wires the upload workflow engine.
func (e *env) engine(ctx context.Context) (*workflow.Engine, error) {
	blobs, err := e.storage(ctx)
	if err != nil {
		return nil, err
	}
	manifests, err := e.manifests(ctx)
	if err != nil {
		return nil, err
	}
	state, err := e.stateStore()
	if err != nil {
		return nil, err
	}
	inv, err := e.invalidator()
	if err != nil {
		return nil, err
	}
	ad, err := e.adapter()
	if err != nil {
		return nil, err
	}
	return workflow.NewEngine(workflow.EngineConfig{
		Blobs:       blobs,
		Manifests:   manifests,
		State:       state,
		Invalidator: inv,
		Adapter:     ad,
		Logger:      e.logger.With(map[string]any{"subsystem": "workflow"}),
		Metrics:     e.metrics,
		Config:      e.engineConfig(),
	})
}

func (e *env) lister() upstream.Lister {
	u := e.cfg.Upstream
	retries := 0
	if u.Retries != nil {
		retries = *u.Retries
		if retries == 0 {
			retries = -1
		}
	}
	return upstream.NewHTTPLister(upstream.HTTPConfig{
		Timeout:      u.Timeout.Duration,
		RetryMax:     retries,
		RetryWaitMin: u.RetryWaitMin.Duration,
		RetryWaitMax: u.RetryWaitMax.Duration,
		UserAgent:    u.UserAgent,
	})
}

func (e *env) discoverer() *upstream.Discoverer {
	return upstream.NewDiscoverer(e.lister(), e.cfg.Upstream.BaseURL)
}

// signalContext cancels on SIGINT or SIGTERM. An interrupted workflow stays
// resumable at its last recorded step.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// infraError turns an infrastructure failure into exit code 2.
func infraError(err error) error {
	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		return err
	}
	return cli.Exit(err.Error(), exitInfra)
}
