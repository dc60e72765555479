// Package engine wires the recompute pipeline together at startup.
//
// Start runs the bootstrap in a fixed order: initialisation gate, model
// registry, formula set, trigger index, reactor, and finally the change feed
// consumer. The feed is not read before every formula has resolved.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	recalcerr "github.com/aevon-lab/recalc/internal/core/errors"
	"github.com/aevon-lab/recalc/internal/core/storage"
	"github.com/aevon-lab/recalc/internal/formula"
	"github.com/aevon-lab/recalc/internal/hierarchy"
	"github.com/aevon-lab/recalc/internal/model"
	"github.com/aevon-lab/recalc/internal/reactor"
	"github.com/aevon-lab/recalc/internal/trigger"
)

// State is the bootstrap phase the engine is in.
type State string

const (
	StateIdle           State = "idle"
	StateWaitingForInit State = "waiting_for_init"
	StateNotInitialized State = "not_initialized"
	StateCompiling      State = "compiling"
	StateRunning        State = "running"
	StateStopped        State = "stopped"
	StateFailed         State = "failed"
)

const defaultInitModel = "user"

// Options configures the engine.
type Options struct {
	// InitModel is the model whose first record marks the platform as initialised.
	InitModel string
	// InitPollInterval keeps re-checking initialisation; zero checks once.
	InitPollInterval time.Duration
	StrictFormulas   bool
	WorkerCount      int
	QueueSize        int
	Retry            storage.RetryPolicy
	Reactor          reactor.Options
	Consumer         reactor.ConsumerOptions

	// ModelSource overrides where model definitions come from. Defaults to the store.
	ModelSource storage.ModelStore
	// Notifier wakes the consumer on new changes. Optional.
	Notifier storage.Notifier
}

// Status is a snapshot of the engine for the status API.
type Status struct {
	State          State             `json:"state"`
	Initialized    bool              `json:"initialized"`
	Models         int               `json:"models"`
	Formulas       int               `json:"formulas"`
	FailedFormulas map[string]string `json:"failed_formulas,omitempty"`
	IndexSize      int               `json:"index_size"`
	Cursor         int64             `json:"cursor"`
	StartedAt      *time.Time        `json:"started_at,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// Engine owns the process-scoped pipeline values.
type Engine struct {
	store    storage.Store
	compiler formula.Compiler
	opts     Options

	mu       sync.RWMutex
	status   Status
	consumer *reactor.Consumer
}

// New creates an engine. Nothing is loaded until Start.
func New(store storage.Store, compiler formula.Compiler, opts Options) *Engine {
	if opts.InitModel == "" {
		opts.InitModel = defaultInitModel
	}
	if opts.ModelSource == nil {
		opts.ModelSource = store
	}
	return &Engine{
		store:    store,
		compiler: compiler,
		opts:     opts,
		status:   Status{State: StateIdle},
	}
}

// Initialized reports whether a record of the init model exists.
func (e *Engine) Initialized(ctx context.Context) (bool, error) {
	_, err := e.store.FindOne(ctx, storage.Filter{ModelKey: e.opts.InitModel})
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check initialisation: %w", err)
	}
	return true, nil
}

// Start bootstraps the pipeline and consumes the change feed until ctx is
// cancelled. It returns recalcerr.ErrNotInitialized when the platform is not
// initialised and polling is disabled.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.awaitInitialized(ctx); err != nil {
		return err
	}

	e.setState(StateCompiling)
	registry, err := model.Load(ctx, e.opts.ModelSource)
	if err != nil {
		return e.fail(fmt.Errorf("load models: %w", err))
	}

	records := storage.NewRetryingStore(e.store, e.opts.Retry)

	set, err := formula.BuildSet(ctx, e.compiler, registry, records, formula.SetOptions{Strict: e.opts.StrictFormulas})
	if err != nil {
		return e.fail(fmt.Errorf("build formula set: %w", err))
	}

	index, err := trigger.FromFormulaSet(set)
	if err != nil {
		return e.fail(fmt.Errorf("build trigger index: %w", err))
	}

	resolver := hierarchy.NewResolver(records, hierarchy.Options{QueryTimeout: e.opts.Reactor.StoreTimeout})
	r, err := reactor.New(index, set, resolver, records, e.opts.Reactor)
	if err != nil {
		return e.fail(fmt.Errorf("create reactor: %w", err))
	}

	pool := reactor.NewPool(r, e.opts.WorkerCount, e.opts.QueueSize)
	defer pool.Stop()

	consumer := reactor.NewConsumer(e.store, e.store, e.opts.Notifier, pool, e.opts.Consumer)
	if err := consumer.Position(ctx); err != nil {
		return e.fail(fmt.Errorf("position change feed consumer: %w", err))
	}

	now := time.Now().UTC()
	e.mu.Lock()
	e.consumer = consumer
	e.status.State = StateRunning
	e.status.Models = len(registry.Keys())
	e.status.Formulas = set.Len()
	e.status.FailedFormulas = errorStrings(set.Failed())
	e.status.IndexSize = index.Size()
	e.status.StartedAt = &now
	e.mu.Unlock()

	slog.Info("[Engine] Pipeline ready",
		"models", len(registry.Keys()),
		"formulas", set.Len(),
		"failed_formulas", len(set.Failed()),
		"index_entries", index.Size(),
	)

	consumer.Run(ctx)
	e.setState(StateStopped)
	return nil
}

// awaitInitialized blocks until the platform is initialised, or fails fast
// when polling is disabled.
func (e *Engine) awaitInitialized(ctx context.Context) error {
	e.setState(StateWaitingForInit)

	var ticker *time.Ticker
	for {
		ok, err := e.Initialized(ctx)
		if err != nil {
			return e.fail(err)
		}
		if ok {
			e.mu.Lock()
			e.status.Initialized = true
			e.mu.Unlock()
			return nil
		}

		if e.opts.InitPollInterval <= 0 {
			e.setState(StateNotInitialized)
			slog.Warn("[Engine] Platform not initialised, reactive processing disabled",
				"init_model", e.opts.InitModel)
			return recalcerr.ErrNotInitialized
		}

		if ticker == nil {
			ticker = time.NewTicker(e.opts.InitPollInterval)
			defer ticker.Stop()
			slog.Info("[Engine] Waiting for platform initialisation",
				"init_model", e.opts.InitModel,
				"poll_interval", e.opts.InitPollInterval)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			e.setState(StateNotInitialized)
			return ctx.Err()
		}
	}
}

// Status returns a snapshot of the engine state.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := e.status
	if e.consumer != nil {
		s.Cursor = e.consumer.Cursor()
	}
	if s.FailedFormulas != nil {
		failed := make(map[string]string, len(s.FailedFormulas))
		for k, v := range s.FailedFormulas {
			failed[k] = v
		}
		s.FailedFormulas = failed
	}
	return s
}

func (e *Engine) setState(state State) {
	e.mu.Lock()
	e.status.State = state
	e.mu.Unlock()
}

func (e *Engine) fail(err error) error {
	e.mu.Lock()
	e.status.State = StateFailed
	e.status.Error = err.Error()
	e.mu.Unlock()
	slog.Error("[Engine] Startup failed", "error", err)
	return err
}

func errorStrings(errs map[string]error) map[string]string {
	if len(errs) == 0 {
		return nil
	}
	out := make(map[string]string, len(errs))
	for k, err := range errs {
		out[k] = err.Error()
	}
	return out
}
