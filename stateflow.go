// Package stateflow provides a top-level convenience entry point for
// embedding the durable execution engine without the HTTP server.
//
// Usage:
//
//	import "github.com/BaSui01/stateflow"
//
//	eng := stateflow.New()
//	eng.Runs.Register("greet", scheduler.ComputationFunc(greet))
//	run, err := eng.Runs.Submit(ctx, scheduler.SubmitRequest{...})
//
// All components default to the in-memory backends; use the options to
// swap in the gorm or redis implementations.
package stateflow

import (
	"go.uber.org/zap"

	"github.com/BaSui01/stateflow/checkpoint"
	"github.com/BaSui01/stateflow/scheduler"
	"github.com/BaSui01/stateflow/store"
	"github.com/BaSui01/stateflow/thread"
)

// Engine bundles the three engine surfaces: the thread registry, the run
// scheduler, and the namespaced KV store.
type Engine struct {
	Threads *thread.Registry
	Runs    *scheduler.Scheduler
	Store   store.Store
}

type options struct {
	logger      *zap.Logger
	threadStore thread.ThreadStore
	log         checkpoint.Log
	runs        scheduler.RunStore
	kv          store.Store
	webhooks    *scheduler.WebhookNotifier
	sched       scheduler.Options
}

// Option configures the engine created by [New].
type Option func(*options)

// WithLogger sets the structured logger. Defaults to zap.NewNop.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithThreadStore swaps the thread persistence backend.
func WithThreadStore(s thread.ThreadStore) Option {
	return func(o *options) { o.threadStore = s }
}

// WithCheckpointLog swaps the checkpoint log backend.
func WithCheckpointLog(l checkpoint.Log) Option {
	return func(o *options) { o.log = l }
}

// WithRunStore swaps the run record backend.
func WithRunStore(s scheduler.RunStore) Option {
	return func(o *options) { o.runs = s }
}

// WithStore swaps the KV store backend.
func WithStore(s store.Store) Option {
	return func(o *options) { o.kv = s }
}

// WithWebhooks enables completion webhooks.
func WithWebhooks(n *scheduler.WebhookNotifier) Option {
	return func(o *options) { o.webhooks = n }
}

// WithSchedulerOptions tunes run timeouts and queue depth.
func WithSchedulerOptions(opts scheduler.Options) Option {
	return func(o *options) { o.sched = opts }
}

// New creates an engine with in-memory backends unless overridden.
func New(opts ...Option) *Engine {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.threadStore == nil {
		o.threadStore = thread.NewMemoryStore()
	}
	if o.log == nil {
		o.log = checkpoint.NewMemoryLog()
	}
	if o.runs == nil {
		o.runs = scheduler.NewMemoryRunStore()
	}
	if o.kv == nil {
		o.kv = store.NewMemoryStore()
	}

	registry := thread.NewRegistry(o.threadStore, o.log, o.logger)
	sched := scheduler.New(registry, o.runs, o.webhooks, o.logger, o.sched)

	return &Engine{
		Threads: registry,
		Runs:    sched,
		Store:   o.kv,
	}
}
