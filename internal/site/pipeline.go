// Package site turns builder output into a published routing table.
//
// A rebuild runs the builder, compiles every artifact in parallel and
// assembles a fresh table. Only a complete table is ever published; any
// failure leaves the previous one serving. Rebuilds never overlap.
package site

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"

	"github.com/LiamSnow/liamsnow.com/internal/builder"
	"github.com/LiamSnow/liamsnow.com/internal/livereload"
	"github.com/LiamSnow/liamsnow.com/internal/logging"
	"github.com/LiamSnow/liamsnow.com/internal/route"
	"github.com/LiamSnow/liamsnow.com/internal/table"
	"github.com/LiamSnow/liamsnow.com/internal/watcher"
)

// Notifier is told about every successful publish.
type Notifier interface {
	Broadcast(ctx context.Context) int
}

// Pipeline rebuilds and publishes the site.
type Pipeline struct {
	builder  builder.Builder
	store    *table.Store
	notifier Notifier
	script   []byte
	workers  int
	logger   logging.Logger
	metrics  *BuildMetrics
	mu       sync.Mutex
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithNotifier broadcasts to n after each publish.
func WithNotifier(n Notifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

// WithReloadScript injects script into the head of every HTML artifact.
func WithReloadScript(script []byte) Option {
	return func(p *Pipeline) { p.script = script }
}

// WithWorkers bounds compile parallelism.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// NewPipeline creates a pipeline publishing into store.
func NewPipeline(b builder.Builder, store *table.Store, logger logging.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}

	p := &Pipeline{
		builder: b,
		store:   store,
		workers: runtime.NumCPU(),
		logger:  logger.WithComponent("site"),
		metrics: NewBuildMetrics(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type compiled struct {
	url   string
	route *route.Route
	err   error
}

// Compile builds a complete table without publishing it. Every failing
// artifact is reported in the returned error.
func (p *Pipeline) Compile(ctx context.Context, fast bool) (*table.Table, error) {
	artifacts, err := p.builder.Build(ctx)
	if err != nil {
		return nil, err
	}

	c := &route.Compiler{Fast: fast, Logger: p.logger}
	results := make([]compiled, len(artifacts))

	workers := pool.New().WithMaxGoroutines(p.workers)
	for i, a := range artifacts {
		workers.Go(func() {
			body := a.Body
			if p.script != nil && strings.HasPrefix(a.Mime, "text/html") {
				body = livereload.Inject(body, p.script)
			}
			r, err := c.Compile(a.URL, body, a.Mime)
			results[i] = compiled{url: a.URL, route: r, err: err}
		})
	}
	workers.Wait()

	var errs error
	b := table.NewBuilder(len(results))
	for _, res := range results {
		if res.err != nil {
			errs = multierr.Append(errs, res.err)
			continue
		}
		errs = multierr.Append(errs, b.Add(res.url, res.route))
	}
	if errs != nil {
		return nil, errs
	}

	return b.Build(), nil
}

// Rebuild compiles and publishes a new table, then notifies live-reload
// clients. On failure the current table keeps serving.
func (p *Pipeline) Rebuild(ctx context.Context, fast bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	perf := logging.StartOperation(p.logger, "rebuild")
	start := time.Now()

	t, err := p.Compile(ctx, fast)
	if err != nil {
		p.metrics.record(time.Since(start), 0, err)
		perf.EndWithError(ctx, err)
		return err
	}

	p.store.Publish(t)
	p.metrics.record(time.Since(start), t.Len(), nil)
	perf.End(ctx, "routes", t.Len(), "fast", fast)

	if p.notifier != nil {
		p.notifier.Broadcast(ctx)
	}
	return nil
}

// HandleChanges is a watcher.ChangeHandler that performs a fast rebuild.
func (p *Pipeline) HandleChanges(ctx context.Context, events []watcher.ChangeEvent) error {
	p.logger.Info(ctx, "Change detected, rebuilding", "files", len(events))
	return p.Rebuild(ctx, true)
}

// GetMetrics returns a snapshot of rebuild statistics.
func (p *Pipeline) GetMetrics() BuildStats {
	return p.metrics.Snapshot()
}
