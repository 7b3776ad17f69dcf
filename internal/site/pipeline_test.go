package site

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/LiamSnow/liamsnow.com/internal/builder"
	siteerrors "github.com/LiamSnow/liamsnow.com/internal/errors"
	"github.com/LiamSnow/liamsnow.com/internal/route"
	"github.com/LiamSnow/liamsnow.com/internal/table"
	"github.com/LiamSnow/liamsnow.com/internal/watcher"
)

type builderFunc func(ctx context.Context) ([]builder.Artifact, error)

func (f builderFunc) Build(ctx context.Context) ([]builder.Artifact, error) { return f(ctx) }

func static(artifacts ...builder.Artifact) builderFunc {
	return func(context.Context) ([]builder.Artifact, error) { return artifacts, nil }
}

type countingNotifier struct {
	calls atomic.Int32
}

func (n *countingNotifier) Broadcast(context.Context) int {
	n.calls.Inc()
	return 0
}

var page = []byte("<html><head><title>home</title></head><body>" + strings.Repeat("<p>hello</p>", 50) + "</body></html>")

func TestRebuildPublishes(t *testing.T) {
	store := table.NewStore()
	notifier := &countingNotifier{}
	p := NewPipeline(static(
		builder.Artifact{URL: "/", Body: page, Mime: "text/html; charset=utf-8"},
		builder.Artifact{URL: "/logo.png", Body: []byte("\x89PNG"), Mime: "image/png"},
	), store, nil, WithNotifier(notifier), WithWorkers(2))

	require.NoError(t, p.Rebuild(context.Background(), false))

	current := store.Load()
	assert.Equal(t, []string{"/", "/logo.png"}, current.URLs())

	home, ok := current.Lookup("/")
	require.True(t, ok)
	assert.Equal(t, page, route.Body(home.Identity))
	assert.Less(t, len(home.Brotli), len(home.Identity))

	assert.EqualValues(t, 1, notifier.calls.Load())

	stats := p.GetMetrics()
	assert.EqualValues(t, 1, stats.SuccessfulBuilds)
	assert.Equal(t, 2, stats.LastRoutes)
	assert.NoError(t, stats.LastError)
}

func TestFastRebuildSkipsCompression(t *testing.T) {
	store := table.NewStore()
	p := NewPipeline(static(builder.Artifact{URL: "/", Body: page, Mime: "text/html"}), store, nil)

	require.NoError(t, p.Rebuild(context.Background(), true))
	home, _ := store.Load().Lookup("/")
	assert.Equal(t, home.Identity, home.Brotli)
}

func TestFailedRebuildKeepsServing(t *testing.T) {
	store := table.NewStore()
	notifier := &countingNotifier{}

	var fail atomic.Bool
	b := builderFunc(func(context.Context) ([]builder.Artifact, error) {
		if fail.Load() {
			return nil, siteerrors.NewBuildError(siteerrors.CodeBuildCommand, "make failed", errors.New("exit status 2"))
		}
		return []builder.Artifact{{URL: "/", Body: []byte("v1"), Mime: "text/plain"}}, nil
	})
	p := NewPipeline(b, store, nil, WithNotifier(notifier))

	require.NoError(t, p.Rebuild(context.Background(), false))
	before := store.Load()

	fail.Store(true)
	err := p.Rebuild(context.Background(), true)
	require.Error(t, err)
	assert.True(t, siteerrors.IsBuildError(err))

	assert.Same(t, before, store.Load())
	assert.EqualValues(t, 1, notifier.calls.Load())

	stats := p.GetMetrics()
	assert.EqualValues(t, 2, stats.TotalBuilds)
	assert.EqualValues(t, 1, stats.FailedBuilds)
	assert.Equal(t, 1, stats.LastRoutes)
	assert.Error(t, stats.LastError)
}

func TestDuplicateURLsAreAllReported(t *testing.T) {
	store := table.NewStore()
	p := NewPipeline(static(
		builder.Artifact{URL: "/a", Body: []byte("1"), Mime: "text/plain"},
		builder.Artifact{URL: "/a", Body: []byte("2"), Mime: "text/plain"},
		builder.Artifact{URL: "/b", Body: []byte("3"), Mime: "text/plain"},
		builder.Artifact{URL: "/b", Body: []byte("4"), Mime: "text/plain"},
	), store, nil)

	err := p.Rebuild(context.Background(), false)
	require.Error(t, err)

	errs := multierr.Errors(err)
	require.Len(t, errs, 2)
	for _, e := range errs {
		assert.ErrorIs(t, e, siteerrors.NewBuildError(siteerrors.CodeDuplicateURL, "", nil))
	}
	assert.Zero(t, store.Load().Len())
}

func TestReloadScriptInjection(t *testing.T) {
	store := table.NewStore()
	script := []byte("<script>reload()</script>")
	p := NewPipeline(static(
		builder.Artifact{URL: "/", Body: []byte("<head></head>"), Mime: "text/html; charset=utf-8"},
		builder.Artifact{URL: "/raw.txt", Body: []byte("<head></head>"), Mime: "text/plain"},
	), store, nil, WithReloadScript(script))

	require.NoError(t, p.Rebuild(context.Background(), true))

	home, _ := store.Load().Lookup("/")
	assert.Equal(t, "<head><script>reload()</script></head>", string(route.Body(home.Identity)))
	raw, _ := store.Load().Lookup("/raw.txt")
	assert.Equal(t, "<head></head>", string(route.Body(raw.Identity)))
}

func TestCompileDoesNotPublish(t *testing.T) {
	store := table.NewStore()
	p := NewPipeline(static(builder.Artifact{URL: "/", Body: []byte("x"), Mime: "text/plain"}), store, nil)

	tbl, err := p.Compile(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, tbl.Len())
	assert.Zero(t, store.Load().Len())
}

func TestRebuildsNeverOverlap(t *testing.T) {
	active := atomic.NewInt32(0)
	overlapped := atomic.NewBool(false)

	b := builderFunc(func(context.Context) ([]builder.Artifact, error) {
		if active.Inc() > 1 {
			overlapped.Store(true)
		}
		time.Sleep(10 * time.Millisecond)
		active.Dec()
		return []builder.Artifact{{URL: "/", Body: []byte("x"), Mime: "text/plain"}}, nil
	})
	p := NewPipeline(b, table.NewStore(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Rebuild(context.Background(), true))
		}()
	}
	wg.Wait()

	assert.False(t, overlapped.Load())
	assert.EqualValues(t, 5, p.GetMetrics().SuccessfulBuilds)
}

func TestHandleChangesRebuildsFast(t *testing.T) {
	store := table.NewStore()
	p := NewPipeline(static(builder.Artifact{URL: "/", Body: page, Mime: "text/html"}), store, nil)

	var handler watcher.ChangeHandler = p.HandleChanges
	require.NoError(t, handler(context.Background(), []watcher.ChangeEvent{{Type: watcher.EventTypeModified, Path: "index.html"}}))

	home, ok := store.Load().Lookup("/")
	require.True(t, ok)
	assert.Equal(t, home.Identity, home.Brotli)
}
