// Package table holds the routing table and its atomically published snapshot.
package table

import (
	"sort"

	"go.uber.org/atomic"

	siteerrors "github.com/LiamSnow/liamsnow.com/internal/errors"
	"github.com/LiamSnow/liamsnow.com/internal/route"
)

// Table maps URL paths to compiled routes. A Table is never modified after
// Build returns it.
type Table struct {
	routes map[string]*route.Route
}

// Lookup returns the route for an exact URL path.
func (t *Table) Lookup(path string) (*route.Route, bool) {
	r, ok := t.routes[path]
	return r, ok
}

// LookupBytes is Lookup for a path still sitting in a read buffer. The map
// index with a string conversion does not allocate.
func (t *Table) LookupBytes(path []byte) (*route.Route, bool) {
	r, ok := t.routes[string(path)]
	return r, ok
}

// Len returns the number of routes.
func (t *Table) Len() int {
	return len(t.routes)
}

// URLs returns every routed path in sorted order.
func (t *Table) URLs() []string {
	urls := make([]string, 0, len(t.routes))
	for url := range t.routes {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	return urls
}

// Builder assembles a fresh Table. It is not safe for concurrent use.
type Builder struct {
	routes map[string]*route.Route
}

// NewBuilder creates a builder sized for n routes.
func NewBuilder(n int) *Builder {
	return &Builder{routes: make(map[string]*route.Route, n)}
}

// Add registers a route. Registering the same URL twice is a build error.
func (b *Builder) Add(url string, r *route.Route) error {
	if _, exists := b.routes[url]; exists {
		return siteerrors.NewBuildError(siteerrors.CodeDuplicateURL, "url produced by more than one artifact", nil).
			WithURL(url)
	}
	b.routes[url] = r
	return nil
}

// Build returns the finished Table. The builder must not be used afterwards.
func (b *Builder) Build() *Table {
	t := &Table{routes: b.routes}
	b.routes = nil
	return t
}

// Store publishes the current Table. Readers take a snapshot with Load and keep
// using it for the whole request, even if Publish runs concurrently.
type Store struct {
	current *atomic.Pointer[Table]
}

// NewStore creates a store serving an empty table.
func NewStore() *Store {
	return &Store{current: atomic.NewPointer(&Table{routes: map[string]*route.Route{}})}
}

// Load returns the current snapshot.
func (s *Store) Load() *Table {
	return s.current.Load()
}

// Publish replaces the current table and returns the previous one.
func (s *Store) Publish(t *Table) *Table {
	return s.current.Swap(t)
}
