// Package memory holds in-process implementations of the SKUD stores. They
// honour the same uniqueness and compare-and-swap rules as the SQLite stores
// and are used by tests and the mock integration mode.
package memory

import (
	"maps"
	"time"

	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/store"
)

func paginate[T any](items []T, p store.Page) []T {
	p = p.Normalize()
	start := p.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := min(start+p.Limit, len(items))
	out := make([]T, end-start)
	copy(out, items[start:end])
	return out
}

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}
