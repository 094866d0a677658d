package corpus

import (
	"context"
	"sync"
	"sync/atomic"
)

// Holder publishes the active index. Readers call Load once per session and
// keep the snapshot; a rebuild never disturbs a snapshot in use.
type Holder struct {
	cur atomic.Pointer[Index]
	mu  sync.Mutex // serialises Rebuild
}

// Load returns the active index, or nil if none has been published.
func (h *Holder) Load() *Index {
	return h.cur.Load()
}

// Swap publishes x and returns the previous index.
func (h *Holder) Swap(x *Index) *Index {
	return h.cur.Swap(x)
}

// Rebuild runs build while holding the rebuild lock and publishes its
// result. A failed build leaves the active index in place.
func (h *Holder) Rebuild(ctx context.Context, build func(context.Context) (*Index, error)) (*Index, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	x, err := build(ctx)
	if err != nil {
		return nil, err
	}
	h.cur.Store(x)
	return x, nil
}
