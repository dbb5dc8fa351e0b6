package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/goran-ethernal/ChainMapper/pkg/store"
)

type version struct {
	height  uint64
	data    map[string]any
	deleted bool
}

type entityKey struct {
	entity string
	id     string
}

// Overlay holds the mutations of executed heights that are not committed yet. Handlers of a later
// height read through it so they observe every lower height, committed or not.
type Overlay struct {
	mu       sync.RWMutex
	versions map[entityKey][]version
}

// NewOverlay returns an empty overlay.
func NewOverlay() *Overlay {
	return &Overlay{versions: make(map[entityKey][]version)}
}

// Add records the mutations of height. Heights must be added in ascending order.
func (o *Overlay) Add(height uint64, mutations []store.Mutation) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, m := range mutations {
		k := entityKey{m.Entity, m.ID}
		v := version{height: height, data: m.Data, deleted: m.Op == store.OpRemove}

		vs := o.versions[k]
		if n := len(vs); n > 0 && vs[n-1].height == height {
			vs[n-1] = v
		} else {
			vs = append(vs, v)
		}
		o.versions[k] = vs
	}
}

// Release forgets every version at or below height, once it is durable in the store.
func (o *Overlay) Release(height uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for k, vs := range o.versions {
		i := sort.Search(len(vs), func(i int) bool { return vs[i].height > height })
		if i == len(vs) {
			delete(o.versions, k)
			continue
		}
		o.versions[k] = vs[i:]
	}
}

// DropFrom forgets every version at or above height.
func (o *Overlay) DropFrom(height uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for k, vs := range o.versions {
		i := sort.Search(len(vs), func(i int) bool { return vs[i].height >= height })
		if i == 0 {
			delete(o.versions, k)
			continue
		}
		o.versions[k] = vs[:i]
	}
}

// Len returns the number of entities with pending versions.
func (o *Overlay) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.versions)
}

func (o *Overlay) lookup(entity, id string, below uint64) (version, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	vs := o.versions[entityKey{entity, id}]
	i := sort.Search(len(vs), func(i int) bool { return vs[i].height >= below })
	if i == 0 {
		return version{}, false
	}
	return vs[i-1], true
}

// View returns a reader of the state visible to handlers of height: pending versions below height
// first, then the committed store.
func (o *Overlay) View(base store.Reader, height uint64) store.Reader {
	return &overlayReader{overlay: o, base: base, height: height}
}

type overlayReader struct {
	overlay *Overlay
	base    store.Reader
	height  uint64
}

func (r *overlayReader) Get(ctx context.Context, entity, id string) (map[string]any, bool, error) {
	if v, ok := r.overlay.lookup(entity, id, r.height); ok {
		if v.deleted {
			return nil, false, nil
		}
		return copyData(v.data), true, nil
	}
	return r.base.Get(ctx, entity, id)
}

// BlockWriter buffers the mutations of one block. Reads observe the block's own writes first.
type BlockWriter struct {
	base      store.Reader
	pending   map[entityKey]version
	mutations []store.Mutation
}

// NewBlockWriter returns a writer reading through base.
func NewBlockWriter(base store.Reader) *BlockWriter {
	return &BlockWriter{
		base:    base,
		pending: make(map[entityKey]version),
	}
}

// Get reads an entity.
func (w *BlockWriter) Get(ctx context.Context, entity, id string) (map[string]any, bool, error) {
	if v, ok := w.pending[entityKey{entity, id}]; ok {
		if v.deleted {
			return nil, false, nil
		}
		return copyData(v.data), true, nil
	}
	return w.base.Get(ctx, entity, id)
}

// Set stores an entity value. The value is normalised through JSON so that stored and pending
// values look the same to handlers.
func (w *BlockWriter) Set(entity, id string, data map[string]any) error {
	if entity == "" || id == "" {
		return fmt.Errorf("entity and id are required")
	}

	normalised, err := normalise(data)
	if err != nil {
		return fmt.Errorf("entity %s/%s: %w", entity, id, err)
	}

	w.pending[entityKey{entity, id}] = version{data: normalised}
	w.mutations = append(w.mutations, store.Mutation{Op: store.OpSet, Entity: entity, ID: id, Data: normalised})
	return nil
}

// Remove deletes an entity.
func (w *BlockWriter) Remove(entity, id string) error {
	if entity == "" || id == "" {
		return fmt.Errorf("entity and id are required")
	}

	w.pending[entityKey{entity, id}] = version{deleted: true}
	w.mutations = append(w.mutations, store.Mutation{Op: store.OpRemove, Entity: entity, ID: id})
	return nil
}

// Mutations returns the writes in the order they were made.
func (w *BlockWriter) Mutations() []store.Mutation {
	return w.mutations
}

// Canonical is the deterministic encoding of a mutation list used for proof-of-index digests.
func Canonical(mutations []store.Mutation) ([]byte, error) {
	if len(mutations) == 0 {
		return []byte("[]"), nil
	}
	// map keys are sorted by encoding/json and values are already normalised
	return json.Marshal(mutations)
}

func normalise(data map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any)
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func copyData(data map[string]any) map[string]any {
	out, err := normalise(data)
	if err != nil {
		return data
	}
	return out
}
