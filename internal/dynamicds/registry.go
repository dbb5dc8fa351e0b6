// Package dynamicds keeps the append-only set of datasources active at each height: the
// manifest's static datasources followed by datasources that mapping handlers created from
// templates at runtime.
package dynamicds

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/goran-ethernal/ChainMapper/internal/common"
	"github.com/goran-ethernal/ChainMapper/internal/logger"
	"github.com/goran-ethernal/ChainMapper/pkg/project"
	"github.com/russross/meddler"
)

// Entry is one persisted dynamic datasource.
type Entry struct {
	Seq         uint64         `meddler:"seq" json:"seq"`
	Template    string         `meddler:"template" json:"template"`
	StartHeight uint64         `meddler:"start_height" json:"startHeight"`
	Args        map[string]any `meddler:"args,json" json:"args,omitempty"`
	CreatedAt   uint64         `meddler:"created_at_height" json:"createdAtHeight"`

	Datasource *project.Datasource `meddler:"-" json:"datasource"`
}

// Registry is the active datasource set. Registration is serialized through the commit path, so
// readers only ever see datasources whose creating block is durable.
type Registry struct {
	mu        sync.RWMutex
	static    []*project.Datasource
	templates map[string]*project.Datasource
	dynamic   []*Entry
	version   uint64
	log       *logger.Logger
}

// New creates a registry for the datasources and templates of manifest.
func New(manifest *project.Manifest, log *logger.Logger) *Registry {
	templates := make(map[string]*project.Datasource, len(manifest.Templates))
	for _, t := range manifest.Templates {
		templates[t.Name] = t
	}

	return &Registry{
		static:    manifest.DataSources,
		templates: templates,
		log:       log.WithComponent(common.ComponentRegistry),
	}
}

// Materialize instantiates a template into a datasource starting at start. An "address" argument
// overrides the template's options.address.
func (r *Registry) Materialize(template string, args map[string]any, start uint64) (*Entry, error) {
	tmpl, ok := r.templates[template]
	if !ok {
		return nil, fmt.Errorf("unknown datasource template %q", template)
	}

	ds := tmpl.Clone()
	ds.StartBlock = start

	if raw, ok := args["address"]; ok {
		address, isString := raw.(string)
		if !isString || !project.IsAddress(address) {
			return nil, fmt.Errorf("template %s: invalid address argument %v", template, raw)
		}
		if ds.Options == nil {
			ds.Options = &project.Options{}
		}
		ds.Options.Address = address
	}

	return &Entry{
		Template:    template,
		StartHeight: start,
		Args:        args,
		CreatedAt:   start,
		Datasource:  ds,
	}, nil
}

// Load replaces the dynamic set with the persisted one.
func (r *Registry) Load(ctx context.Context, database *sql.DB) error {
	var rows []*Entry
	if err := meddler.QueryAll(database, &rows, "SELECT * FROM dynamic_datasources ORDER BY seq ASC"); err != nil {
		return fmt.Errorf("failed to load dynamic datasources: %w", err)
	}

	entries := make([]*Entry, 0, len(rows))
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}

		entry, err := r.Materialize(row.Template, row.Args, row.StartHeight)
		if err != nil {
			return fmt.Errorf("dynamic datasource %d: %w", row.Seq, err)
		}
		entry.Seq = row.Seq
		entry.CreatedAt = row.CreatedAt
		entries = append(entries, entry)
	}

	r.mu.Lock()
	r.dynamic = entries
	r.version++
	r.mu.Unlock()

	r.log.Infof("loaded %d dynamic datasources", len(entries))
	dynamicSet(len(entries))

	return nil
}

// PersistTx writes entries inside the commit transaction of the block that created them and
// assigns their sequence numbers.
func (r *Registry) PersistTx(tx *sql.Tx, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}

	var next uint64
	if err := tx.QueryRow("SELECT COALESCE(MAX(seq), 0) FROM dynamic_datasources").Scan(&next); err != nil {
		return fmt.Errorf("failed to read datasource sequence: %w", err)
	}

	for _, e := range entries {
		next++
		e.Seq = next
		if err := meddler.Insert(tx, "dynamic_datasources", e); err != nil {
			return fmt.Errorf("failed to persist dynamic datasource %s: %w", e.Template, err)
		}
	}
	return nil
}

// Register makes committed entries active.
func (r *Registry) Register(entries ...*Entry) {
	if len(entries) == 0 {
		return
	}

	r.mu.Lock()
	r.dynamic = append(r.dynamic, entries...)
	r.version++
	n := len(r.dynamic)
	r.mu.Unlock()

	for _, e := range entries {
		r.log.Infof("registered dynamic datasource %d from template %s at height %d", e.Seq, e.Template, e.StartHeight)
	}
	dynamicSet(n)
}

// RewindTx deletes every persisted datasource created at or above height.
func (r *Registry) RewindTx(tx *sql.Tx, height uint64) error {
	if _, err := tx.Exec("DELETE FROM dynamic_datasources WHERE created_at_height >= ?", height); err != nil {
		return fmt.Errorf("failed to rewind dynamic datasources: %w", err)
	}
	return nil
}

// Rewind drops active datasources created at or above height, once RewindTx is committed.
func (r *Registry) Rewind(height uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.dynamic[:0:0]
	for _, e := range r.dynamic {
		if e.CreatedAt < height {
			kept = append(kept, e)
		}
	}
	if len(kept) != len(r.dynamic) {
		r.log.Infof("dropped %d dynamic datasources created at or above %d", len(r.dynamic)-len(kept), height)
		r.dynamic = kept
		r.version++
		dynamicSet(len(kept))
	}
}

// ActiveAt returns the datasources active at height: static ones in manifest order, then dynamic
// ones in registration order.
func (r *Registry) ActiveAt(height uint64) []*project.Datasource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*project.Datasource, 0, len(r.static)+len(r.dynamic))
	for _, ds := range r.static {
		if ds.StartBlock <= height {
			out = append(out, ds)
		}
	}
	for _, e := range r.dynamic {
		if e.StartHeight <= height {
			out = append(out, e.Datasource)
		}
	}
	return out
}

// All returns every static datasource and every registered dynamic datasource regardless of height.
func (r *Registry) All() []*project.Datasource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := append([]*project.Datasource{}, r.static...)
	for _, e := range r.dynamic {
		out = append(out, e.Datasource)
	}
	return out
}

// Dynamic returns the registered dynamic entries.
func (r *Registry) Dynamic() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Entry{}, r.dynamic...)
}

// Version changes whenever the active set changes. Plans computed under an older version are stale.
func (r *Registry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}
