// Package sandbox runs project mapping handlers and custom datasource processors in isolated
// JavaScript runtimes with a bounded capability surface.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/goran-ethernal/ChainMapper/internal/logger"
	"github.com/goran-ethernal/ChainMapper/pkg/config"
	"github.com/goran-ethernal/ChainMapper/pkg/project"
)

// Sources resolves mapping, processor and asset files to their contents.
type Sources interface {
	Source(file string) (string, bool)
	Assets(ds *project.Datasource) map[string]string
}

// Executor owns the compiled modules of one executing unit. Modules are never shared between
// executors, so user code global state stays confined to one worker.
type Executor struct {
	timeout      time.Duration
	allowHTTP    bool
	allowedHosts []string
	httpClient   *http.Client
	sources      Sources
	log          *logger.Logger

	mu         sync.Mutex
	modules    *lru.Cache[string, *Module]
	processors map[string]*Processor
	compiling  singleflight.Group
}

// NewExecutor creates an executor. cfg defaults must already be applied.
func NewExecutor(cfg config.SandboxConfig, sources Sources, log *logger.Logger) (*Executor, error) {
	size := cfg.ModuleCacheSize
	if size <= 0 {
		size = 1
	}
	cache, err := lru.New[string, *Module](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create module cache: %w", err)
	}

	timeout := cfg.HandlerTimeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Second //nolint:mnd
	}

	return &Executor{
		timeout:      timeout,
		allowHTTP:    cfg.AllowHTTP,
		allowedHosts: cfg.AllowedHosts,
		httpClient:   &http.Client{Timeout: timeout},
		sources:      sources,
		log:          log,
		modules:      cache,
		processors:   make(map[string]*Processor),
	}, nil
}

// Module returns the compiled module for file, compiling it on first use. Top-level module code
// runs under the handler timeout and ctx, and concurrent first uses of a file share one compile.
func (e *Executor) Module(ctx context.Context, file string) (*Module, error) {
	if m, ok := e.cached(file); ok {
		return m, nil
	}

	v, err, _ := e.compiling.Do(file, func() (any, error) {
		if m, ok := e.cached(file); ok {
			return m, nil
		}

		src, ok := e.sources.Source(file)
		if !ok {
			return nil, &ExecutionError{Kind: KindContract, Handler: file, Err: fmt.Errorf("source %s not loaded", file)}
		}

		m, err := e.compile(ctx, file, src)
		if err != nil {
			return nil, err
		}

		e.mu.Lock()
		e.modules.Add(file, m)
		e.mu.Unlock()

		e.log.Debugw("compiled module", "file", file)
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Module), nil
}

func (e *Executor) cached(file string) (*Module, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.modules.Get(file)
}

// Execute runs the named handler of the datasource's mapping module with input. Mutations reach
// the entity store only through caps.
func (e *Executor) Execute(
	ctx context.Context, ds *project.Datasource, handler string, height uint64, input any, caps Capabilities,
) error {
	m, err := e.Module(ctx, ds.Mapping.File)
	if err != nil {
		return err
	}

	fn, ok := m.function(handler)
	if !ok {
		return &ExecutionError{
			Kind:    KindContract,
			Handler: handler,
			Height:  height,
			Err:     fmt.Errorf("%s does not export function %s", ds.Mapping.File, handler),
		}
	}

	_, err = m.invoke(ctx, handler, height, caps, fn, input)
	return err
}

// Processor returns the validated processor of a custom datasource.
func (e *Executor) Processor(ctx context.Context, ds *project.Datasource) (*Processor, error) {
	if ds.Processor == nil {
		return nil, &ExecutionError{Kind: KindContract, Handler: string(ds.Kind), Err: fmt.Errorf("datasource %s has no processor", ds.Name)}
	}

	m, err := e.Module(ctx, ds.Processor.File)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	p, ok := e.processors[ds.Processor.File]
	if !ok || p.module != m {
		p = newProcessor(m)
		e.processors[ds.Processor.File] = p
	}
	e.mu.Unlock()

	if err := p.validate(ctx, ds, e.sources.Assets(ds)); err != nil {
		return nil, err
	}
	return p, nil
}

// jsValue converts v into plain maps and slices using its json encoding.
func jsValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
