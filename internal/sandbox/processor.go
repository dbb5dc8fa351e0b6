package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dop251/goja"
	"github.com/goran-ethernal/ChainMapper/pkg/project"
)

// Processor resolves the custom handler kinds of a custom datasource onto runtime kinds.
type Processor struct {
	module *Module

	mu        sync.Mutex
	validated map[string]struct{}
}

// handlerProcessor is one entry of the module's handlerProcessors export.
type handlerProcessor struct {
	base            project.HandlerKind
	filterValidator goja.Callable
	filterProcessor goja.Callable
	transformer     goja.Callable
}

func newProcessor(m *Module) *Processor {
	return &Processor{
		module:    m,
		validated: make(map[string]struct{}),
	}
}

func dsKey(ds *project.Datasource) string {
	return fmt.Sprintf("%s|%s|%s|%d", ds.Kind, ds.Name, ds.Address(), ds.StartBlock)
}

func (p *Processor) entry(kind project.HandlerKind) (*handlerProcessor, error) {
	m := p.module
	m.mu.Lock()
	defer m.mu.Unlock()

	hp := m.exportLocked("handlerProcessors")
	if hp == nil {
		return nil, errors.New("processor does not export handlerProcessors")
	}
	v := hp.ToObject(m.vm).Get(string(kind))
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, fmt.Errorf("no handler processor for kind %s", kind)
	}
	obj := v.ToObject(m.vm)

	out := &handlerProcessor{}
	if base := obj.Get("baseHandlerKind"); base != nil && !goja.IsUndefined(base) {
		out.base = project.NormalizeHandlerKind(project.HandlerKind(base.String()))
	}
	out.filterValidator, _ = goja.AssertFunction(obj.Get("filterValidator"))
	out.filterProcessor, _ = goja.AssertFunction(obj.Get("filterProcessor"))
	out.transformer, _ = goja.AssertFunction(obj.Get("transformer"))

	return out, nil
}

// validate checks the processor contract against ds once per datasource.
func (p *Processor) validate(ctx context.Context, ds *project.Datasource, assets map[string]string) error {
	key := dsKey(ds)

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.validated[key]; ok {
		return nil
	}

	contract := func(err error) error {
		return &ExecutionError{Kind: KindContract, Handler: p.module.file, Err: err}
	}

	m := p.module
	kind := m.export("kind")
	if kind == nil {
		return contract(errors.New("processor does not export kind"))
	}
	if project.DatasourceKind(kind.String()) != ds.Kind {
		return contract(fmt.Errorf("processor kind %s does not match datasource kind %s", kind.String(), ds.Kind))
	}

	dsValue, err := jsValue(ds)
	if err != nil {
		return contract(err)
	}

	if fn, ok := m.function("validate"); ok {
		if _, err := m.invoke(ctx, "validate", ds.StartBlock, Capabilities{}, fn, dsValue, assets); err != nil {
			return err
		}
	}

	for _, h := range ds.Mapping.Handlers {
		hp, err := p.entry(h.Kind)
		if err != nil {
			return contract(err)
		}
		if !project.IsRuntimeHandlerKind(hp.base) {
			return contract(fmt.Errorf("handler kind %s has base kind %q which is not a runtime kind", h.Kind, hp.base))
		}
		if hp.filterProcessor == nil {
			return contract(fmt.Errorf("handler kind %s has no filterProcessor", h.Kind))
		}
		if hp.filterValidator != nil {
			filter, err := jsValue(h.Filter)
			if err != nil {
				return contract(err)
			}
			if _, err := m.invoke(ctx, "filterValidator", ds.StartBlock, Capabilities{}, hp.filterValidator, filter); err != nil {
				return err
			}
		}
	}

	p.validated[key] = struct{}{}
	return nil
}

// BaseKind returns the runtime handler kind that feeds the custom handler kind.
func (p *Processor) BaseKind(kind project.HandlerKind) (project.HandlerKind, error) {
	hp, err := p.entry(kind)
	if err != nil {
		return "", &ExecutionError{Kind: KindContract, Handler: string(kind), Err: err}
	}
	return hp.base, nil
}

// Match runs the handler's filterProcessor against input.
func (p *Processor) Match(
	ctx context.Context, ds *project.Datasource, h *project.Handler, height uint64, input any,
) (bool, error) {
	hp, err := p.entry(h.Kind)
	if err != nil {
		return false, &ExecutionError{Kind: KindContract, Handler: h.Handler, Height: height, Err: err}
	}

	filter, err := jsValue(h.Filter)
	if err != nil {
		return false, err
	}
	dsValue, err := jsValue(ds)
	if err != nil {
		return false, err
	}

	out, err := p.module.invoke(ctx, "filterProcessor", height, Capabilities{}, hp.filterProcessor, filter, input, dsValue)
	if err != nil {
		return false, err
	}
	matched, _ := out.(bool)
	return matched, nil
}

// Transform converts a matched runtime input into the value handed to the custom handler. Without
// a transformer the input is passed through.
func (p *Processor) Transform(
	ctx context.Context, ds *project.Datasource, h *project.Handler, height uint64, input any,
) (any, error) {
	hp, err := p.entry(h.Kind)
	if err != nil {
		return nil, &ExecutionError{Kind: KindContract, Handler: h.Handler, Height: height, Err: err}
	}
	if hp.transformer == nil {
		return input, nil
	}

	dsValue, err := jsValue(ds)
	if err != nil {
		return nil, err
	}
	return p.module.invoke(ctx, "transformer", height, Capabilities{}, hp.transformer, input, dsValue)
}
