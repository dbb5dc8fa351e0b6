package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
)

var errHandlerTimeout = errors.New("handler timed out")

// Module is one compiled mapping or processor file with its own runtime. Calls into a module are
// serialized.
type Module struct {
	file    string
	exec    *Executor
	vm      *goja.Runtime
	exports *goja.Object

	mu     sync.Mutex
	active *call
}

func (e *Executor) compile(ctx context.Context, file, src string) (*Module, error) {
	prog, err := goja.Compile(file, "(function(exports, module, require) {\n"+src+"\n})", false)
	if err != nil {
		return nil, &ExecutionError{Kind: KindContract, Handler: file, Err: fmt.Errorf("compile: %w", err)}
	}

	m := &Module{
		file: file,
		exec: e,
		vm:   goja.New(),
	}
	m.vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	m.vm.SetTimeSource(func() time.Time {
		if c := m.active; c != nil {
			return time.Unix(int64(c.caps.Timestamp), 0).UTC() //nolint:gosec
		}
		return time.Unix(0, 0).UTC()
	})

	if err := m.installGlobals(); err != nil {
		return nil, fmt.Errorf("install globals for %s: %w", file, err)
	}

	stop := m.watch(ctx)
	defer stop()

	wrapper, err := m.vm.RunProgram(prog)
	if err != nil {
		return nil, moduleError(file, err)
	}
	fn, ok := goja.AssertFunction(wrapper)
	if !ok {
		return nil, &ExecutionError{Kind: KindContract, Handler: file, Err: errors.New("module wrapper is not callable")}
	}

	exports := m.vm.NewObject()
	mod := m.vm.NewObject()
	if err := mod.Set("exports", exports); err != nil {
		return nil, err
	}
	require := m.vm.ToValue(func(fc goja.FunctionCall) goja.Value {
		err := fmt.Errorf("require(%q): %w", fc.Argument(0).String(), errDisallowed)
		if c := m.active; c != nil {
			m.deny(c, err)
		}
		panic(m.vm.NewGoError(err))
	})

	if _, err := fn(goja.Undefined(), exports, mod, require); err != nil {
		return nil, moduleError(file, err)
	}

	m.exports = mod.Get("exports").ToObject(m.vm)
	moduleLoadsInc()

	return m, nil
}

func moduleError(file string, err error) *ExecutionError {
	ee := classify(nil, err)
	ee.Handler = file
	errorsInc(ee.Kind)
	return ee
}

// watch interrupts the runtime once the call timeout passes or ctx ends. The returned function
// stops watching and clears a pending interrupt so the runtime can be used again.
func (m *Module) watch(ctx context.Context) func() {
	done := make(chan struct{})
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		timer := time.NewTimer(m.exec.timeout)
		defer timer.Stop()
		select {
		case <-timer.C:
			m.vm.Interrupt(errHandlerTimeout)
		case <-ctx.Done():
			m.vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	return func() {
		close(done)
		<-watcherDone
		m.vm.ClearInterrupt()
	}
}

// export returns the exported value name, or nil when the module does not export it.
func (m *Module) export(name string) goja.Value {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exportLocked(name)
}

func (m *Module) exportLocked(name string) goja.Value {
	v := m.exports.Get(name)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return v
}

func (m *Module) function(name string) (goja.Callable, bool) {
	v := m.export(name)
	if v == nil {
		return nil, false
	}
	return goja.AssertFunction(v)
}

// invoke runs fn under the call timeout with caps bound as the current call context. The result
// is exported to a Go value.
func (m *Module) invoke(
	ctx context.Context, name string, height uint64, caps Capabilities, fn goja.Callable, args ...any,
) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, &ExecutionError{Kind: KindCancelled, Handler: name, Height: height, Err: err}
	}

	c := &call{
		ctx:     ctx,
		caps:    caps,
		handler: name,
		height:  height,
		log:     m.exec.log,
	}
	m.active = c

	values := make([]goja.Value, len(args))
	for i, a := range args {
		values[i] = m.vm.ToValue(a)
	}

	start := time.Now()
	stop := m.watch(ctx)

	res, err := fn(goja.Undefined(), values...)
	if err == nil {
		res, err = settle(res)
	}

	var out any
	if err == nil && res != nil {
		out = res.Export()
	}

	stop()
	m.active = nil
	callDurationLog(time.Since(start))

	if err != nil {
		ee := classify(c, err)
		ee.Handler = name
		ee.Height = height
		errorsInc(ee.Kind)
		return nil, ee
	}

	return out, nil
}

// settle unwraps a promise returned by an async handler. Pending jobs have already run when the
// outermost call returned, so a pending promise never resolves.
func settle(v goja.Value) (goja.Value, error) {
	if v == nil {
		return nil, nil
	}
	p, ok := v.Export().(*goja.Promise)
	if !ok {
		return v, nil
	}
	switch p.State() {
	case goja.PromiseStateFulfilled:
		return p.Result(), nil
	case goja.PromiseStateRejected:
		return nil, fmt.Errorf("promise rejected: %s", p.Result().String())
	default:
		return nil, errors.New("handler returned a promise that never settled")
	}
}

func classify(c *call, err error) *ExecutionError {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if cause, ok := interrupted.Value().(error); ok && !errors.Is(cause, errHandlerTimeout) {
			return &ExecutionError{Kind: KindCancelled, Err: cause}
		}
		return &ExecutionError{Kind: KindTimeout, Err: errHandlerTimeout}
	}
	if c != nil && c.disallowed != nil {
		return &ExecutionError{Kind: KindDisallowed, Err: c.disallowed}
	}
	return &ExecutionError{Kind: KindException, Err: err}
}
