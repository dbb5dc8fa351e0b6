package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/dop251/goja"
	"github.com/goran-ethernal/ChainMapper/internal/logger"
)

const maxFetchBody = 4 << 20

// EntityStore is the entity access granted to handlers of one block.
type EntityStore interface {
	Get(ctx context.Context, entity, id string) (map[string]any, bool, error)
	Set(entity, id string, data map[string]any) error
	Remove(entity, id string) error
}

// Capabilities are bound to exactly one handler invocation.
type Capabilities struct {
	Store EntityStore
	// CreateDatasource registers a datasource from a template. Nil disallows it.
	CreateDatasource func(template string, args map[string]any) error
	Timestamp        uint64
}

// call is the per-invocation state the module's globals delegate to. It is nil between calls, so
// references that user code keeps across calls fail instead of reaching a stale block.
type call struct {
	ctx        context.Context
	caps       Capabilities
	handler    string
	height     uint64
	log        *logger.Logger
	disallowed error
}

func (m *Module) current(name string) *call {
	c := m.active
	if c == nil {
		panic(m.vm.NewGoError(fmt.Errorf("%s used outside of a handler: %w", name, errDisallowed)))
	}
	return c
}

func (m *Module) store(name string) (*call, EntityStore) {
	c := m.current(name)
	if c.caps.Store == nil {
		m.deny(c, fmt.Errorf("%s: %w", name, errDisallowed))
	}
	return c, c.caps.Store
}

// toJS turns a stored entity into a plain JS object the handler can modify freely.
func (m *Module) toJS(data map[string]any) goja.Value {
	raw, err := json.Marshal(data)
	if err != nil {
		panic(m.vm.NewGoError(err))
	}
	parse, ok := goja.AssertFunction(m.vm.Get("JSON").ToObject(m.vm).Get("parse"))
	if !ok {
		panic(m.vm.NewTypeError("JSON.parse is not available"))
	}
	v, err := parse(goja.Undefined(), m.vm.ToValue(string(raw)))
	if err != nil {
		panic(m.vm.NewGoError(err))
	}
	return v
}

func (m *Module) deny(c *call, err error) {
	c.disallowed = err
	panic(m.vm.NewGoError(err))
}

func (m *Module) installGlobals() error {
	vm := m.vm

	storeObj := vm.NewObject()
	if err := storeObj.Set("get", func(fc goja.FunctionCall) goja.Value {
		c, st := m.store("store.get")
		data, ok, err := st.Get(c.ctx, fc.Argument(0).String(), fc.Argument(1).String())
		if err != nil {
			panic(vm.NewGoError(err))
		}
		if !ok {
			return goja.Undefined()
		}
		return m.toJS(data)
	}); err != nil {
		return err
	}
	if err := storeObj.Set("set", func(fc goja.FunctionCall) goja.Value {
		_, st := m.store("store.set")
		data, ok := fc.Argument(2).Export().(map[string]any)
		if !ok {
			panic(vm.NewTypeError("store.set expects an object"))
		}
		if err := st.Set(fc.Argument(0).String(), fc.Argument(1).String(), data); err != nil {
			panic(vm.NewGoError(err))
		}
		return goja.Undefined()
	}); err != nil {
		return err
	}
	if err := storeObj.Set("remove", func(fc goja.FunctionCall) goja.Value {
		_, st := m.store("store.remove")
		if err := st.Remove(fc.Argument(0).String(), fc.Argument(1).String()); err != nil {
			panic(vm.NewGoError(err))
		}
		return goja.Undefined()
	}); err != nil {
		return err
	}
	if err := vm.Set("store", storeObj); err != nil {
		return err
	}

	logObj := vm.NewObject()
	for _, level := range []string{"debug", "info", "warn", "error"} {
		level := level
		if err := logObj.Set(level, func(fc goja.FunctionCall) goja.Value {
			c := m.current("logger")
			parts := make([]string, len(fc.Arguments))
			for i, a := range fc.Arguments {
				parts[i] = a.String()
			}
			msg := strings.Join(parts, " ")
			l := c.log.With("handler", c.handler, "height", c.height)
			switch level {
			case "debug":
				l.Debug(msg)
			case "info":
				l.Info(msg)
			case "warn":
				l.Warn(msg)
			default:
				l.Error(msg)
			}
			return goja.Undefined()
		}); err != nil {
			return err
		}
	}
	if err := vm.Set("logger", logObj); err != nil {
		return err
	}

	if err := vm.Set("createDynamicDatasource", func(fc goja.FunctionCall) goja.Value {
		c := m.current("createDynamicDatasource")
		if c.caps.CreateDatasource == nil {
			m.deny(c, fmt.Errorf("createDynamicDatasource: %w", errDisallowed))
		}
		var args map[string]any
		if a := fc.Argument(1); !goja.IsUndefined(a) && !goja.IsNull(a) {
			exported, ok := a.Export().(map[string]any)
			if !ok {
				panic(vm.NewTypeError("createDynamicDatasource expects an args object"))
			}
			args = exported
		}
		if err := c.caps.CreateDatasource(fc.Argument(0).String(), args); err != nil {
			panic(vm.NewGoError(err))
		}
		return goja.Undefined()
	}); err != nil {
		return err
	}

	if err := vm.Set("fetch", func(fc goja.FunctionCall) goja.Value {
		c := m.current("fetch")
		if !m.exec.allowHTTP {
			m.deny(c, fmt.Errorf("fetch: %w", errDisallowed))
		}
		status, body, err := m.exec.fetch(c.ctx, fc.Argument(0).String())
		if err != nil {
			if errors.Is(err, errDisallowed) {
				m.deny(c, err)
			}
			panic(vm.NewGoError(err))
		}
		res := vm.NewObject()
		_ = res.Set("status", status)
		_ = res.Set("body", body)
		return res
	}); err != nil {
		return err
	}

	// handlers must be deterministic: random numbers are refused and the clock is the block time
	mathObj := vm.Get("Math").ToObject(vm)
	if err := mathObj.Set("random", func(goja.FunctionCall) goja.Value {
		c := m.current("Math.random")
		m.deny(c, fmt.Errorf("Math.random: %w", errDisallowed))
		return goja.Undefined()
	}); err != nil {
		return err
	}

	return nil
}

func (e *Executor) fetch(ctx context.Context, raw string) (int, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return 0, "", fmt.Errorf("fetch: invalid url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return 0, "", fmt.Errorf("fetch: scheme %q: %w", u.Scheme, errDisallowed)
	}
	if len(e.allowedHosts) > 0 && !slices.Contains(e.allowedHosts, u.Hostname()) {
		return 0, "", fmt.Errorf("fetch: host %q: %w", u.Hostname(), errDisallowed)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, "", err
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("fetch %s: %w", u.Host, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBody))
	if err != nil {
		return 0, "", err
	}
	return resp.StatusCode, string(body), nil
}
