// Package project holds the resolved project descriptor: the manifest, its datasources and
// templates, and the mapping sources they reference.
package project

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// DatasourceKind identifies how a datasource is processed.
type DatasourceKind string

// HandlerKind identifies which block input a handler receives.
type HandlerKind string

const (
	// KindRuntime is the built-in datasource kind. Every other kind is a custom datasource.
	KindRuntime DatasourceKind = "ethereum/Runtime"

	KindBlockHandler       HandlerKind = "ethereum/BlockHandler"
	KindTransactionHandler HandlerKind = "ethereum/TransactionHandler"
	KindLogHandler         HandlerKind = "ethereum/LogHandler"
)

var datasourceAliases = map[DatasourceKind]DatasourceKind{
	"flare/Runtime": KindRuntime,
}

var handlerAliases = map[HandlerKind]HandlerKind{
	"flare/BlockHandler":       KindBlockHandler,
	"flare/TransactionHandler": KindTransactionHandler,
	"flare/LogHandler":         KindLogHandler,
}

// NormalizeDatasourceKind maps alias kinds onto their canonical name.
func NormalizeDatasourceKind(k DatasourceKind) DatasourceKind {
	if canonical, ok := datasourceAliases[k]; ok {
		return canonical
	}
	return k
}

// NormalizeHandlerKind maps alias kinds onto their canonical name.
func NormalizeHandlerKind(k HandlerKind) HandlerKind {
	if canonical, ok := handlerAliases[k]; ok {
		return canonical
	}
	return k
}

// IsRuntimeHandlerKind reports whether k is one of the built-in handler kinds.
func IsRuntimeHandlerKind(k HandlerKind) bool {
	switch NormalizeHandlerKind(k) {
	case KindBlockHandler, KindTransactionHandler, KindLogHandler:
		return true
	default:
		return false
	}
}

// Manifest is the parsed project.yaml.
type Manifest struct {
	SpecVersion string        `yaml:"specVersion" json:"specVersion"`
	Name        string        `yaml:"name" json:"name"`
	Version     string        `yaml:"version" json:"version"`
	Description string        `yaml:"description,omitempty" json:"description,omitempty"`
	Network     Network       `yaml:"network" json:"network"`
	Schema      FileRef       `yaml:"schema" json:"schema"`
	DataSources []*Datasource `yaml:"dataSources" json:"dataSources"`
	Templates   []*Datasource `yaml:"templates,omitempty" json:"templates,omitempty"`
}

// Network describes the chain the project indexes.
type Network struct {
	ChainID    string `yaml:"chainId" json:"chainId"`
	Endpoint   string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Dictionary string `yaml:"dictionary,omitempty" json:"dictionary,omitempty"`
}

// FileRef points at a file relative to the project root.
type FileRef struct {
	File string `yaml:"file" json:"file"`
}

// Options restricts a runtime datasource to a contract.
type Options struct {
	Address string `yaml:"address,omitempty" json:"address,omitempty"`
	ABI     string `yaml:"abi,omitempty" json:"abi,omitempty"`
}

// Datasource is a declared datasource, a template, or a materialized dynamic datasource.
// Templates carry a Name and no StartBlock.
type Datasource struct {
	Name       string             `yaml:"name,omitempty" json:"name,omitempty"`
	Kind       DatasourceKind     `yaml:"kind" json:"kind"`
	StartBlock uint64             `yaml:"startBlock,omitempty" json:"startBlock"`
	Mapping    Mapping            `yaml:"mapping" json:"mapping"`
	Options    *Options           `yaml:"options,omitempty" json:"options,omitempty"`
	Assets     map[string]FileRef `yaml:"assets,omitempty" json:"assets,omitempty"`
	Processor  *FileRef           `yaml:"processor,omitempty" json:"processor,omitempty"`
}

// IsRuntime reports whether the datasource uses the built-in handler kinds.
func (d *Datasource) IsRuntime() bool {
	return NormalizeDatasourceKind(d.Kind) == KindRuntime
}

// Address returns the contract address option, or "" when unrestricted.
func (d *Datasource) Address() string {
	if d.Options == nil {
		return ""
	}
	return d.Options.Address
}

// Clone returns a deep copy so materialized datasources never share state with their template.
func (d *Datasource) Clone() *Datasource {
	out := *d

	if d.Options != nil {
		opts := *d.Options
		out.Options = &opts
	}
	if d.Processor != nil {
		p := *d.Processor
		out.Processor = &p
	}
	if d.Assets != nil {
		out.Assets = make(map[string]FileRef, len(d.Assets))
		for k, v := range d.Assets {
			out.Assets[k] = v
		}
	}

	out.Mapping.Handlers = make([]*Handler, len(d.Mapping.Handlers))
	for i, h := range d.Mapping.Handlers {
		out.Mapping.Handlers[i] = h.clone()
	}

	return &out
}

// Mapping binds handlers to the mapping module file that implements them.
type Mapping struct {
	File     string     `yaml:"file,omitempty" json:"file"`
	Handlers []*Handler `yaml:"handlers" json:"handlers"`
}

// Handler is a tagged union keyed by Kind. For runtime kinds Filter holds the matching typed
// filter; for custom kinds it holds a CustomFilter.
type Handler struct {
	Kind    HandlerKind `yaml:"kind" json:"kind"`
	Handler string      `yaml:"handler" json:"handler"`
	Filter  Filter      `yaml:"-" json:"filter,omitempty"`
}

func (h *Handler) clone() *Handler {
	out := *h
	switch f := h.Filter.(type) {
	case *LogFilter:
		lf := *f
		lf.Topics = append([]string(nil), f.Topics...)
		out.Filter = &lf
	case *TransactionFilter:
		tf := *f
		out.Filter = &tf
	case *BlockFilter:
		bf := *f
		out.Filter = &bf
	case CustomFilter:
		cf := make(CustomFilter, len(f))
		for k, v := range f {
			cf[k] = v
		}
		out.Filter = cf
	}
	return &out
}

// UnmarshalYAML decodes the handler and its filter into the type selected by the kind.
func (h *Handler) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Kind    HandlerKind `yaml:"kind"`
		Handler string      `yaml:"handler"`
		Filter  yaml.Node   `yaml:"filter"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	h.Kind = NormalizeHandlerKind(raw.Kind)
	h.Handler = raw.Handler

	filter, err := decodeFilter(h.Kind, &raw.Filter)
	if err != nil {
		return fmt.Errorf("handler %s (%s): %w", raw.Handler, raw.Kind, err)
	}
	h.Filter = filter

	return nil
}

// Filter is implemented by every handler filter variant.
type Filter interface {
	isFilter()
}

// BlockFilter matches every block, or every Modulo-th block when Modulo is set.
type BlockFilter struct {
	Modulo uint64 `yaml:"modulo,omitempty" json:"modulo,omitempty"`
}

// TransactionFilter matches transactions by sender, recipient and called function.
// Function is either a 4-byte hex selector or a signature such as transfer(address,uint256).
type TransactionFilter struct {
	From     string `yaml:"from,omitempty" json:"from,omitempty"`
	To       string `yaml:"to,omitempty" json:"to,omitempty"`
	Function string `yaml:"function,omitempty" json:"function,omitempty"`
}

// LogFilter matches logs by emitter and topics. Each topic is a 32-byte hex value, an event
// signature, or empty to match anything at that position.
type LogFilter struct {
	Topics  []string `yaml:"topics,omitempty" json:"topics,omitempty"`
	Address string   `yaml:"address,omitempty" json:"address,omitempty"`
}

// CustomFilter is the free-form filter of a custom handler, interpreted by its processor.
type CustomFilter map[string]any

func (*BlockFilter) isFilter()       {}
func (*TransactionFilter) isFilter() {}
func (*LogFilter) isFilter()         {}
func (CustomFilter) isFilter()       {}

var allowedFilterFields = map[HandlerKind]map[string]bool{
	KindBlockHandler:       {"modulo": true},
	KindTransactionHandler: {"from": true, "to": true, "function": true},
	KindLogHandler:         {"topics": true, "address": true},
}

func decodeFilter(kind HandlerKind, node *yaml.Node) (Filter, error) {
	empty := node.Kind == 0 || node.Tag == "!!null"

	allowed, runtime := allowedFilterFields[kind]
	if !runtime {
		cf := CustomFilter{}
		if !empty {
			if err := node.Decode(&cf); err != nil {
				return nil, fmt.Errorf("invalid filter: %w", err)
			}
		}
		return cf, nil
	}

	if !empty {
		var fields map[string]any
		if err := node.Decode(&fields); err != nil {
			return nil, fmt.Errorf("invalid filter: %w", err)
		}
		for name := range fields {
			if !allowed[name] {
				return nil, fmt.Errorf("filter field %q is not allowed for %s", name, kind)
			}
		}
	}

	var filter Filter
	switch kind {
	case KindBlockHandler:
		filter = &BlockFilter{}
	case KindTransactionHandler:
		filter = &TransactionFilter{}
	case KindLogHandler:
		filter = &LogFilter{}
	}

	if !empty {
		if err := node.Decode(filter); err != nil {
			return nil, fmt.Errorf("invalid filter: %w", err)
		}
	}

	return filter, nil
}
