package project

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// ValidationError lists every problem found in a manifest.
type ValidationError struct {
	Errors *multierror.Error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid project manifest: %s", e.Errors.Error())
}

func (e *ValidationError) Unwrap() error {
	return e.Errors
}

// Problems returns the individual validation failures.
func (e *ValidationError) Problems() []error {
	return e.Errors.WrappedErrors()
}

// Validate checks the manifest and returns a *ValidationError listing every problem, or nil.
func (m *Manifest) Validate() error {
	var result *multierror.Error

	if strings.TrimSpace(m.SpecVersion) == "" {
		result = multierror.Append(result, fmt.Errorf("specVersion is required"))
	}
	if strings.TrimSpace(m.Name) == "" {
		result = multierror.Append(result, fmt.Errorf("name is required"))
	}
	if len(m.DataSources) == 0 {
		result = multierror.Append(result, fmt.Errorf("at least one datasource is required"))
	}

	for i, ds := range m.DataSources {
		for _, err := range validateDatasource(ds) {
			result = multierror.Append(result, fmt.Errorf("dataSources[%d]: %w", i, err))
		}
	}

	names := make(map[string]bool, len(m.Templates))
	for i, tmpl := range m.Templates {
		if tmpl.Name == "" {
			result = multierror.Append(result, fmt.Errorf("templates[%d]: name is required", i))
		} else if names[tmpl.Name] {
			result = multierror.Append(result, fmt.Errorf("templates[%d]: duplicate template name %q", i, tmpl.Name))
		}
		names[tmpl.Name] = true

		if tmpl.StartBlock != 0 {
			result = multierror.Append(result, fmt.Errorf("templates[%d]: startBlock is set when the template is created", i))
		}
		for _, err := range validateDatasource(tmpl) {
			result = multierror.Append(result, fmt.Errorf("templates[%d]: %w", i, err))
		}
	}

	if result == nil {
		return nil
	}
	return &ValidationError{Errors: result}
}

func validateDatasource(ds *Datasource) []error {
	var errs []error

	if ds.Kind == "" {
		return []error{fmt.Errorf("kind is required")}
	}
	if len(ds.Mapping.Handlers) == 0 {
		errs = append(errs, fmt.Errorf("mapping.handlers must not be empty"))
	}

	if ds.Options != nil && ds.Options.Address != "" && !IsAddress(ds.Options.Address) {
		errs = append(errs, fmt.Errorf("options.address %q is not a valid address", ds.Options.Address))
	}

	if !ds.IsRuntime() {
		if ds.Processor == nil || ds.Processor.File == "" {
			errs = append(errs, fmt.Errorf("custom datasource %s requires processor.file", ds.Kind))
		}
		for j, h := range ds.Mapping.Handlers {
			if h.Handler == "" {
				errs = append(errs, fmt.Errorf("handlers[%d]: handler name is required", j))
			}
		}
		return errs
	}

	for j, h := range ds.Mapping.Handlers {
		for _, err := range validateRuntimeHandler(h) {
			errs = append(errs, fmt.Errorf("handlers[%d]: %w", j, err))
		}
	}

	return errs
}

func validateRuntimeHandler(h *Handler) []error {
	if !IsRuntimeHandlerKind(h.Kind) {
		return []error{fmt.Errorf("handler %s not supported", h.Kind)}
	}

	var errs []error
	if h.Handler == "" {
		errs = append(errs, fmt.Errorf("handler name is required"))
	}

	switch f := h.Filter.(type) {
	case nil, *BlockFilter:
	case *TransactionFilter:
		if f.From != "" && !IsAddress(f.From) {
			errs = append(errs, fmt.Errorf("filter.from %q is not a valid address", f.From))
		}
		if f.To != "" && !IsAddress(f.To) {
			errs = append(errs, fmt.Errorf("filter.to %q is not a valid address", f.To))
		}
		if f.Function != "" {
			if _, ok := FunctionSelector(f.Function); !ok {
				errs = append(errs, fmt.Errorf("filter.function %q is neither a selector nor a signature", f.Function))
			}
		}
	case *LogFilter:
		if len(f.Topics) > MaxLogTopics {
			errs = append(errs, fmt.Errorf("filter.topics has %d entries, at most %d allowed", len(f.Topics), MaxLogTopics))
		}
		for i, topic := range f.Topics {
			if topic == "" {
				continue
			}
			if _, ok := TopicHash(topic); !ok {
				errs = append(errs, fmt.Errorf("filter.topics[%d] %q is neither a hash nor a signature", i, topic))
			}
		}
		if f.Address != "" && !IsAddress(f.Address) {
			errs = append(errs, fmt.Errorf("filter.address %q is not a valid address", f.Address))
		}
	default:
		errs = append(errs, fmt.Errorf("filter type %T does not match handler kind %s", h.Filter, h.Kind))
	}

	return errs
}
