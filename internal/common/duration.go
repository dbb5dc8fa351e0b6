package common

import (
	"fmt"
	"time"

	"github.com/invopop/jsonschema"
)

// Duration is a wrapper around time.Duration that can be decoded from
// human readable strings ("30s", "1h30m") in yaml, json and toml configs.
type Duration struct {
	time.Duration
}

// NewDuration returns a Duration wrapping d.
func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d}
}

// UnmarshalText unmarshals a duration string.
func (d *Duration) UnmarshalText(data []byte) error {
	duration, err := time.ParseDuration(string(data))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(data), err)
	}
	d.Duration = duration
	return nil
}

// MarshalText marshals the duration back into its string form.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// JSONSchema describes Duration as a string in generated config schemas.
func (Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Title:       "Duration",
		Description: "Duration expressed in units: [ns, us, ms, s, m, h] d",
		Examples: []any{
			"1m",
			"300ms",
		},
	}
}
