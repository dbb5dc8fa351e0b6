package api

import "time"

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	Mode          string    `json:"mode"`
	LastProcessed uint64    `json:"last_processed"`
}

// DatasourceInfo describes one active datasource.
type DatasourceInfo struct {
	Name       string   `json:"name,omitempty"`
	Kind       string   `json:"kind"`
	StartBlock uint64   `json:"start_block"`
	Address    string   `json:"address,omitempty"`
	Handlers   []string `json:"handlers"`
}

// EntityResponse is a single entity value.
type EntityResponse struct {
	Entity string         `json:"entity"`
	ID     string         `json:"id"`
	Data   map[string]any `json:"data"`
}

// EntityListResponse holds entities keyed by id.
type EntityListResponse struct {
	Entity string                    `json:"entity"`
	Count  int                       `json:"count"`
	Items  map[string]map[string]any `json:"items"`
}
