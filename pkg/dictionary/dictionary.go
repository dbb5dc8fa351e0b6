package dictionary

import "context"

// Condition kinds understood by the dictionary service.
const (
	ConditionLog         = "log"
	ConditionTransaction = "transaction"
)

// Condition is one filter the dictionary matches block contents against. Empty fields match
// anything. Topics are 32-byte hex hashes; Function is a 4-byte hex selector.
type Condition struct {
	Kind     string   `json:"kind"`
	Address  string   `json:"address,omitempty"`
	Topics   []string `json:"topics,omitempty"`
	From     string   `json:"from,omitempty"`
	To       string   `json:"to,omitempty"`
	Function string   `json:"function,omitempty"`
}

// Result is the sparse set of heights in a requested range that match at least one condition.
// Heights above DictionaryHeight are unknown to the dictionary.
type Result struct {
	Heights          []uint64 `json:"heights"`
	DictionaryHeight uint64   `json:"dictionaryHeight"`
}

// Metadata describes the dictionary's chain and progress.
type Metadata struct {
	ChainID             string `json:"chainId"`
	LastProcessedHeight uint64 `json:"lastProcessedHeight"`
}

// Dictionary is the accelerator service consulted before dense scanning.
type Dictionary interface {
	GetSparseHeights(ctx context.Context, conditions []Condition, lo, hi uint64) (*Result, error)
	GetMetadata(ctx context.Context) (*Metadata, error)
}
