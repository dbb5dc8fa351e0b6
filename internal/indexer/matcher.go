package indexer

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/ChainMapper/pkg/chain"
	"github.com/goran-ethernal/ChainMapper/pkg/project"
)

// matcher is a handler filter resolved into comparable values.
type matcher struct {
	kind     project.HandlerKind
	modulo   uint64
	address  *common.Address
	from     *common.Address
	selector []byte
	topics   []*common.Hash
}

func optionalAddress(s string) (*common.Address, error) {
	if s == "" {
		return nil, nil
	}
	if !project.IsAddress(s) {
		return nil, fmt.Errorf("invalid address %q", s)
	}
	a := common.HexToAddress(s)
	return &a, nil
}

// newMatcher resolves the runtime filter of h. For a custom handler, kind is the processor's base
// kind and only the datasource address restricts inputs.
func newMatcher(ds *project.Datasource, h *project.Handler, kind project.HandlerKind) (*matcher, error) {
	m := &matcher{kind: kind}

	dsAddress, err := optionalAddress(ds.Address())
	if err != nil {
		return nil, err
	}

	switch f := h.Filter.(type) {
	case *project.BlockFilter:
		m.modulo = f.Modulo

	case *project.TransactionFilter:
		if m.from, err = optionalAddress(f.From); err != nil {
			return nil, err
		}
		if m.address, err = optionalAddress(f.To); err != nil {
			return nil, err
		}
		if f.Function != "" {
			sel, ok := project.FunctionSelector(f.Function)
			if !ok {
				return nil, fmt.Errorf("invalid function %q", f.Function)
			}
			m.selector = sel
		}

	case *project.LogFilter:
		if m.address, err = optionalAddress(f.Address); err != nil {
			return nil, err
		}
		m.topics = make([]*common.Hash, len(f.Topics))
		for i, t := range f.Topics {
			if strings.TrimSpace(t) == "" {
				continue
			}
			hash, ok := project.TopicHash(t)
			if !ok {
				return nil, fmt.Errorf("invalid topic %q", t)
			}
			m.topics[i] = &hash
		}
	}

	if m.address == nil {
		m.address = dsAddress
	}

	return m, nil
}

func (m *matcher) matchBlock(b *chain.Block) bool {
	return m.modulo == 0 || b.Height%m.modulo == 0
}

func (m *matcher) matchTransaction(tx *chain.Transaction) bool {
	if m.from != nil && tx.From != *m.from {
		return false
	}
	if m.address != nil && (tx.To == nil || *tx.To != *m.address) {
		return false
	}
	if m.selector != nil && !bytes.Equal(tx.Selector(), m.selector) {
		return false
	}
	return true
}

func (m *matcher) matchLog(l *chain.Log) bool {
	if m.address != nil && l.Address != *m.address {
		return false
	}
	for i, want := range m.topics {
		if want == nil {
			continue
		}
		if i >= len(l.Topics) || l.Topics[i] != *want {
			return false
		}
	}
	return true
}
