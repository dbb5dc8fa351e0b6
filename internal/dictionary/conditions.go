package dictionary

import (
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/goran-ethernal/ChainMapper/pkg/dictionary"
	"github.com/goran-ethernal/ChainMapper/pkg/project"
)

// Query is what the dictionary path needs to select heights for a set of datasources:
// conditions sent to the service and block handler moduli resolved locally.
type Query struct {
	Conditions []dictionary.Condition
	Modulos    []uint64
}

// BuildQuery derives the dictionary query of datasources. It reports false when a handler cannot
// be expressed as a condition, in which case every height must be scanned.
func BuildQuery(datasources []*project.Datasource) (Query, bool) {
	var q Query

	for _, ds := range datasources {
		if !ds.IsRuntime() {
			return Query{}, false
		}

		for _, h := range ds.Mapping.Handlers {
			switch f := h.Filter.(type) {
			case *project.BlockFilter:
				if f.Modulo == 0 {
					return Query{}, false
				}
				q.Modulos = append(q.Modulos, f.Modulo)
			case *project.LogFilter:
				q.Conditions = append(q.Conditions, logCondition(ds, f))
			case *project.TransactionFilter:
				q.Conditions = append(q.Conditions, transactionCondition(ds, f))
			case nil:
				switch h.Kind {
				case project.KindLogHandler:
					q.Conditions = append(q.Conditions, logCondition(ds, &project.LogFilter{}))
				case project.KindTransactionHandler:
					q.Conditions = append(q.Conditions, transactionCondition(ds, &project.TransactionFilter{}))
				default:
					return Query{}, false
				}
			default:
				return Query{}, false
			}
		}
	}

	slices.Sort(q.Modulos)
	q.Modulos = slices.Compact(q.Modulos)

	return q, true
}

func logCondition(ds *project.Datasource, f *project.LogFilter) dictionary.Condition {
	c := dictionary.Condition{
		Kind:    dictionary.ConditionLog,
		Address: strings.ToLower(firstNonEmpty(f.Address, ds.Address())),
	}

	for _, topic := range f.Topics {
		if topic == "" {
			c.Topics = append(c.Topics, "")
			continue
		}
		hash, _ := project.TopicHash(topic)
		c.Topics = append(c.Topics, hash.Hex())
	}
	// trailing wildcards carry no information
	for len(c.Topics) > 0 && c.Topics[len(c.Topics)-1] == "" {
		c.Topics = c.Topics[:len(c.Topics)-1]
	}

	return c
}

func transactionCondition(ds *project.Datasource, f *project.TransactionFilter) dictionary.Condition {
	c := dictionary.Condition{
		Kind: dictionary.ConditionTransaction,
		From: strings.ToLower(f.From),
		To:   strings.ToLower(firstNonEmpty(f.To, ds.Address())),
	}

	if f.Function != "" {
		if selector, ok := project.FunctionSelector(f.Function); ok {
			c.Function = hexutil.Encode(selector)
		}
	}

	return c
}

// LocalHeights returns the heights in [lo, hi] selected by block handler moduli.
func (q Query) LocalHeights(lo, hi uint64) []uint64 {
	var out []uint64
	for _, m := range q.Modulos {
		first := (lo + m - 1) / m * m
		for h := first; h <= hi; h += m {
			out = append(out, h)
			if h+m < h {
				break
			}
		}
	}

	slices.Sort(out)
	return slices.Compact(out)
}

// Merge returns the sorted union of height sets.
func Merge(sets ...[]uint64) []uint64 {
	var out []uint64
	for _, s := range sets {
		out = append(out, s...)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
