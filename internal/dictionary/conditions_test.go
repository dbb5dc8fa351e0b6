package dictionary

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/goran-ethernal/ChainMapper/pkg/dictionary"
	"github.com/goran-ethernal/ChainMapper/pkg/project"
	"github.com/stretchr/testify/require"
)

const token = "0x00000000000000000000000000000000000000AA"

func runtimeDS(handlers ...*project.Handler) *project.Datasource {
	return &project.Datasource{
		Kind:    project.KindRuntime,
		Options: &project.Options{Address: token},
		Mapping: project.Mapping{Handlers: handlers},
	}
}

func TestBuildQuery(t *testing.T) {
	ds := runtimeDS(
		&project.Handler{
			Kind:   project.KindLogHandler,
			Filter: &project.LogFilter{Topics: []string{"Transfer(address,address,uint256)", "", ""}},
		},
		&project.Handler{
			Kind:   project.KindTransactionHandler,
			Filter: &project.TransactionFilter{Function: "transfer(address,uint256)"},
		},
		&project.Handler{Kind: project.KindBlockHandler, Filter: &project.BlockFilter{Modulo: 10}},
		&project.Handler{Kind: project.KindBlockHandler, Filter: &project.BlockFilter{Modulo: 10}},
	)

	q, ok := BuildQuery([]*project.Datasource{ds})
	require.True(t, ok)
	require.Equal(t, []uint64{10}, q.Modulos)
	require.Equal(t, []dictionary.Condition{
		{
			Kind:    dictionary.ConditionLog,
			Address: "0x00000000000000000000000000000000000000aa",
			Topics:  []string{crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)")).Hex()},
		},
		{
			Kind:     dictionary.ConditionTransaction,
			To:       "0x00000000000000000000000000000000000000aa",
			Function: "0xa9059cbb",
		},
	}, q.Conditions)
}

func TestBuildQuery_Ineligible(t *testing.T) {
	everyBlock := runtimeDS(&project.Handler{Kind: project.KindBlockHandler, Filter: &project.BlockFilter{}})
	_, ok := BuildQuery([]*project.Datasource{everyBlock})
	require.False(t, ok)

	custom := &project.Datasource{
		Kind: "flare/FtsoPrices",
		Mapping: project.Mapping{Handlers: []*project.Handler{
			{Kind: "flare/PriceEpoch", Filter: project.CustomFilter{}},
		}},
	}
	_, ok = BuildQuery([]*project.Datasource{custom})
	require.False(t, ok)
}

func TestQuery_LocalHeights(t *testing.T) {
	q := Query{Modulos: []uint64{3, 5}}
	require.Equal(t, []uint64{3, 5, 6, 9, 10, 12, 15}, q.LocalHeights(1, 15))
	require.Equal(t, []uint64{0, 3, 5}, q.LocalHeights(0, 5))
	require.Empty(t, Query{}.LocalHeights(1, 100))
}

func TestMerge(t *testing.T) {
	require.Equal(t, []uint64{1, 2, 3, 5}, Merge([]uint64{5, 1}, []uint64{2, 3, 1}, nil))
}
