package fetcher

import (
	"context"
	"errors"
	"testing"

	dictmocks "github.com/goran-ethernal/ChainMapper/internal/dictionary/mocks"
	"github.com/goran-ethernal/ChainMapper/internal/dynamicds"
	"github.com/goran-ethernal/ChainMapper/internal/logger"
	"github.com/goran-ethernal/ChainMapper/pkg/dictionary"
	"github.com/goran-ethernal/ChainMapper/pkg/dispatcher"
	"github.com/goran-ethernal/ChainMapper/pkg/project"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const plannerManifest = `
specVersion: 1.0.0
name: planner-test
dataSources:
  - kind: ethereum/Runtime
    startBlock: 1
    mapping:
      file: ./dist/index.js
      handlers:
        - kind: ethereum/LogHandler
          handler: handleTransfer
          filter:
            topics: ["Transfer(address,address,uint256)"]
        - kind: ethereum/BlockHandler
          handler: handleTick
          filter:
            modulo: 4
    options:
      address: "0x00000000000000000000000000000000000000aa"
`

const everyBlockManifest = `
specVersion: 1.0.0
name: planner-test
dataSources:
  - kind: ethereum/Runtime
    startBlock: 1
    mapping:
      file: ./dist/index.js
      handlers:
        - kind: ethereum/BlockHandler
          handler: handleBlock
`

func newTestPlanner(t *testing.T, manifest string, dict dictionary.Dictionary) *Planner {
	t.Helper()

	m, err := project.ParseManifest([]byte(manifest))
	require.NoError(t, err)

	registry := dynamicds.New(m, logger.NewNopLogger())
	return NewPlanner(dict, registry, 100, logger.NewNopLogger())
}

type plannedTask struct {
	height uint64
	skip   bool
}

func summarize(tasks []dispatcher.Task) []plannedTask {
	out := make([]plannedTask, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, plannedTask{task.Height, task.Skip})
	}
	return out
}

func denseTasks(from, to uint64) []plannedTask {
	var out []plannedTask
	for h := from; h <= to; h++ {
		out = append(out, plannedTask{height: h})
	}
	return out
}

func TestPlanner_DenseWithoutDictionary(t *testing.T) {
	p := newTestPlanner(t, plannerManifest, nil)
	require.False(t, p.Enabled())

	tasks := p.Plan(context.Background(), 1, 5, 7)
	require.Equal(t, denseTasks(1, 5), summarize(tasks))
	for _, task := range tasks {
		require.Equal(t, uint64(7), task.Epoch)
		require.Len(t, task.Datasources, 1)
	}
}

func TestPlanner_Sparse(t *testing.T) {
	dict := dictmocks.NewDictionary(t)
	dict.EXPECT().GetSparseHeights(mock.Anything, mock.Anything, uint64(1), uint64(10)).
		Return(&dictionary.Result{Heights: []uint64{2, 5, 11}, DictionaryHeight: 20}, nil)

	p := newTestPlanner(t, plannerManifest, dict)

	// 4 and 8 come from the block handler modulo, 11 is outside the range
	require.Equal(t, []plannedTask{
		{1, true}, {2, false}, {4, false}, {5, false}, {8, false}, {10, true},
	}, summarize(p.Plan(context.Background(), 1, 10, 0)))
}

func TestPlanner_ClampsAtDictionaryHeight(t *testing.T) {
	dict := dictmocks.NewDictionary(t)
	dict.EXPECT().GetSparseHeights(mock.Anything, mock.Anything, uint64(1), uint64(10)).
		Return(&dictionary.Result{Heights: []uint64{2}, DictionaryHeight: 6}, nil)

	p := newTestPlanner(t, plannerManifest, dict)

	expected := []plannedTask{{1, true}, {2, false}, {4, false}, {6, true}}
	expected = append(expected, denseTasks(7, 10)...)
	require.Equal(t, expected, summarize(p.Plan(context.Background(), 1, 10, 0)))
}

func TestPlanner_DenseFallbacks(t *testing.T) {
	tests := []struct {
		name   string
		result *dictionary.Result
		err    error
	}{
		{name: "stale beyond tolerance", result: &dictionary.Result{Heights: []uint64{201}, DictionaryHeight: 205}},
		{name: "behind range start", result: &dictionary.Result{DictionaryHeight: 150}},
		{name: "request error", err: errors.New("connection reset")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dict := dictmocks.NewDictionary(t)
			dict.EXPECT().GetSparseHeights(mock.Anything, mock.Anything, uint64(200), uint64(210)).
				Return(tt.result, tt.err)

			p := newTestPlanner(t, plannerManifest, dict)
			if tt.name == "stale beyond tolerance" {
				p.tolerance = 2
			}

			require.Equal(t, denseTasks(200, 210), summarize(p.Plan(context.Background(), 200, 210, 0)))
		})
	}
}

func TestPlanner_IneligibleHandlersScanDensely(t *testing.T) {
	dict := dictmocks.NewDictionary(t)
	p := newTestPlanner(t, everyBlockManifest, dict)

	require.Equal(t, denseTasks(1, 4), summarize(p.Plan(context.Background(), 1, 4, 0)))
}

func TestPlanner_CheckDictionary(t *testing.T) {
	t.Run("chain mismatch disables", func(t *testing.T) {
		dict := dictmocks.NewDictionary(t)
		dict.EXPECT().GetMetadata(mock.Anything).Return(&dictionary.Metadata{ChainID: "1"}, nil)

		p := newTestPlanner(t, plannerManifest, dict)
		p.CheckDictionary(context.Background(), "14")
		require.False(t, p.Enabled())
		require.Equal(t, denseTasks(1, 3), summarize(p.Plan(context.Background(), 1, 3, 0)))
	})

	t.Run("unreachable stays enabled", func(t *testing.T) {
		dict := dictmocks.NewDictionary(t)
		dict.EXPECT().GetMetadata(mock.Anything).Return(nil, errors.New("timeout"))

		p := newTestPlanner(t, plannerManifest, dict)
		p.CheckDictionary(context.Background(), "14")
		require.True(t, p.Enabled())
	})

	t.Run("same chain", func(t *testing.T) {
		dict := dictmocks.NewDictionary(t)
		dict.EXPECT().GetMetadata(mock.Anything).Return(&dictionary.Metadata{ChainID: "14"}, nil)

		p := newTestPlanner(t, plannerManifest, dict)
		p.CheckDictionary(context.Background(), "14")
		require.True(t, p.Enabled())
	})
}
