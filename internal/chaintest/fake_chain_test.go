package chaintest

import (
	"context"
	"testing"

	"github.com/goran-ethernal/ChainMapper/pkg/chain"
	"github.com/stretchr/testify/require"
)

func TestFakeChain_LinksAndForks(t *testing.T) {
	c := New(5)
	ctx := context.Background()

	for h := uint64(1); h <= 5; h++ {
		require.Equal(t, c.Block(h-1).Hash, c.Block(h).ParentHash)
	}

	before := c.Block(3).Hash
	c.Fork(3)
	require.NotEqual(t, before, c.Block(3).Hash)
	require.Equal(t, c.Block(2).Hash, c.Block(3).ParentHash)

	headers, err := c.GetHeaders(ctx, []uint64{3, 4})
	require.NoError(t, err)
	require.Equal(t, c.Block(3).Hash, headers[0].Hash)
}

func TestFakeChain_CountsAndFailures(t *testing.T) {
	c := New(5)
	ctx := context.Background()

	c.FailFetch(2, 1)
	_, err := c.GetBlockByHeight(ctx, 2)
	require.True(t, chain.IsTransient(err))

	_, err = c.GetBlockByHeight(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, 1, c.FetchCount(2))

	blocks, err := c.GetBlocksInRange(ctx, 3, 5)
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	require.Equal(t, 4, c.TotalFetches())
	require.Equal(t, 1, c.RangeCalls())

	_, err = c.GetBlockByHeight(ctx, 9)
	require.ErrorIs(t, err, chain.ErrBlockNotFound)
}
