package poi

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func leaf(i int) common.Hash {
	return crypto.Keccak256Hash(big.NewInt(int64(i)).Bytes())
}

func TestPosHeight(t *testing.T) {
	// positions of an 11 leaf MMR:
	//           14
	//        /      \
	//      6          13
	//    /   \       /   \
	//   2     5     9     12     17
	//  / \   / \   / \   /  \   /  \
	// 0   1 3   4 7   8 10  11 15  16 18
	expected := map[uint64]uint64{
		0: 0, 1: 0, 2: 1, 3: 0, 4: 0, 5: 1, 6: 2, 7: 0, 8: 0, 9: 1,
		10: 0, 11: 0, 12: 1, 13: 2, 14: 3, 15: 0, 16: 0, 17: 1, 18: 0,
	}
	for pos, height := range expected {
		require.Equal(t, height, posHeight(pos), "pos %d", pos)
	}
}

func TestLeafIndexToPos(t *testing.T) {
	for i, pos := range []uint64{0, 1, 3, 4, 7, 8, 10, 11, 15, 16, 18} {
		require.Equal(t, pos, LeafIndexToPos(uint64(i)))
	}
}

func TestMMRSize(t *testing.T) {
	require.Equal(t, uint64(0), MMRSize(0))
	require.Equal(t, uint64(1), MMRSize(1))
	require.Equal(t, uint64(3), MMRSize(2))
	require.Equal(t, uint64(4), MMRSize(3))
	require.Equal(t, uint64(7), MMRSize(4))
	require.Equal(t, uint64(19), MMRSize(11))
}

func TestPeaks(t *testing.T) {
	require.Empty(t, peaks(0))
	require.Equal(t, []uint64{0}, peaks(1))
	require.Equal(t, []uint64{2}, peaks(3))
	require.Equal(t, []uint64{2, 3}, peaks(4))
	require.Equal(t, []uint64{6}, peaks(7))
	require.Equal(t, []uint64{14, 17, 18}, peaks(19))
}

func TestMMR_Push(t *testing.T) {
	m := NewMMR()
	require.Equal(t, common.Hash{}, m.Root())

	require.NoError(t, m.Push(leaf(0)))
	require.Equal(t, leaf(0), m.Root())

	require.NoError(t, m.Push(leaf(1)))
	require.Equal(t, merge(leaf(0), leaf(1)), m.Root())

	require.NoError(t, m.Push(leaf(2)))
	require.Equal(t, merge(merge(leaf(0), leaf(1)), leaf(2)), m.Root())
	require.Equal(t, uint64(4), m.Size())
	require.Equal(t, uint64(3), m.LeafCount())
}

func TestMMR_RootIndependentOfGrouping(t *testing.T) {
	const n = 37

	oneByOne := NewMMR()
	for i := 0; i < n; i++ {
		require.NoError(t, oneByOne.Push(leaf(i)))
	}

	for _, batch := range []int{2, 3, 5, 8, 16, n} {
		store := NewMemStore()
		var size uint64
		for start := 0; start < n; start += batch {
			// a fresh appender per batch only knows the persisted size
			for i := start; i < start+batch && i < n; i++ {
				var err error
				size, err = Append(store, size, leaf(i))
				require.NoError(t, err)
			}
		}

		root, err := Root(store, size)
		require.NoError(t, err)
		require.Equal(t, oneByOne.Root(), root, "batch size %d", batch)
	}
}

func TestMMR_ProofRoundTrip(t *testing.T) {
	for _, n := range []int{1, 2, 3, 7, 11, 32, 33} {
		m := NewMMR()
		for i := 0; i < n; i++ {
			require.NoError(t, m.Push(leaf(i)))
		}

		root := m.Root()
		for i := 0; i < n; i++ {
			proof, err := m.Proof(uint64(i))
			require.NoError(t, err)
			require.True(t, VerifyProof(root, leaf(i), proof), "n=%d leaf=%d", n, i)
			require.False(t, VerifyProof(root, leaf(i+1000), proof), "n=%d leaf=%d", n, i)
		}
	}
}

func TestMMR_ProofRejectsTamperedPeaks(t *testing.T) {
	m := NewMMR()
	for i := 0; i < 11; i++ {
		require.NoError(t, m.Push(leaf(i)))
	}

	proof, err := m.Proof(4)
	require.NoError(t, err)

	proof.Peaks[len(proof.Peaks)-1] = common.HexToHash("0xdead")
	require.False(t, VerifyProof(m.Root(), leaf(4), proof))
}

func TestMMR_ProofOutOfRange(t *testing.T) {
	m := NewMMR()
	require.NoError(t, m.Push(leaf(0)))

	_, err := m.Proof(5)
	require.Error(t, err)
}

func TestMMR_Truncate(t *testing.T) {
	m := NewMMR()
	roots := make([]common.Hash, 0, 20)
	for i := 0; i < 20; i++ {
		require.NoError(t, m.Push(leaf(i)))
		roots = append(roots, m.Root())
	}

	m.Truncate(9)
	require.Equal(t, uint64(9), m.LeafCount())
	require.Equal(t, roots[8], m.Root())

	// re-appending the same leaves reproduces the same roots
	for i := 9; i < 20; i++ {
		require.NoError(t, m.Push(leaf(i)))
		require.Equal(t, roots[i], m.Root())
	}
}
