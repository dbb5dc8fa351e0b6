package poi

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrNodeNotFound is returned by a NodeStore that has no node at the requested position.
var ErrNodeNotFound = errors.New("mmr node not found")

// NodeStore holds MMR nodes by 0-indexed position.
type NodeStore interface {
	Node(pos uint64) (common.Hash, error)
	PutNode(pos uint64, h common.Hash) error
}

// Proof is an inclusion proof of one leaf against the root of an MMR of size MMRSize.
type Proof struct {
	LeafIndex uint64        `json:"leafIndex"`
	MMRSize   uint64        `json:"mmrSize"`
	Siblings  []common.Hash `json:"siblings"`
	Peaks     []common.Hash `json:"peaks"`
}

func merge(left, right common.Hash) common.Hash {
	return crypto.Keccak256Hash(left.Bytes(), right.Bytes())
}

func allOnes(n uint64) bool {
	return n != 0 && n&(n+1) == 0
}

func jumpLeft(pos uint64) uint64 {
	msb := uint64(1) << (bits.Len64(pos) - 1)
	return pos - (msb - 1)
}

// posHeight returns the height of the node at 0-indexed pos (leaves are height 0).
func posHeight(pos uint64) uint64 {
	pos++
	for !allOnes(pos) {
		pos = jumpLeft(pos)
	}
	return uint64(bits.Len64(pos)) - 1
}

func parentOffset(height uint64) uint64 {
	return 2 << height
}

func siblingOffset(height uint64) uint64 {
	return (2 << height) - 1
}

// LeafIndexToPos returns the node position of the leaf with the given index.
func LeafIndexToPos(index uint64) uint64 {
	return MMRSize(index+1) - uint64(bits.TrailingZeros64(index+1)) - 1
}

// MMRSize returns the number of nodes of an MMR holding leafCount leaves.
func MMRSize(leafCount uint64) uint64 {
	return 2*leafCount - uint64(bits.OnesCount64(leafCount))
}

func peakPosByHeight(height uint64) uint64 {
	return (1 << (height + 1)) - 2 //nolint:mnd
}

func leftPeak(size uint64) (height, pos uint64) {
	height = 1
	prev := uint64(0)
	pos = peakPosByHeight(height)
	for pos < size {
		height++
		prev = pos
		pos = peakPosByHeight(height)
	}
	return height - 1, prev
}

func rightPeak(height, peakPos, size uint64) (uint64, uint64, bool) {
	pos := peakPos + siblingOffset(height)
	for pos > size-1 {
		if height == 0 {
			return 0, 0, false
		}
		pos -= parentOffset(height - 1)
		height--
	}
	return height, pos, true
}

// peaks returns the peak positions of an MMR of the given size, left to right.
func peaks(size uint64) []uint64 {
	if size == 0 {
		return nil
	}

	height, pos := leftPeak(size)
	out := []uint64{pos}
	for height > 0 {
		h, p, ok := rightPeak(height, pos, size)
		if !ok {
			break
		}
		height, pos = h, p
		out = append(out, pos)
	}
	return out
}

// bag folds peak hashes right to left into a single root. The empty MMR has the zero root.
func bag(hashes []common.Hash) common.Hash {
	if len(hashes) == 0 {
		return common.Hash{}
	}

	acc := hashes[len(hashes)-1]
	for i := len(hashes) - 2; i >= 0; i-- {
		acc = merge(hashes[i], acc)
	}
	return acc
}

// Append adds a leaf to the MMR of the given size, writing the leaf and every parent it
// completes. It returns the new size.
func Append(store NodeStore, size uint64, leaf common.Hash) (uint64, error) {
	pos := size
	if err := store.PutNode(pos, leaf); err != nil {
		return 0, err
	}

	current := leaf
	height := uint64(0)
	for posHeight(pos+1) > height {
		pos++
		leftPos := pos - parentOffset(height)

		left, err := store.Node(leftPos)
		if err != nil {
			return 0, fmt.Errorf("failed to read node %d: %w", leftPos, err)
		}

		current = merge(left, current)
		if err := store.PutNode(pos, current); err != nil {
			return 0, err
		}
		height++
	}

	return pos + 1, nil
}

// Root returns the bagged root of the MMR of the given size.
func Root(store NodeStore, size uint64) (common.Hash, error) {
	hashes, err := peakHashes(store, size)
	if err != nil {
		return common.Hash{}, err
	}
	return bag(hashes), nil
}

func peakHashes(store NodeStore, size uint64) ([]common.Hash, error) {
	positions := peaks(size)
	hashes := make([]common.Hash, len(positions))
	for i, p := range positions {
		h, err := store.Node(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read peak %d: %w", p, err)
		}
		hashes[i] = h
	}
	return hashes, nil
}

// GenerateProof builds the inclusion proof of leafIndex in the MMR of the given size.
func GenerateProof(store NodeStore, size, leafIndex uint64) (Proof, error) {
	pos := LeafIndexToPos(leafIndex)
	if pos >= size {
		return Proof{}, fmt.Errorf("leaf %d is not in an mmr of size %d", leafIndex, size)
	}

	peakSet := make(map[uint64]bool)
	for _, p := range peaks(size) {
		peakSet[p] = true
	}

	var siblings []common.Hash
	height := uint64(0)
	for !peakSet[pos] {
		var sib uint64
		if posHeight(pos+1) > height {
			sib = pos - siblingOffset(height)
			pos++
		} else {
			sib = pos + siblingOffset(height)
			pos += parentOffset(height)
		}

		h, err := store.Node(sib)
		if err != nil {
			return Proof{}, fmt.Errorf("failed to read sibling %d: %w", sib, err)
		}
		siblings = append(siblings, h)
		height++
	}

	peakList, err := peakHashes(store, size)
	if err != nil {
		return Proof{}, err
	}

	return Proof{
		LeafIndex: leafIndex,
		MMRSize:   size,
		Siblings:  siblings,
		Peaks:     peakList,
	}, nil
}

// VerifyProof checks that leaf is included at proof.LeafIndex under root.
func VerifyProof(root, leaf common.Hash, proof Proof) bool {
	pos := LeafIndexToPos(proof.LeafIndex)
	if pos >= proof.MMRSize {
		return false
	}

	current := leaf
	height := uint64(0)
	for _, sib := range proof.Siblings {
		if posHeight(pos+1) > height {
			pos++
			current = merge(sib, current)
		} else {
			pos += parentOffset(height)
			current = merge(current, sib)
		}
		height++
	}

	positions := peaks(proof.MMRSize)
	if len(positions) != len(proof.Peaks) {
		return false
	}

	for i, p := range positions {
		if p == pos {
			return proof.Peaks[i] == current && bag(proof.Peaks) == root
		}
	}
	return false
}

// MemStore is an in-memory NodeStore.
type MemStore struct {
	nodes map[uint64]common.Hash
}

// NewMemStore returns an empty in-memory node store.
func NewMemStore() *MemStore {
	return &MemStore{nodes: make(map[uint64]common.Hash)}
}

func (m *MemStore) Node(pos uint64) (common.Hash, error) {
	h, ok := m.nodes[pos]
	if !ok {
		return common.Hash{}, fmt.Errorf("position %d: %w", pos, ErrNodeNotFound)
	}
	return h, nil
}

func (m *MemStore) PutNode(pos uint64, h common.Hash) error {
	m.nodes[pos] = h
	return nil
}

// Truncate drops every node at or beyond size.
func (m *MemStore) Truncate(size uint64) {
	for pos := range m.nodes {
		if pos >= size {
			delete(m.nodes, pos)
		}
	}
}

// MMR is an in-memory Merkle Mountain Range.
type MMR struct {
	store *MemStore
	size  uint64
	count uint64
}

// NewMMR returns an empty in-memory MMR.
func NewMMR() *MMR {
	return &MMR{store: NewMemStore()}
}

// Push appends a leaf.
func (m *MMR) Push(leaf common.Hash) error {
	size, err := Append(m.store, m.size, leaf)
	if err != nil {
		return err
	}
	m.size = size
	m.count++
	return nil
}

// Root returns the current root.
func (m *MMR) Root() common.Hash {
	root, _ := Root(m.store, m.size)
	return root
}

// Size returns the number of nodes.
func (m *MMR) Size() uint64 {
	return m.size
}

// LeafCount returns the number of leaves.
func (m *MMR) LeafCount() uint64 {
	return m.count
}

// Proof returns the inclusion proof of a leaf against the current root.
func (m *MMR) Proof(leafIndex uint64) (Proof, error) {
	return GenerateProof(m.store, m.size, leafIndex)
}

// Truncate rewinds the MMR to its first leafCount leaves.
func (m *MMR) Truncate(leafCount uint64) {
	if leafCount >= m.count {
		return
	}
	m.size = MMRSize(leafCount)
	m.count = leafCount
	m.store.Truncate(m.size)
}
