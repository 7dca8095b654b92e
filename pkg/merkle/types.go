package merkle

import (
	"github.com/reservewatch/reservewatch-go/pkg/crypto"
)

// MerkleTree represents a binary merkle tree built from reserve records.
// Leaves keep the order of the records they were built from; the position of
// a record is part of the commitment.
type MerkleTree struct {
	// Leaves contains the leaf hashes in batch order
	Leaves [][32]byte

	// Root is the merkle root hash
	Root [32]byte

	hasher crypto.Hasher

	// levels stores all tree levels for proof generation
	// levels[0] = leaves, levels[len-1] = root
	levels [][][32]byte
}

// LeafCount returns the number of records committed by the tree.
func (mt *MerkleTree) LeafCount() int {
	return len(mt.Leaves)
}

// Depth returns the number of proof steps needed for any leaf.
func (mt *MerkleTree) Depth() int {
	return len(mt.levels) - 1
}

// Algorithm returns the hash algorithm the tree was built with.
func (mt *MerkleTree) Algorithm() crypto.HashAlgorithm {
	return mt.hasher.Algorithm()
}
