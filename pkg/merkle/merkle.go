package merkle

import (
	"crypto/subtle"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/reservewatch/reservewatch-go/pkg/crypto"
	"github.com/reservewatch/reservewatch-go/pkg/types"
)

// parallelLeafThreshold is the batch size above which leaves are hashed concurrently.
const parallelLeafThreshold = 2048

// BuildMerkleTree creates a binary merkle tree from an ordered batch of reserve
// records and retains every level so proofs can be generated later.
//
// Records are NOT sorted: leaf i is the hash of records[i], and reordering the
// batch changes the root. If there's an odd number of nodes at any level, the
// last node is duplicated and paired with itself. GenerateProof and VerifyProof
// follow the same rule, so a verifier using the "promote unpaired node"
// convention will not accept these proofs.
//
// Record IDs must be unique within a batch. Duplicates are rejected with
// ErrDuplicateRecord, since [a, b, c] and [a, b, c, c] would otherwise share a root.
func BuildMerkleTree(h crypto.Hasher, records []types.ReserveRecord) (*MerkleTree, error) {
	leaves, err := hashLeaves(h, records)
	if err != nil {
		return nil, err
	}

	// Build tree levels bottom-up
	levels := make([][][32]byte, 0)
	levels = append(levels, leaves)

	currentLevel := leaves
	for len(currentLevel) > 1 {
		currentLevel = foldLevel(h, currentLevel)
		levels = append(levels, currentLevel)
	}

	return &MerkleTree{
		Leaves: leaves,
		Root:   currentLevel[0],
		hasher: h,
		levels: levels,
	}, nil
}

// ComputeRoot returns only the root of a batch, for callers that publish a
// commitment without needing to serve proofs against it.
func ComputeRoot(h crypto.Hasher, records []types.ReserveRecord) ([32]byte, error) {
	currentLevel, err := hashLeaves(h, records)
	if err != nil {
		return [32]byte{}, err
	}
	for len(currentLevel) > 1 {
		currentLevel = foldLevel(h, currentLevel)
	}
	return currentLevel[0], nil
}

// GenerateProof creates an inclusion proof for the leaf at the given index.
// Each step carries the sibling hash and which side the sibling sits on.
func (mt *MerkleTree) GenerateProof(leafIndex int) (*types.InclusionProof, error) {
	if leafIndex < 0 || leafIndex >= len(mt.Leaves) {
		return nil, fmt.Errorf("%w: leaf index %d (tree has %d leaves)", types.ErrIndexOutOfRange, leafIndex, len(mt.Leaves))
	}

	steps := make([]types.ProofStep, 0, mt.Depth())
	index := leafIndex

	// Traverse from leaf to root, collecting sibling hashes
	for level := 0; level < len(mt.levels)-1; level++ {
		currentLevel := mt.levels[level]

		var step types.ProofStep
		if index%2 == 0 {
			// Node is on the left, sibling is on the right
			step.Side = types.SideRight
			if index+1 < len(currentLevel) {
				step.Sibling = currentLevel[index+1]
			} else {
				// Last node of an odd level is paired with itself
				step.Sibling = currentLevel[index]
			}
		} else {
			step.Side = types.SideLeft
			step.Sibling = currentLevel[index-1]
		}
		steps = append(steps, step)

		index = index / 2
	}

	return &types.InclusionProof{
		LeafIndex: leafIndex,
		LeafCount: len(mt.Leaves),
		Leaf:      mt.Leaves[leafIndex],
		Steps:     steps,
	}, nil
}

// VerifyProof checks that record is committed at proof.LeafIndex under root.
//
// It is pure and needs only the record, the proof and the claimed root. A
// well-formed proof that does not match returns (false, nil); structurally
// invalid proofs return ErrMalformedProof. Every step is always folded and the
// final comparison is constant time, so the running time does not reveal
// where a forged path diverges.
func VerifyProof(h crypto.Hasher, record types.ReserveRecord, proof *types.InclusionProof, root [32]byte) (bool, error) {
	if err := ValidateProof(proof); err != nil {
		return false, err
	}

	leaf := HashRecord(h, record)
	currentHash := leaf
	position := 0

	// The last node of an odd level is paired with itself, and no other node
	// may be. This rejects a proof that places the final record of
	// [a, b, c] at index 3 of a claimed [a, b, c, c].
	pairing := 1
	index, levelSize := proof.LeafIndex, proof.LeafCount

	for i, step := range proof.Steps {
		duplicated := 0
		if index == levelSize-1 && levelSize%2 == 1 {
			duplicated = 1
		}
		selfPaired := subtle.ConstantTimeCompare(step.Sibling[:], currentHash[:])
		pairing &= subtle.ConstantTimeEq(int32(selfPaired), int32(duplicated))
		index, levelSize = index/2, (levelSize+1)/2

		if step.Side == types.SideLeft {
			// Sibling on the left, current node is a right child
			currentHash = hashPair(h, step.Sibling, currentHash)
			position |= 1 << i
		} else {
			currentHash = hashPair(h, currentHash, step.Sibling)
		}
	}

	rootMatch := subtle.ConstantTimeCompare(currentHash[:], root[:])
	positionMatch := constantTimeEqInt(position, proof.LeafIndex)
	leafMatch := 1
	if proof.Leaf != ([32]byte{}) {
		leafMatch = subtle.ConstantTimeCompare(proof.Leaf[:], leaf[:])
	}

	return rootMatch&positionMatch&leafMatch&pairing == 1, nil
}

// constantTimeEqInt compares two non-negative ints as 64-bit values without branching
func constantTimeEqInt(a, b int) int {
	x, y := uint64(a), uint64(b)
	return subtle.ConstantTimeEq(int32(uint32(x)), int32(uint32(y))) &
		subtle.ConstantTimeEq(int32(uint32(x>>32)), int32(uint32(y>>32)))
}

// ValidateProof checks the structure of a proof without hashing anything.
func ValidateProof(proof *types.InclusionProof) error {
	if proof == nil {
		return fmt.Errorf("%w: proof is nil", types.ErrMalformedProof)
	}
	if proof.LeafCount < 1 {
		return fmt.Errorf("%w: leaf count must be positive, got %d", types.ErrMalformedProof, proof.LeafCount)
	}
	if proof.LeafIndex < 0 || proof.LeafIndex >= proof.LeafCount {
		return fmt.Errorf("%w: leaf index %d outside tree of %d leaves", types.ErrMalformedProof, proof.LeafIndex, proof.LeafCount)
	}
	if expected := TreeDepth(proof.LeafCount); len(proof.Steps) != expected {
		return fmt.Errorf("%w: expected %d steps for %d leaves, got %d", types.ErrMalformedProof, expected, proof.LeafCount, len(proof.Steps))
	}
	for i, step := range proof.Steps {
		if step.Side != types.SideLeft && step.Side != types.SideRight {
			return fmt.Errorf("%w: step %d has no side flag", types.ErrMalformedProof, i)
		}
	}
	return nil
}

// TreeDepth returns the number of levels above the leaves for a tree of
// leafCount leaves under the duplicate-last-node rule.
func TreeDepth(leafCount int) int {
	depth := 0
	for n := leafCount; n > 1; n = (n + 1) / 2 {
		depth++
	}
	return depth
}

// hashLeaves validates the batch and hashes every record into a leaf.
func hashLeaves(h crypto.Hasher, records []types.ReserveRecord) ([][32]byte, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: cannot build merkle tree from zero records", types.ErrEmptyBatch)
	}

	seen := make(map[string]int, len(records))
	for i, record := range records {
		if first, ok := seen[record.ID]; ok {
			return nil, fmt.Errorf("%w: %q at positions %d and %d", types.ErrDuplicateRecord, record.ID, first, i)
		}
		seen[record.ID] = i
	}

	leaves := make([][32]byte, len(records))
	if len(records) < parallelLeafThreshold {
		for i, record := range records {
			leaves[i] = HashRecord(h, record)
		}
		return leaves, nil
	}

	// Each worker owns a disjoint range of leaves
	workers := runtime.GOMAXPROCS(0)
	chunk := (len(records) + workers - 1) / workers
	var g errgroup.Group
	for start := 0; start < len(records); start += chunk {
		start, end := start, min(start+chunk, len(records))
		g.Go(func() error {
			for i := start; i < end; i++ {
				leaves[i] = HashRecord(h, records[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return leaves, nil
}

// foldLevel hashes adjacent pairs of a level into the next level up.
func foldLevel(h crypto.Hasher, level [][32]byte) [][32]byte {
	next := make([][32]byte, 0, (len(level)+1)/2)
	for i := 0; i < len(level); i += 2 {
		left := level[i]
		right := left
		// If odd number of nodes, duplicate the last one
		if i+1 < len(level) {
			right = level[i+1]
		}
		next = append(next, hashPair(h, left, right))
	}
	return next
}
