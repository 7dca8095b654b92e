package merkle

import (
	"encoding/binary"

	"github.com/reservewatch/reservewatch-go/pkg/crypto"
	"github.com/reservewatch/reservewatch-go/pkg/types"
)

// CanonicalEncode returns the fixed byte layout committed for a record:
//
//	uint32 big-endian len(ID) || ID bytes || uint64 big-endian Amount
//
// The length prefix keeps ("ab", x) and ("a", y) from sharing a preimage.
func CanonicalEncode(record types.ReserveRecord) []byte {
	data := make([]byte, 4+len(record.ID)+8)
	binary.BigEndian.PutUint32(data[0:4], uint32(len(record.ID)))
	copy(data[4:], record.ID)
	binary.BigEndian.PutUint64(data[4+len(record.ID):], record.Amount)
	return data
}

// HashRecord computes the merkle leaf for a record.
func HashRecord(h crypto.Hasher, record types.ReserveRecord) [32]byte {
	return h.Hash(CanonicalEncode(record))
}

// hashPair computes H(left || right) for two 32-byte hashes.
func hashPair(h crypto.Hasher, left, right [32]byte) [32]byte {
	return h.Hash(left[:], right[:])
}
