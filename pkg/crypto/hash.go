package crypto

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/wealdtech/go-merkletree/v2/blake2b"
	"golang.org/x/crypto/sha3"
)

// HashAlgorithm names a supported hash primitive.
type HashAlgorithm string

func (h HashAlgorithm) String() string {
	return string(h)
}

const (
	HashAlgorithmKeccak256 HashAlgorithm = "keccak256"
	HashAlgorithmSHA256    HashAlgorithm = "sha256"
	HashAlgorithmSHA3      HashAlgorithm = "sha3-256"
	HashAlgorithmBlake2b   HashAlgorithm = "blake2b-256"
)

// DefaultHashAlgorithm is keccak256 so roots can be checked by an EVM verifier.
const DefaultHashAlgorithm = HashAlgorithmKeccak256

// Hasher is the single fixed-width hash primitive used for every leaf and
// internal node of a tree. Implementations must be safe for concurrent use.
type Hasher interface {
	// Hash returns the 32-byte digest of the concatenation of data.
	Hash(data ...[]byte) [32]byte
	// Algorithm returns the name recorded alongside committed roots.
	Algorithm() HashAlgorithm
}

// Keccak256Hasher hashes with keccak256 (Solidity's keccak256).
type Keccak256Hasher struct{}

func (Keccak256Hasher) Hash(data ...[]byte) [32]byte {
	return crypto.Keccak256Hash(data...)
}

func (Keccak256Hasher) Algorithm() HashAlgorithm {
	return HashAlgorithmKeccak256
}

// SHA256Hasher hashes with SHA-256 (Solidity's sha256 precompile).
type SHA256Hasher struct{}

func (SHA256Hasher) Hash(data ...[]byte) [32]byte {
	h := sha256.New()
	for _, d := range data {
		h.Write(d)
	}
	return [32]byte(h.Sum(nil))
}

func (SHA256Hasher) Algorithm() HashAlgorithm {
	return HashAlgorithmSHA256
}

// SHA3Hasher hashes with NIST SHA3-256. Note this differs from keccak256 in padding.
type SHA3Hasher struct{}

func (SHA3Hasher) Hash(data ...[]byte) [32]byte {
	h := sha3.New256()
	for _, d := range data {
		h.Write(d)
	}
	return [32]byte(h.Sum(nil))
}

func (SHA3Hasher) Algorithm() HashAlgorithm {
	return HashAlgorithmSHA3
}

// Blake2bHasher hashes with BLAKE2b-256.
type Blake2bHasher struct {
	inner *blake2b.BLAKE2b
}

func NewBlake2bHasher() *Blake2bHasher {
	return &Blake2bHasher{inner: blake2b.New()}
}

func (b *Blake2bHasher) Hash(data ...[]byte) [32]byte {
	return [32]byte(b.inner.Hash(data...))
}

func (b *Blake2bHasher) Algorithm() HashAlgorithm {
	return HashAlgorithmBlake2b
}

// NewHasher returns the hasher for the named algorithm. An empty name selects
// DefaultHashAlgorithm.
func NewHasher(algorithm HashAlgorithm) (Hasher, error) {
	switch HashAlgorithm(strings.ToLower(string(algorithm))) {
	case "", HashAlgorithmKeccak256:
		return Keccak256Hasher{}, nil
	case HashAlgorithmSHA256:
		return SHA256Hasher{}, nil
	case HashAlgorithmSHA3:
		return SHA3Hasher{}, nil
	case HashAlgorithmBlake2b:
		return NewBlake2bHasher(), nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %s", algorithm)
	}
}

// SupportedHashAlgorithms lists every algorithm NewHasher accepts.
func SupportedHashAlgorithms() []HashAlgorithm {
	return []HashAlgorithm{
		HashAlgorithmKeccak256,
		HashAlgorithmSHA256,
		HashAlgorithmSHA3,
		HashAlgorithmBlake2b,
	}
}
