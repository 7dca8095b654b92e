package crypto

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestNewHasher tests hasher lookup by algorithm name
func TestNewHasher(t *testing.T) {
	for _, alg := range SupportedHashAlgorithms() {
		t.Run(alg.String(), func(t *testing.T) {
			h, err := NewHasher(alg)
			require.NoError(t, err)
			require.Equal(t, alg, h.Algorithm())
		})
	}

	t.Run("Empty name selects default", func(t *testing.T) {
		h, err := NewHasher("")
		require.NoError(t, err)
		require.Equal(t, DefaultHashAlgorithm, h.Algorithm())
	})

	t.Run("Case insensitive", func(t *testing.T) {
		h, err := NewHasher("SHA256")
		require.NoError(t, err)
		require.Equal(t, HashAlgorithmSHA256, h.Algorithm())
	})

	t.Run("Unsupported", func(t *testing.T) {
		h, err := NewHasher("md5")
		require.Error(t, err)
		require.Nil(t, h)
	})
}

// TestHasher_KnownVectors checks each primitive against published digests of "abc"
func TestHasher_KnownVectors(t *testing.T) {
	testCases := []struct {
		alg      HashAlgorithm
		expected string
	}{
		{HashAlgorithmKeccak256, "4e03657aea45a94fc7d47ba826c8d667c0d1e6e33a64a036ec44f58fa12d6c45"},
		{HashAlgorithmSHA256, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
		{HashAlgorithmSHA3, "3a985da74fe225b2045c172d6bd390bd855f086e3e9d525b46bfe24511431532"},
		{HashAlgorithmBlake2b, "bddd813c634239723171ef3fee98579b94964e3bb1cb3e427262c8c068d52319"},
	}

	for _, tc := range testCases {
		t.Run(tc.alg.String(), func(t *testing.T) {
			h, err := NewHasher(tc.alg)
			require.NoError(t, err)

			digest := h.Hash([]byte("abc"))
			require.Equal(t, tc.expected, hex.EncodeToString(digest[:]))
		})
	}
}

// TestHasher_Concatenation verifies multi-part input hashes like the joined bytes
func TestHasher_Concatenation(t *testing.T) {
	for _, alg := range SupportedHashAlgorithms() {
		t.Run(alg.String(), func(t *testing.T) {
			h, err := NewHasher(alg)
			require.NoError(t, err)

			joined := h.Hash([]byte("left-right"))
			parts := h.Hash([]byte("left-"), []byte("right"))
			require.Equal(t, joined, parts)
		})
	}
}

// TestHasher_Determinism tests that hashing is deterministic and input sensitive
func TestHasher_Determinism(t *testing.T) {
	for _, alg := range SupportedHashAlgorithms() {
		t.Run(alg.String(), func(t *testing.T) {
			h, err := NewHasher(alg)
			require.NoError(t, err)

			hash1 := h.Hash([]byte("test data 1"))
			hash2 := h.Hash([]byte("test data 1"))
			hash3 := h.Hash([]byte("test data 2"))

			require.Equal(t, hash1, hash2, "Hash should be deterministic")
			require.NotEqual(t, hash1, hash3, "Different data should produce different hashes")
			require.NotEqual(t, [32]byte{}, hash1, "Hash should not be zero")
		})
	}
}
