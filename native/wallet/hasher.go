package wallet

import (
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	sha256 "github.com/minio/sha256-simd"
	"lukechampine.com/blake3"
)

// Supported digest algorithms.
const (
	HashSHA256    = "sha256"
	HashKeccak256 = "keccak256"
	HashBlake3    = "blake3"
)

// DefaultHashAlgorithm is used when no algorithm is configured.
const DefaultHashAlgorithm = HashSHA256

// Hasher produces the 256-bit registry digest of ordered identity fields.
type Hasher struct {
	alg string
}

// NewHasher returns a hasher for alg. An empty name selects the default.
func NewHasher(alg string) (Hasher, error) {
	name := strings.ToLower(strings.TrimSpace(alg))
	if name == "" {
		name = DefaultHashAlgorithm
	}
	switch name {
	case HashSHA256, HashKeccak256, HashBlake3:
		return Hasher{alg: name}, nil
	default:
		return Hasher{}, fmt.Errorf("%w: unsupported hash algorithm %q", ErrValidation, alg)
	}
}

// Algorithm returns the algorithm name recorded in the contract header.
func (h Hasher) Algorithm() string {
	if h.alg == "" {
		return DefaultHashAlgorithm
	}
	return h.alg
}

// Digest hashes the concatenation of fields in argument order. Field
// boundaries are not encoded, so callers fix the field order per policy.
func (h Hasher) Digest(fields ...[]byte) [32]byte {
	switch h.Algorithm() {
	case HashKeccak256:
		return ethcrypto.Keccak256Hash(fields...)
	case HashBlake3:
		hasher := blake3.New(32, nil)
		for _, f := range fields {
			hasher.Write(f)
		}
		var out [32]byte
		copy(out[:], hasher.Sum(nil))
		return out
	default:
		hasher := sha256.New()
		for _, f := range fields {
			hasher.Write(f)
		}
		var out [32]byte
		copy(out[:], hasher.Sum(nil))
		return out
	}
}
