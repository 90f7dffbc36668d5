package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// CredentialPrefix is the human-readable part used when rendering credentials.
const CredentialPrefix = "pk"

// CredentialLength is the size of a compressed secp256k1 public key.
const CredentialLength = 33

var (
	// ErrInvalidCredential marks public key bytes that cannot identify a signer.
	ErrInvalidCredential = errors.New("crypto: invalid credential")
)

// Credential holds the raw public-key bytes presented by a signing principal.
// Credentials are compared for authorization only; they are never used for
// encryption.
type Credential []byte

// Equal reports whether c and other hold the same bytes, in constant time.
func (c Credential) Equal(other Credential) bool {
	if len(c) == 0 || len(other) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(c, other) == 1
}

// IsZero reports whether the credential is empty.
func (c Credential) IsZero() bool { return len(c) == 0 }

// Bytes returns a copy of the credential bytes.
func (c Credential) Bytes() []byte { return append([]byte(nil), c...) }

// Validate checks that the credential decodes to a secp256k1 public key.
func (c Credential) Validate() error {
	if len(c) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidCredential)
	}
	if len(c) != CredentialLength {
		return fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidCredential, CredentialLength, len(c))
	}
	if _, err := crypto.DecompressPubkey(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	return nil
}

// String renders the credential as a bech32 string with the "pk" prefix.
func (c Credential) String() string {
	if len(c) == 0 {
		return ""
	}
	conv, err := bech32.ConvertBits(c, 8, 5, true)
	if err != nil {
		return hex.EncodeToString(c)
	}
	encoded, err := bech32.Encode(CredentialPrefix, conv)
	if err != nil {
		return hex.EncodeToString(c)
	}
	return encoded
}

// ParseCredential accepts either the bech32 form produced by String or a
// hex string (with or without 0x prefix).
func ParseCredential(raw string) (Credential, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidCredential)
	}
	if strings.HasPrefix(trimmed, CredentialPrefix+"1") {
		prefix, decoded, err := bech32.Decode(trimmed)
		if err != nil {
			return nil, fmt.Errorf("invalid bech32 string: %w", err)
		}
		if prefix != CredentialPrefix {
			return nil, fmt.Errorf("%w: unexpected prefix %q", ErrInvalidCredential, prefix)
		}
		conv, err := bech32.ConvertBits(decoded, 5, 8, false)
		if err != nil {
			return nil, fmt.Errorf("error converting bits: %w", err)
		}
		cred := Credential(conv)
		return cred, cred.Validate()
	}
	decoded, err := hex.DecodeString(strings.TrimPrefix(trimmed, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	cred := Credential(decoded)
	return cred, cred.Validate()
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// Sign produces a 65-byte recoverable signature over the keccak256 hash of msg.
func (k *PrivateKey) Sign(msg []byte) ([]byte, error) {
	return crypto.Sign(crypto.Keccak256(msg), k.PrivateKey)
}

// Credential returns the compressed public key bytes.
func (k *PublicKey) Credential() Credential {
	return Credential(crypto.CompressPubkey(k.PublicKey))
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// RecoverCredential returns the credential of the key that produced sig over
// msg (see PrivateKey.Sign).
func RecoverCredential(msg, sig []byte) (Credential, error) {
	if len(sig) != crypto.SignatureLength {
		return nil, fmt.Errorf("crypto: signature must be %d bytes", crypto.SignatureLength)
	}
	pub, err := crypto.SigToPub(crypto.Keccak256(msg), sig)
	if err != nil {
		return nil, fmt.Errorf("crypto: recover signer: %w", err)
	}
	recovered := Credential(crypto.CompressPubkey(pub))
	if !crypto.VerifySignature(recovered, crypto.Keccak256(msg), sig[:crypto.SignatureLength-1]) {
		return nil, errors.New("crypto: signature verification failed")
	}
	return recovered, nil
}
