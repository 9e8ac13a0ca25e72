package cashu

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const (
	KeysetIdLength  = 8
	PublicKeyLength = secp256k1.PubKeyBytesLenCompressed

	keysetIdVersion byte = 0x00
)

var (
	ErrInvalidKeysetId  = errors.New("invalid keyset id")
	ErrInvalidPublicKey = errors.New("invalid public key")
)

// KeysetId identifies a signing keyset. The first byte is the
// version, the rest is derived from the keyset public keys.
type KeysetId [KeysetIdLength]byte

func KeysetIdFromBytes(b []byte) (KeysetId, error) {
	var id KeysetId
	if len(b) != KeysetIdLength {
		return id, fmt.Errorf("%w: expected %d bytes but got %d", ErrInvalidKeysetId, KeysetIdLength, len(b))
	}
	if b[0] != keysetIdVersion {
		return id, fmt.Errorf("%w: unsupported version %02x", ErrInvalidKeysetId, b[0])
	}
	copy(id[:], b)
	return id, nil
}

func KeysetIdFromHex(s string) (KeysetId, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return KeysetId{}, fmt.Errorf("%w: %v", ErrInvalidKeysetId, err)
	}
	return KeysetIdFromBytes(b)
}

func (id KeysetId) String() string {
	return hex.EncodeToString(id[:])
}

func (id KeysetId) Bytes() []byte {
	return id[:]
}

func (id KeysetId) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

func (id *KeysetId) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := KeysetIdFromHex(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// PublicKey is a compressed secp256k1 point. It is used both for
// blinded secrets (B_) and for signatures (C_, C).
type PublicKey [PublicKeyLength]byte

// ParsePublicKey validates that b is a compressed point on the curve.
func ParsePublicKey(b []byte) (PublicKey, error) {
	var pk PublicKey
	if len(b) != PublicKeyLength {
		return pk, fmt.Errorf("%w: expected %d bytes but got %d", ErrInvalidPublicKey, PublicKeyLength, len(b))
	}
	if _, err := secp256k1.ParsePubKey(b); err != nil {
		return pk, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	copy(pk[:], b)
	return pk, nil
}

func PublicKeyFromHex(s string) (PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return ParsePublicKey(b)
}

func NewPublicKey(key *secp256k1.PublicKey) PublicKey {
	var pk PublicKey
	copy(pk[:], key.SerializeCompressed())
	return pk
}

// Point returns the curve point. It only fails for a zero-value PublicKey.
func (pk PublicKey) Point() (*secp256k1.PublicKey, error) {
	return secp256k1.ParsePubKey(pk[:])
}

func (pk PublicKey) String() string {
	return hex.EncodeToString(pk[:])
}

func (pk PublicKey) Bytes() []byte {
	return pk[:]
}

func (pk PublicKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(pk.String())
}

func (pk *PublicKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := PublicKeyFromHex(s)
	if err != nil {
		return err
	}
	*pk = parsed
	return nil
}
