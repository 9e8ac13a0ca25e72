package storage

import (
	"context"
	"errors"

	"github.com/nutsnode/mintcore/cashu"
)

var (
	ErrKeysetNotFound = errors.New("keyset not found")
	// ErrConflict is returned when a write violates the uniqueness of a
	// blinded secret or of a proof Y.
	ErrConflict = errors.New("unique constraint violated")
)

// MintDB is the persistent store of the mint. Everything the transaction
// core reads or writes goes through a Tx obtained from BeginTx.
type MintDB interface {
	BeginTx(ctx context.Context) (Tx, error)

	SaveKeyset(ctx context.Context, keyset DBKeyset) error
	GetKeysets(ctx context.Context) ([]DBKeyset, error)
	UpdateKeysetActive(ctx context.Context, keysetId cashu.KeysetId, active bool) error

	Close()
}

// KeysetReader is the read side needed to resolve keyset info.
type KeysetReader interface {
	GetKeysetInfo(ctx context.Context, keysetId cashu.KeysetId) (DBKeyset, error)
}

// Tx is a store transaction owned by the caller. The core never
// commits or rolls back a Tx it was handed.
type Tx interface {
	KeysetReader

	IsAnyBlindMessageAlreadySigned(ctx context.Context, B_s []cashu.PublicKey) (bool, error)
	IsAnyProofAlreadySpent(ctx context.Context, Ys []cashu.PublicKey) (bool, error)

	InsertBlindSignatures(ctx context.Context, rows []BlindSignatureRow) error
	InsertSpentProofs(ctx context.Context, rows []SpentProofRow) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type DBKeyset struct {
	Id          cashu.KeysetId
	Unit        cashu.Unit
	Active      bool
	InputFeePpk uint
}

type BlindSignatureRow struct {
	B_        cashu.PublicKey
	Signature cashu.BlindSignature
}

type SpentProofRow struct {
	Y     cashu.PublicKey
	Proof cashu.Proof
}
