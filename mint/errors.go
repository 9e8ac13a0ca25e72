package mint

import (
	"errors"
	"fmt"

	"github.com/nutsnode/mintcore/cashu"
	"github.com/nutsnode/mintcore/mint/storage"
)

type ErrorKind int

const (
	DuplicateToken ErrorKind = iota + 1
	UnknownKeyset
	InactiveKeyset
	UnitMismatch
	AmountOverflow
	AlreadyConsumed
	SecretDecodingFailure
	InvalidProof
	EmptyBatch
	Unbalanced
	// InvalidAmount is an output amount no keyset has a key for.
	InvalidAmount
	BatchTooLarge
	StoreFailure
	SignerFailure
	// SignerContractViolation means the signing oracle answered with
	// something other than one valid point per request. It is never the
	// caller's fault.
	SignerContractViolation
)

func (k ErrorKind) String() string {
	switch k {
	case DuplicateToken:
		return "duplicate token"
	case UnknownKeyset:
		return "unknown keyset"
	case InactiveKeyset:
		return "inactive keyset"
	case UnitMismatch:
		return "unit mismatch"
	case AmountOverflow:
		return "amount overflow"
	case AlreadyConsumed:
		return "already consumed"
	case SecretDecodingFailure:
		return "secret decoding failure"
	case InvalidProof:
		return "invalid proof"
	case EmptyBatch:
		return "empty batch"
	case Unbalanced:
		return "unbalanced"
	case InvalidAmount:
		return "invalid amount"
	case BatchTooLarge:
		return "batch too large"
	case StoreFailure:
		return "store failure"
	case SignerFailure:
		return "signer failure"
	case SignerContractViolation:
		return "signer contract violation"
	}
	return fmt.Sprintf("unknown error kind %d", int(k))
}

// Error is returned by every pipeline and settlement operation. Err, when
// set, is the underlying store, signer or crypto error.
type Error struct {
	Kind ErrorKind
	// KeysetId is set for UnknownKeyset and InactiveKeyset.
	KeysetId cashu.KeysetId
	// Index is the position in the batch of the offending item, or -1.
	Index int
	Err   error
}

var (
	ErrDuplicateToken          = &Error{Kind: DuplicateToken, Index: -1}
	ErrUnknownKeyset           = &Error{Kind: UnknownKeyset, Index: -1}
	ErrInactiveKeyset          = &Error{Kind: InactiveKeyset, Index: -1}
	ErrUnitMismatch            = &Error{Kind: UnitMismatch, Index: -1}
	ErrAmountOverflow          = &Error{Kind: AmountOverflow, Index: -1}
	ErrAlreadyConsumed         = &Error{Kind: AlreadyConsumed, Index: -1}
	ErrSecretDecodingFailure   = &Error{Kind: SecretDecodingFailure, Index: -1}
	ErrInvalidProof            = &Error{Kind: InvalidProof, Index: -1}
	ErrEmptyBatch              = &Error{Kind: EmptyBatch, Index: -1}
	ErrUnbalanced              = &Error{Kind: Unbalanced, Index: -1}
	ErrInvalidAmount           = &Error{Kind: InvalidAmount, Index: -1}
	ErrBatchTooLarge           = &Error{Kind: BatchTooLarge, Index: -1}
	ErrStoreFailure            = &Error{Kind: StoreFailure, Index: -1}
	ErrSignerFailure           = &Error{Kind: SignerFailure, Index: -1}
	ErrSignerContractViolation = &Error{Kind: SignerContractViolation, Index: -1}
)

func newError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Index: -1, Err: err}
}

func keysetError(kind ErrorKind, id cashu.KeysetId) *Error {
	return &Error{Kind: kind, KeysetId: id, Index: -1}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	switch e.Kind {
	case UnknownKeyset, InactiveKeyset:
		msg = fmt.Sprintf("%v %v", msg, e.KeysetId)
	}
	if e.Index >= 0 {
		msg = fmt.Sprintf("%v at index %d", msg, e.Index)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%v: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind, so callers
// can match with errors.Is(err, ErrAlreadyConsumed).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var mintErr *Error
	if errors.As(err, &mintErr) {
		return mintErr.Kind
	}
	return 0
}

// IsCallerError reports whether the request itself was at fault, as
// opposed to the mint being unable to serve it.
func (e *Error) IsCallerError() bool {
	switch e.Kind {
	case StoreFailure, SignerFailure, SignerContractViolation:
		return false
	}
	return true
}

// CashuError maps the error to the code returned to wallets. Internal
// failures are reported with the generic error and never expose their
// cause.
func (e *Error) CashuError() *cashu.Error {
	var cashuErr cashu.Error
	switch e.Kind {
	case DuplicateToken:
		cashuErr = cashu.DuplicateOutputs
	case UnknownKeyset:
		cashuErr = cashu.UnknownKeysetErr
	case InactiveKeyset:
		cashuErr = cashu.InactiveKeysetErr
	case UnitMismatch:
		cashuErr = cashu.MultipleUnitsErr
	case AmountOverflow:
		cashuErr = cashu.AmountOverflowErr
	case AlreadyConsumed:
		cashuErr = cashu.ProofAlreadyUsedErr
	case SecretDecodingFailure:
		cashuErr = cashu.InvalidSecretErr
	case InvalidProof:
		cashuErr = cashu.InvalidProofErr
	case EmptyBatch:
		cashuErr = cashu.EmptyBodyErr
	case Unbalanced:
		cashuErr = cashu.TransactionUnbalancedErr
	case InvalidAmount:
		cashuErr = cashu.InvalidBlindedMessageAmount
	case BatchTooLarge:
		cashuErr = cashu.BatchTooLargeErr
	default:
		cashuErr = cashu.StandardErr
	}
	return &cashuErr
}

// storeError classifies an error returned by the store.
func storeError(err error) *Error {
	switch {
	case errors.Is(err, storage.ErrConflict):
		return newError(AlreadyConsumed, err)
	default:
		return newError(StoreFailure, err)
	}
}

// keysetLookupError classifies an error from a keyset cache lookup.
func keysetLookupError(id cashu.KeysetId, err error) *Error {
	if errors.Is(err, storage.ErrKeysetNotFound) {
		return keysetError(UnknownKeyset, id)
	}
	return newError(StoreFailure, err)
}
