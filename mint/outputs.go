package mint

import (
	"context"
	"fmt"

	"github.com/nutsnode/mintcore/cashu"
	"github.com/nutsnode/mintcore/mint/storage"
)

// KeysetResolver resolves keyset info, reading through q when needed.
// *keysetcache.Cache implements it.
type KeysetResolver interface {
	GetKeysetInfo(ctx context.Context, q storage.KeysetReader, id cashu.KeysetId) (storage.DBKeyset, error)
}

// activeKeyset resolves id and rejects it unless active.
func activeKeyset(ctx context.Context, tx storage.Tx, keysets KeysetResolver, id cashu.KeysetId) (storage.DBKeyset, error) {
	keyset, err := keysets.GetKeysetInfo(ctx, tx, id)
	if err != nil {
		return storage.DBKeyset{}, keysetLookupError(id, err)
	}
	if !keyset.Active {
		return storage.DBKeyset{}, keysetError(InactiveKeyset, id)
	}
	return keyset, nil
}

func checkBatchSize(n int) error {
	if n > cashu.MaxBatchSize {
		return newError(BatchTooLarge, fmt.Errorf("%d items, at most %d", n, cashu.MaxBatchSize))
	}
	return nil
}

// checkSignable rejects outputs the signer has no key for, so that a
// malformed request never reaches it.
func checkSignable(outputs cashu.BlindedMessages) error {
	if err := checkBatchSize(len(outputs)); err != nil {
		return err
	}
	for i, output := range outputs {
		if !output.Amount.IsDenomination() {
			return &Error{Kind: InvalidAmount, Index: i, Err: fmt.Errorf("no key for amount %d", output.Amount)}
		}
	}
	return nil
}

// unitTotals accumulates per-unit totals in order of first appearance.
type unitTotals struct {
	totals []cashu.UnitAmount
	index  map[cashu.Unit]int
}

func newUnitTotals() *unitTotals {
	return &unitTotals{index: make(map[cashu.Unit]int)}
}

func (u *unitTotals) add(unit cashu.Unit, amount cashu.Amount) bool {
	i, ok := u.index[unit]
	if !ok {
		u.index[unit] = len(u.totals)
		u.totals = append(u.totals, cashu.UnitAmount{Unit: unit, Amount: amount})
		return true
	}
	total, ok := u.totals[i].Amount.CheckedAdd(amount)
	if !ok {
		return false
	}
	u.totals[i].Amount = total
	return true
}

// CheckOutputsSingleUnit validates outputs that must all be in the same
// unit and returns their total. The already-signed check is one store
// query for the whole batch, made only once every output passed.
func CheckOutputsSingleUnit(
	ctx context.Context,
	tx storage.Tx,
	keysets KeysetResolver,
	outputs cashu.BlindedMessages,
) (cashu.Amount, error) {
	if err := checkBatchSize(len(outputs)); err != nil {
		return 0, rejectOutputs(ctx, err)
	}
	blindedSecrets := make(map[cashu.PublicKey]struct{}, len(outputs))
	total := cashu.AmountZero
	var unit *cashu.Unit

	for i, output := range outputs {
		if _, ok := blindedSecrets[output.B_]; ok {
			return 0, rejectOutputs(ctx, &Error{Kind: DuplicateToken, Index: i})
		}
		blindedSecrets[output.B_] = struct{}{}

		keyset, err := activeKeyset(ctx, tx, keysets, output.Id)
		if err != nil {
			return 0, rejectOutputs(ctx, err)
		}

		if unit == nil {
			unit = &keyset.Unit
		} else if *unit != keyset.Unit {
			return 0, rejectOutputs(ctx, &Error{Kind: UnitMismatch, Index: i})
		}

		var ok bool
		if total, ok = total.CheckedAdd(output.Amount); !ok {
			return 0, rejectOutputs(ctx, &Error{Kind: AmountOverflow, Index: i})
		}
	}

	if err := checkNotSigned(ctx, tx, outputs); err != nil {
		return 0, rejectOutputs(ctx, err)
	}
	return total, nil
}

// CheckOutputsMultipleUnits validates outputs that may span several
// units and returns the total of each unit in order of first appearance.
func CheckOutputsMultipleUnits(
	ctx context.Context,
	tx storage.Tx,
	keysets KeysetResolver,
	outputs cashu.BlindedMessages,
) ([]cashu.UnitAmount, error) {
	if err := checkBatchSize(len(outputs)); err != nil {
		return nil, rejectOutputs(ctx, err)
	}
	blindedSecrets := make(map[cashu.PublicKey]struct{}, len(outputs))
	totals := newUnitTotals()

	for i, output := range outputs {
		if _, ok := blindedSecrets[output.B_]; ok {
			return nil, rejectOutputs(ctx, &Error{Kind: DuplicateToken, Index: i})
		}
		blindedSecrets[output.B_] = struct{}{}

		keyset, err := activeKeyset(ctx, tx, keysets, output.Id)
		if err != nil {
			return nil, rejectOutputs(ctx, err)
		}

		if !totals.add(keyset.Unit, output.Amount) {
			return nil, rejectOutputs(ctx, &Error{Kind: AmountOverflow, Index: i})
		}
	}

	if err := checkNotSigned(ctx, tx, outputs); err != nil {
		return nil, rejectOutputs(ctx, err)
	}
	return totals.totals, nil
}

func checkNotSigned(ctx context.Context, tx storage.Tx, outputs cashu.BlindedMessages) error {
	if len(outputs) == 0 {
		return nil
	}
	signed, err := tx.IsAnyBlindMessageAlreadySigned(ctx, outputs.BlindedSecrets())
	if err != nil {
		return newError(StoreFailure, err)
	}
	if signed {
		return newError(AlreadyConsumed, nil)
	}
	return nil
}

// ProcessOutputs has the signer sign outputs in a single call and pairs
// each returned point with its output by position. Outputs with an amount
// that is not a denomination are rejected before the call. Nothing is
// written: the returned batch must be applied inside the caller's
// transaction.
func ProcessOutputs(
	ctx context.Context,
	signer *SignerChannel,
	outputs cashu.BlindedMessages,
) (cashu.BlindSignatures, *storage.InsertBlindSignaturesBatch, error) {
	batch := storage.NewInsertBlindSignaturesBatch(len(outputs))
	if len(outputs) == 0 {
		return cashu.BlindSignatures{}, batch, nil
	}

	if err := checkSignable(outputs); err != nil {
		return nil, nil, rejectOutputs(ctx, err)
	}

	response, err := signer.Sign(ctx, outputs)
	if err != nil {
		return nil, nil, rejectOutputs(ctx, err)
	}
	if len(response) != len(outputs) {
		return nil, nil, rejectOutputs(ctx, &Error{
			Kind:  SignerContractViolation,
			Index: -1,
			Err:   fmt.Errorf("expected %d signatures, got %d", len(outputs), len(response)),
		})
	}

	signatures := make(cashu.BlindSignatures, len(outputs))
	for i, output := range outputs {
		C_, err := cashu.ParsePublicKey(response[i])
		if err != nil {
			return nil, nil, rejectOutputs(ctx, &Error{Kind: SignerContractViolation, Index: i, Err: err})
		}
		signatures[i] = cashu.BlindSignature{
			Amount: output.Amount,
			Id:     output.Id,
			C_:     C_,
		}
		batch.AddRow(output.B_, signatures[i])
	}

	return signatures, batch, nil
}

func rejectOutputs(ctx context.Context, err error) error {
	return reject(ctx, "outputs", err)
}
