package mint

import (
	"context"
	"errors"
	"fmt"

	"github.com/nutsnode/mintcore/cashu"
	"github.com/nutsnode/mintcore/crypto"
	"github.com/nutsnode/mintcore/mint/storage"
	"github.com/rs/zerolog"
)

var (
	errUnknownSigningKeyset = errors.New("no key material for keyset")
	errNoKeyForAmount       = errors.New("keyset has no key for amount")
	errSignatureMismatch    = errors.New("signature does not verify")
)

// ProofVerifier checks that a proof was signed by the mint.
type ProofVerifier interface {
	VerifyProof(proof cashu.Proof) error
}

// KeyManagerVerifier verifies proofs against keysets derived locally
// from the same seed the signer uses.
type KeyManagerVerifier struct {
	keys *crypto.KeyManager
}

func NewKeyManagerVerifier(keys *crypto.KeyManager) *KeyManagerVerifier {
	return &KeyManagerVerifier{keys: keys}
}

// VerifyProof checks k*hash_to_curve(secret) == C where k is the
// keyset's private key for the proof amount.
func (v *KeyManagerVerifier) VerifyProof(proof cashu.Proof) error {
	keyset, ok := v.keys.Keyset(proof.Id.String())
	if !ok {
		return errUnknownSigningKeyset
	}
	k, err := keyset.Key(proof.Amount.Uint64())
	if err != nil {
		return fmt.Errorf("%w %v", errNoKeyForAmount, proof.Amount)
	}
	C, err := proof.C.Point()
	if err != nil {
		return err
	}
	if !crypto.Verify([]byte(proof.Secret), k, C) {
		return errSignatureMismatch
	}
	return nil
}

// checkInputs runs the per-proof checks shared by both unit policies and
// calls onProof with the resolved unit of each accepted proof.
func checkInputs(
	ctx context.Context,
	tx storage.Tx,
	keysets KeysetResolver,
	verifier ProofVerifier,
	proofs cashu.Proofs,
	onProof func(i int, proof cashu.Proof, unit cashu.Unit) error,
) (*storage.MarkSpentBatch, error) {
	if err := checkBatchSize(len(proofs)); err != nil {
		return nil, err
	}
	batch := storage.NewMarkSpentBatch(len(proofs))
	seen := make(map[cashu.PublicKey]struct{}, len(proofs))

	for i, proof := range proofs {
		Y, err := proof.Y()
		if err != nil {
			return nil, &Error{Kind: SecretDecodingFailure, Index: i, Err: err}
		}
		if _, ok := seen[Y]; ok {
			return nil, &Error{Kind: DuplicateToken, Index: i}
		}
		seen[Y] = struct{}{}

		keyset, err := activeKeyset(ctx, tx, keysets, proof.Id)
		if err != nil {
			return nil, err
		}
		if err := onProof(i, proof, keyset.Unit); err != nil {
			return nil, err
		}

		if err := verifier.VerifyProof(proof); err != nil {
			return nil, &Error{Kind: InvalidProof, Index: i, Err: err}
		}
		batch.AddRow(Y, proof)
	}

	if batch.Len() > 0 {
		spent, err := tx.IsAnyProofAlreadySpent(ctx, batch.Ys())
		if err != nil {
			return nil, newError(StoreFailure, err)
		}
		if spent {
			return nil, newError(AlreadyConsumed, nil)
		}
	}
	return batch, nil
}

// CheckInputsSingleUnit validates proofs that must all be in the same
// unit. It returns their total and the unit of work marking them spent,
// to be applied inside the caller's transaction.
func CheckInputsSingleUnit(
	ctx context.Context,
	tx storage.Tx,
	keysets KeysetResolver,
	verifier ProofVerifier,
	proofs cashu.Proofs,
) (cashu.Amount, *storage.MarkSpentBatch, error) {
	total := cashu.AmountZero
	var unit *cashu.Unit

	batch, err := checkInputs(ctx, tx, keysets, verifier, proofs, func(i int, proof cashu.Proof, u cashu.Unit) error {
		if unit == nil {
			unit = &u
		} else if *unit != u {
			return &Error{Kind: UnitMismatch, Index: i}
		}
		var ok bool
		if total, ok = total.CheckedAdd(proof.Amount); !ok {
			return &Error{Kind: AmountOverflow, Index: i}
		}
		return nil
	})
	if err != nil {
		return 0, nil, reject(ctx, "inputs", err)
	}
	return total, batch, nil
}

// CheckInputsMultipleUnits validates proofs that may span several units
// and returns the total of each unit in order of first appearance.
func CheckInputsMultipleUnits(
	ctx context.Context,
	tx storage.Tx,
	keysets KeysetResolver,
	verifier ProofVerifier,
	proofs cashu.Proofs,
) ([]cashu.UnitAmount, *storage.MarkSpentBatch, error) {
	totals := newUnitTotals()

	batch, err := checkInputs(ctx, tx, keysets, verifier, proofs, func(i int, proof cashu.Proof, u cashu.Unit) error {
		if !totals.add(u, proof.Amount) {
			return &Error{Kind: AmountOverflow, Index: i}
		}
		return nil
	})
	if err != nil {
		return nil, nil, reject(ctx, "inputs", err)
	}
	return totals.totals, batch, nil
}

// reject records a pipeline rejection on the request logger and metrics.
func reject(ctx context.Context, pipeline string, err error) error {
	kind := KindOf(err)
	pipelineRejections.WithLabelValues(pipeline, kind.String()).Inc()

	logger := zerolog.Ctx(ctx)
	switch kind {
	case SignerContractViolation:
		var mintErr *Error
		errors.As(err, &mintErr)
		logger.Error().Err(err).Int("index", mintErr.Index).Str("pipeline", pipeline).Msg("signer violated its contract")
	case StoreFailure, SignerFailure:
		logger.Error().Err(err).Str("pipeline", pipeline).Msg("batch failed")
	default:
		logger.Debug().Err(err).Str("pipeline", pipeline).Msg("batch rejected")
	}
	return err
}
