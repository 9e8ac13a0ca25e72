package storage

import (
	"context"

	"github.com/nutsnode/mintcore/cashu"
)

// InsertBlindSignaturesBatch collects the signatures produced for a set
// of outputs. Nothing is written until Apply is called with the
// caller's transaction.
type InsertBlindSignaturesBatch struct {
	rows []BlindSignatureRow
}

func NewInsertBlindSignaturesBatch(capacity int) *InsertBlindSignaturesBatch {
	return &InsertBlindSignaturesBatch{rows: make([]BlindSignatureRow, 0, capacity)}
}

func (b *InsertBlindSignaturesBatch) AddRow(B_ cashu.PublicKey, signature cashu.BlindSignature) {
	b.rows = append(b.rows, BlindSignatureRow{B_: B_, Signature: signature})
}

func (b *InsertBlindSignaturesBatch) Len() int {
	return len(b.rows)
}

func (b *InsertBlindSignaturesBatch) Rows() []BlindSignatureRow {
	return b.rows
}

// Apply executes the insert in tx. A blinded secret that was already
// signed makes it fail with ErrConflict.
func (b *InsertBlindSignaturesBatch) Apply(ctx context.Context, tx Tx) error {
	if len(b.rows) == 0 {
		return nil
	}
	return tx.InsertBlindSignatures(ctx, b.rows)
}

// MarkSpentBatch collects the proofs consumed by a redemption.
type MarkSpentBatch struct {
	rows []SpentProofRow
}

func NewMarkSpentBatch(capacity int) *MarkSpentBatch {
	return &MarkSpentBatch{rows: make([]SpentProofRow, 0, capacity)}
}

func (b *MarkSpentBatch) AddRow(Y cashu.PublicKey, proof cashu.Proof) {
	b.rows = append(b.rows, SpentProofRow{Y: Y, Proof: proof})
}

func (b *MarkSpentBatch) Len() int {
	return len(b.rows)
}

func (b *MarkSpentBatch) Ys() []cashu.PublicKey {
	Ys := make([]cashu.PublicKey, len(b.rows))
	for i, row := range b.rows {
		Ys[i] = row.Y
	}
	return Ys
}

// Apply marks the proofs as spent in tx. A Y that was already spent
// makes it fail with ErrConflict.
func (b *MarkSpentBatch) Apply(ctx context.Context, tx Tx) error {
	if len(b.rows) == 0 {
		return nil
	}
	return tx.InsertSpentProofs(ctx, b.rows)
}
