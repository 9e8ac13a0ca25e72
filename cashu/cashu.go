// Package cashu contains the core structs of the Cashu protocol
// handled by the mint: outputs, promises and proofs.
package cashu

import (
	"errors"
	"fmt"

	"github.com/nutsnode/mintcore/crypto"
)

var (
	ErrInvalidUnit   = errors.New("invalid unit")
	ErrInvalidSecret = errors.New("invalid secret")
)

// Cashu BlindedMessage. See https://github.com/cashubtc/nuts/blob/main/00.md#blindedmessage
type BlindedMessage struct {
	Amount Amount    `json:"amount"`
	Id     KeysetId  `json:"id"`
	B_     PublicKey `json:"B_"`
}

func NewBlindedMessage(id KeysetId, amount Amount, B_ PublicKey) BlindedMessage {
	return BlindedMessage{Amount: amount, Id: id, B_: B_}
}

// MaxBatchSize bounds the number of outputs or proofs handled in one
// request, and the number of messages in one signing call.
const MaxBatchSize = 10_000

type BlindedMessages []BlindedMessage

// TotalAmount sums the amounts of all messages, failing on overflow.
func (bm BlindedMessages) TotalAmount() (Amount, error) {
	total := AmountZero
	for _, msg := range bm {
		var ok bool
		if total, ok = total.CheckedAdd(msg.Amount); !ok {
			return 0, ErrAmountOverflow
		}
	}
	return total, nil
}

// BlindedSecrets returns the B_ of every message, in order.
func (bm BlindedMessages) BlindedSecrets() []PublicKey {
	B_s := make([]PublicKey, len(bm))
	for i, msg := range bm {
		B_s[i] = msg.B_
	}
	return B_s
}

// Cashu BlindSignature, also called promise. See https://github.com/cashubtc/nuts/blob/main/00.md#blindsignature
type BlindSignature struct {
	Amount Amount    `json:"amount"`
	Id     KeysetId  `json:"id"`
	C_     PublicKey `json:"C_"`
}

type BlindSignatures []BlindSignature

func (bs BlindSignatures) TotalAmount() (Amount, error) {
	total := AmountZero
	for _, sig := range bs {
		var ok bool
		if total, ok = total.CheckedAdd(sig.Amount); !ok {
			return 0, ErrAmountOverflow
		}
	}
	return total, nil
}

// Cashu Proof. See https://github.com/cashubtc/nuts/blob/main/00.md#proof
type Proof struct {
	Amount Amount    `json:"amount"`
	Id     KeysetId  `json:"id"`
	Secret string    `json:"secret"`
	C      PublicKey `json:"C"`
}

// Y returns hash_to_curve(secret), the identity used to
// track whether the proof has been spent.
func (p Proof) Y() (PublicKey, error) {
	Y, err := crypto.HashToCurve([]byte(p.Secret))
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	return NewPublicKey(Y), nil
}

type Proofs []Proof

// TotalAmount returns the total amount from
// the array of Proof. It fails if the sum overflows.
func (proofs Proofs) TotalAmount() (Amount, error) {
	total := AmountZero
	for _, proof := range proofs {
		var ok bool
		if total, ok = total.CheckedAdd(proof.Amount); !ok {
			return 0, ErrAmountOverflow
		}
	}
	return total, nil
}

// Ys returns the Y of every proof, in order.
func (proofs Proofs) Ys() ([]PublicKey, error) {
	Ys := make([]PublicKey, len(proofs))
	for i, proof := range proofs {
		Y, err := proof.Y()
		if err != nil {
			return nil, err
		}
		Ys[i] = Y
	}
	return Ys, nil
}
