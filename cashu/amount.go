package cashu

import (
	"errors"
	"math/bits"
)

var ErrAmountOverflow = errors.New("amount overflow")

// Amount is a token value in the smallest denomination of its unit.
type Amount uint64

const AmountZero Amount = 0

// CheckedAdd returns a + b. ok is false if the sum does not fit in an Amount,
// in which case the returned value must be discarded.
func (a Amount) CheckedAdd(b Amount) (Amount, bool) {
	sum, carry := bits.Add64(uint64(a), uint64(b), 0)
	if carry != 0 {
		return 0, false
	}
	return Amount(sum), true
}

func (a Amount) Uint64() uint64 {
	return uint64(a)
}

// IsDenomination reports whether a is a power of two. Keysets hold
// exactly one key per denomination.
func (a Amount) IsDenomination() bool {
	return a != 0 && a&(a-1) == 0
}
