package mint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nutsnode/mintcore/cashu"
	"github.com/nutsnode/mintcore/crypto"
	"github.com/nutsnode/mintcore/mint/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCheckOutputsSingleUnit(t *testing.T) {
	keysets := loadTestKeysets(t)
	ctx := context.Background()

	store := newFakeStore(keysets.dbKeysets()...)
	outputs := newOutputs(t, keysets.sat, 1, 2, 8, 64)

	total, err := CheckOutputsSingleUnit(ctx, store, newTestCache(), outputs)
	require.NoError(t, err)
	assert.Equal(t, cashu.Amount(75), total)
	assert.Equal(t, 1, store.signedChecks, "already-signed check must be a single query")
	assert.Equal(t, 1, store.keysetReads, "keyset info should be served from cache after the first read")
}

func TestCheckOutputsDuplicate(t *testing.T) {
	keysets := loadTestKeysets(t)
	ctx := context.Background()

	outputs := newOutputs(t, keysets.sat, 1, 2, 4)
	outputs = append(outputs, cashu.NewBlindedMessage(keysets.sat, 8, outputs[1].B_))

	store := newFakeStore(keysets.dbKeysets()...)
	_, err := CheckOutputsSingleUnit(ctx, store, newTestCache(), outputs)
	require.ErrorIs(t, err, ErrDuplicateToken)

	var mintErr *Error
	require.True(t, errors.As(err, &mintErr))
	assert.Equal(t, 3, mintErr.Index)

	_, err = CheckOutputsMultipleUnits(ctx, store, newTestCache(), outputs)
	assert.ErrorIs(t, err, ErrDuplicateToken)
	assert.Zero(t, store.signedChecks)
}

func TestCheckOutputsInactiveKeyset(t *testing.T) {
	keysets := loadTestKeysets(t)
	ctx := context.Background()

	for position := 0; position < 3; position++ {
		outputs := newOutputs(t, keysets.sat, 1, 2, 4)
		outputs[position].Id = keysets.inactive

		store := newFakeStore(keysets.dbKeysets()...)
		_, err := CheckOutputsSingleUnit(ctx, store, newTestCache(), outputs)
		require.ErrorIs(t, err, ErrInactiveKeyset)

		var mintErr *Error
		require.True(t, errors.As(err, &mintErr))
		assert.Equal(t, keysets.inactive, mintErr.KeysetId)

		_, err = CheckOutputsMultipleUnits(ctx, store, newTestCache(), outputs)
		require.ErrorIs(t, err, ErrInactiveKeyset)
		assert.Zero(t, store.signedChecks)
	}
}

func TestCheckOutputsUnknownKeyset(t *testing.T) {
	keysets := loadTestKeysets(t)
	unknown, _ := cashu.KeysetIdFromHex("00ffffffffffffff")

	store := newFakeStore(keysets.dbKeysets()...)
	outputs := newOutputs(t, unknown, 1)

	_, err := CheckOutputsSingleUnit(context.Background(), store, newTestCache(), outputs)
	require.ErrorIs(t, err, ErrUnknownKeyset)

	var mintErr *Error
	require.True(t, errors.As(err, &mintErr))
	assert.Equal(t, unknown, mintErr.KeysetId)
}

func TestCheckOutputsUnitMismatch(t *testing.T) {
	keysets := loadTestKeysets(t)

	outputs := append(newOutputs(t, keysets.sat, 1, 2), newOutputs(t, keysets.strk, 4)...)
	store := newFakeStore(keysets.dbKeysets()...)

	_, err := CheckOutputsSingleUnit(context.Background(), store, newTestCache(), outputs)
	assert.ErrorIs(t, err, ErrUnitMismatch)
	assert.Zero(t, store.signedChecks)
}

func TestCheckOutputsOverflow(t *testing.T) {
	keysets := loadTestKeysets(t)
	ctx := context.Background()

	outputs := newOutputs(t, keysets.sat, 1<<63, 1<<62, 1<<63)
	store := newFakeStore(keysets.dbKeysets()...)

	_, err := CheckOutputsSingleUnit(ctx, store, newTestCache(), outputs)
	require.ErrorIs(t, err, ErrAmountOverflow)

	_, err = CheckOutputsMultipleUnits(ctx, store, newTestCache(), outputs)
	require.ErrorIs(t, err, ErrAmountOverflow)

	// the same amounts spread over two units fit
	split := append(newOutputs(t, keysets.sat, 1<<63), newOutputs(t, keysets.strk, 1<<63)...)
	totals, err := CheckOutputsMultipleUnits(ctx, store, newTestCache(), split)
	require.NoError(t, err)
	assert.Len(t, totals, 2)
}

func TestCheckOutputsMultipleUnitsOrder(t *testing.T) {
	keysets := loadTestKeysets(t)

	outputs := cashu.BlindedMessages{
		cashu.NewBlindedMessage(keysets.strk, 1, randomPublicKey(t)),
		cashu.NewBlindedMessage(keysets.sat, 2, randomPublicKey(t)),
		cashu.NewBlindedMessage(keysets.strk, 3, randomPublicKey(t)),
	}
	store := newFakeStore(keysets.dbKeysets()...)

	totals, err := CheckOutputsMultipleUnits(context.Background(), store, newTestCache(), outputs)
	require.NoError(t, err)
	assert.Equal(t, []cashu.UnitAmount{
		{Unit: cashu.Strk, Amount: 4},
		{Unit: cashu.Sat, Amount: 2},
	}, totals)
	assert.Equal(t, 1, store.signedChecks)
}

func TestCheckOutputsAlreadySigned(t *testing.T) {
	keysets := loadTestKeysets(t)
	ctx := context.Background()

	store := newFakeStore(keysets.dbKeysets()...)
	issued := newOutputs(t, keysets.sat, 1, 2)
	store.signed[issued[1].B_] = cashu.BlindSignature{Amount: 2, Id: keysets.sat}

	outputs := append(newOutputs(t, keysets.sat, 4), issued[1])
	_, err := CheckOutputsSingleUnit(ctx, store, newTestCache(), outputs)
	assert.ErrorIs(t, err, ErrAlreadyConsumed)

	_, err = CheckOutputsMultipleUnits(ctx, store, newTestCache(), outputs)
	assert.ErrorIs(t, err, ErrAlreadyConsumed)
}

func TestCheckOutputsStoreFailure(t *testing.T) {
	keysets := loadTestKeysets(t)
	store := newFakeStore(keysets.dbKeysets()...)
	store.checkErr = errors.New("connection refused")

	_, err := CheckOutputsSingleUnit(context.Background(), store, newTestCache(), newOutputs(t, keysets.sat, 1))
	require.ErrorIs(t, err, ErrStoreFailure)
	assert.ErrorIs(t, err, store.checkErr)
}

func TestCheckOutputsEmpty(t *testing.T) {
	store := newFakeStore()

	total, err := CheckOutputsSingleUnit(context.Background(), store, newTestCache(), nil)
	require.NoError(t, err)
	assert.Equal(t, cashu.AmountZero, total)

	totals, err := CheckOutputsMultipleUnits(context.Background(), store, newTestCache(), nil)
	require.NoError(t, err)
	assert.Empty(t, totals)
	assert.Zero(t, store.signedChecks)
}

func TestProcessOutputs(t *testing.T) {
	keysets := loadTestKeysets(t)
	ctx := context.Background()

	signer := &localSigner{keys: keysets.keys}
	outputs := append(newOutputs(t, keysets.sat, 1, 4, 1<<63), newOutputs(t, keysets.strk, 2)...)

	signatures, batch, err := ProcessOutputs(ctx, NewSignerChannel(signer, time.Second), outputs)
	require.NoError(t, err)
	require.Len(t, signatures, len(outputs))
	assert.Equal(t, int32(1), signer.calls.Load())

	rows := batch.Rows()
	require.Len(t, rows, len(outputs))
	for i, output := range outputs {
		assert.Equal(t, output.Amount, signatures[i].Amount)
		assert.Equal(t, output.Id, signatures[i].Id)

		keyset, _ := keysets.keys.Keyset(output.Id.String())
		k, _ := keyset.Key(output.Amount.Uint64())
		B_, _ := output.B_.Point()
		assert.Equal(t, cashu.NewPublicKey(crypto.SignBlindedMessage(B_, k)), signatures[i].C_)

		assert.Equal(t, output.B_, rows[i].B_)
		assert.Equal(t, signatures[i], rows[i].Signature)
	}
}

func TestProcessOutputsDoesNotWrite(t *testing.T) {
	keysets := loadTestKeysets(t)
	ctx := context.Background()
	store := newFakeStore(keysets.dbKeysets()...)

	outputs := newOutputs(t, keysets.sat, 1, 2)
	_, batch, err := ProcessOutputs(ctx, NewSignerChannel(&localSigner{keys: keysets.keys}, time.Second), outputs)
	require.NoError(t, err)
	assert.Empty(t, store.signed)

	require.NoError(t, batch.Apply(ctx, store))
	assert.Len(t, store.signed, 2)

	// applying the same batch again violates uniqueness
	assert.ErrorIs(t, batch.Apply(ctx, store), storage.ErrConflict)
}

func TestProcessOutputsSignerFailure(t *testing.T) {
	keysets := loadTestKeysets(t)
	outputs := newOutputs(t, keysets.sat, 1, 2)

	signer := new(mockSigner)
	transportErr := errors.New("connection reset by peer")
	signer.On("SignBlindedMessages", mock.Anything, outputs).Return(nil, transportErr)

	signatures, batch, err := ProcessOutputs(context.Background(), NewSignerChannel(signer, time.Second), outputs)
	require.ErrorIs(t, err, ErrSignerFailure)
	assert.ErrorIs(t, err, transportErr)
	assert.Nil(t, signatures)
	assert.Nil(t, batch)
	signer.AssertExpectations(t)
}

func TestProcessOutputsSignerTimeout(t *testing.T) {
	keysets := loadTestKeysets(t)
	outputs := newOutputs(t, keysets.sat, 1)

	signer := new(mockSigner)
	signer.On("SignBlindedMessages", mock.Anything, outputs).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)

	_, _, err := ProcessOutputs(context.Background(), NewSignerChannel(signer, 20*time.Millisecond), outputs)
	require.ErrorIs(t, err, ErrSignerFailure)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProcessOutputsContractViolation(t *testing.T) {
	keysets := loadTestKeysets(t)
	outputs := newOutputs(t, keysets.sat, 1, 2)
	valid := randomPublicKey(t).Bytes()

	tests := []struct {
		name     string
		response [][]byte
		index    int
	}{
		{name: "too few", response: [][]byte{valid}, index: -1},
		{name: "too many", response: [][]byte{valid, valid, valid}, index: -1},
		{name: "not a point", response: [][]byte{valid, make([]byte, 33)}, index: 1},
		{name: "truncated", response: [][]byte{valid[:10], valid}, index: 0},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			signer := new(mockSigner)
			signer.On("SignBlindedMessages", mock.Anything, outputs).Return(test.response, nil)

			_, batch, err := ProcessOutputs(context.Background(), NewSignerChannel(signer, time.Second), outputs)
			require.ErrorIs(t, err, ErrSignerContractViolation)
			assert.Nil(t, batch)

			var mintErr *Error
			require.True(t, errors.As(err, &mintErr))
			assert.Equal(t, test.index, mintErr.Index)
			assert.False(t, mintErr.IsCallerError())
		})
	}
}

func TestProcessOutputsRejectsUnsignableAmounts(t *testing.T) {
	keysets := loadTestKeysets(t)

	tests := []struct {
		name    string
		amounts []cashu.Amount
		index   int
	}{
		{name: "zero", amounts: []cashu.Amount{1, 0, 2}, index: 1},
		{name: "not a denomination", amounts: []cashu.Amount{1, 2, 3}, index: 2},
		{name: "mixed bits", amounts: []cashu.Amount{1<<63 | 1}, index: 0},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			signer := new(mockSigner)
			outputs := newOutputs(t, keysets.sat, test.amounts...)

			signatures, batch, err := ProcessOutputs(context.Background(), NewSignerChannel(signer, time.Second), outputs)
			require.ErrorIs(t, err, ErrInvalidAmount)
			assert.Nil(t, signatures)
			assert.Nil(t, batch)

			var mintErr *Error
			require.True(t, errors.As(err, &mintErr))
			assert.Equal(t, test.index, mintErr.Index)
			assert.True(t, mintErr.IsCallerError())
			signer.AssertNotCalled(t, "SignBlindedMessages", mock.Anything, mock.Anything)
		})
	}
}

func TestOutputsBatchTooLarge(t *testing.T) {
	keysets := loadTestKeysets(t)
	ctx := context.Background()
	outputs := make(cashu.BlindedMessages, cashu.MaxBatchSize+1)

	store := newFakeStore(keysets.dbKeysets()...)
	_, err := CheckOutputsSingleUnit(ctx, store, newTestCache(), outputs)
	require.ErrorIs(t, err, ErrBatchTooLarge)
	_, err = CheckOutputsMultipleUnits(ctx, store, newTestCache(), outputs)
	require.ErrorIs(t, err, ErrBatchTooLarge)
	assert.Zero(t, store.signedChecks)
	assert.Zero(t, store.keysetReads)

	signer := new(mockSigner)
	_, _, err = ProcessOutputs(ctx, NewSignerChannel(signer, time.Second), outputs)
	require.ErrorIs(t, err, ErrBatchTooLarge)
	assert.Equal(t, BatchTooLarge, KindOf(err))
	signer.AssertNotCalled(t, "SignBlindedMessages", mock.Anything, mock.Anything)

	// the limit itself is accepted
	_, err = CheckOutputsMultipleUnits(ctx, store, newTestCache(), newOutputs(t, keysets.sat, 1))
	assert.NoError(t, err)
	assert.NoError(t, checkBatchSize(cashu.MaxBatchSize))
}

// Validation failures never reach the signer.
func TestNoSignerCallOnInvalidBatch(t *testing.T) {
	keysets := loadTestKeysets(t)
	store := newFakeStore(keysets.dbKeysets()...)
	signer := new(mockSigner)

	m := &Mint{
		db:       store,
		keys:     keysets.keys,
		cache:    newTestCache(),
		signer:   NewSignerChannel(signer, time.Second),
		verifier: NewKeyManagerVerifier(keysets.keys),
	}

	duplicate := newOutputs(t, keysets.sat, 1, 2)
	duplicate = append(duplicate, duplicate[0])

	inactive := newOutputs(t, keysets.sat, 1, 2)
	inactive[1].Id = keysets.inactive

	batches := map[string]cashu.BlindedMessages{
		"duplicate": duplicate,
		"inactive":  inactive,
		"units":     append(newOutputs(t, keysets.sat, 1), newOutputs(t, keysets.strk, 1)...),
		"overflow":  newOutputs(t, keysets.sat, 1<<63, 1<<63),
		"zero":      newOutputs(t, keysets.sat, 1, 0),
		"amount":    newOutputs(t, keysets.sat, 3),
		"too many":  make(cashu.BlindedMessages, cashu.MaxBatchSize+1),
	}
	for name, outputs := range batches {
		_, err := m.Issue(context.Background(), outputs, nil)
		var mintErr *Error
		require.True(t, errors.As(err, &mintErr), name)
		assert.True(t, mintErr.IsCallerError(), name)
	}
	signer.AssertNotCalled(t, "SignBlindedMessages", mock.Anything, mock.Anything)
	assert.Zero(t, store.commits)
}
