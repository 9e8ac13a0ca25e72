package mint

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/nutsnode/mintcore/cashu"
	"github.com/nutsnode/mintcore/crypto"
	"github.com/nutsnode/mintcore/mint/keysetcache"
	"github.com/nutsnode/mintcore/mint/storage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

var testKeysetSpecs = []crypto.KeysetSpec{
	{Unit: cashu.Sat.String(), UnitIdx: 0, Index: 0, Active: true},
	{Unit: cashu.Strk.String(), UnitIdx: 3, Index: 0, Active: true},
	{Unit: cashu.Sat.String(), UnitIdx: 0, Index: 1, Active: false},
}

type testKeysets struct {
	keys     *crypto.KeyManager
	sat      cashu.KeysetId
	strk     cashu.KeysetId
	inactive cashu.KeysetId
}

var (
	keysetsOnce   sync.Once
	sharedKeysets testKeysets
)

// loadTestKeysets derives the test keysets once per test binary.
func loadTestKeysets(t *testing.T) testKeysets {
	t.Helper()
	keysetsOnce.Do(func() {
		keys, err := crypto.NewKeyManager(testMnemonic, testKeysetSpecs)
		if err != nil {
			panic(err)
		}
		sharedKeysets.keys = keys
		for _, keyset := range keys.Keysets() {
			id, err := cashu.KeysetIdFromHex(keyset.Id)
			if err != nil {
				panic(err)
			}
			switch {
			case !keyset.Active:
				sharedKeysets.inactive = id
			case keyset.Unit == cashu.Strk.String():
				sharedKeysets.strk = id
			default:
				sharedKeysets.sat = id
			}
		}
	})
	return sharedKeysets
}

func (k testKeysets) dbKeysets() []storage.DBKeyset {
	return []storage.DBKeyset{
		{Id: k.sat, Unit: cashu.Sat, Active: true},
		{Id: k.strk, Unit: cashu.Strk, Active: true},
		{Id: k.inactive, Unit: cashu.Sat, Active: false},
	}
}

// fakeStore is an in-memory storage.MintDB whose transactions write
// straight through. Failures can be injected per operation.
type fakeStore struct {
	mu      sync.Mutex
	keysets map[cashu.KeysetId]storage.DBKeyset
	signed  map[cashu.PublicKey]cashu.BlindSignature
	spent   map[cashu.PublicKey]cashu.Proof

	keysetReads  int
	signedChecks int
	spentChecks  int
	commits      int
	rollbacks    int

	checkErr  error
	insertErr error
	commitErr error
}

func newFakeStore(keysets ...storage.DBKeyset) *fakeStore {
	store := &fakeStore{
		keysets: make(map[cashu.KeysetId]storage.DBKeyset),
		signed:  make(map[cashu.PublicKey]cashu.BlindSignature),
		spent:   make(map[cashu.PublicKey]cashu.Proof),
	}
	for _, keyset := range keysets {
		store.keysets[keyset.Id] = keyset
	}
	return store
}

func (s *fakeStore) BeginTx(context.Context) (storage.Tx, error) { return s, nil }
func (s *fakeStore) Close()                                      {}

func (s *fakeStore) SaveKeyset(_ context.Context, keyset storage.DBKeyset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keysets[keyset.Id]; !ok {
		s.keysets[keyset.Id] = keyset
	}
	return nil
}

func (s *fakeStore) GetKeysets(context.Context) ([]storage.DBKeyset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keysets := make([]storage.DBKeyset, 0, len(s.keysets))
	for _, keyset := range s.keysets {
		keysets = append(keysets, keyset)
	}
	return keysets, nil
}

func (s *fakeStore) UpdateKeysetActive(_ context.Context, id cashu.KeysetId, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	keyset, ok := s.keysets[id]
	if !ok {
		return storage.ErrKeysetNotFound
	}
	keyset.Active = active
	s.keysets[id] = keyset
	return nil
}

func (s *fakeStore) GetKeysetInfo(_ context.Context, id cashu.KeysetId) (storage.DBKeyset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keysetReads++
	keyset, ok := s.keysets[id]
	if !ok {
		return storage.DBKeyset{}, storage.ErrKeysetNotFound
	}
	return keyset, nil
}

func (s *fakeStore) IsAnyBlindMessageAlreadySigned(_ context.Context, B_s []cashu.PublicKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signedChecks++
	if s.checkErr != nil {
		return false, s.checkErr
	}
	for _, B_ := range B_s {
		if _, ok := s.signed[B_]; ok {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) IsAnyProofAlreadySpent(_ context.Context, Ys []cashu.PublicKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spentChecks++
	if s.checkErr != nil {
		return false, s.checkErr
	}
	for _, Y := range Ys {
		if _, ok := s.spent[Y]; ok {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) InsertBlindSignatures(_ context.Context, rows []storage.BlindSignatureRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	for _, row := range rows {
		if _, ok := s.signed[row.B_]; ok {
			return storage.ErrConflict
		}
	}
	for _, row := range rows {
		s.signed[row.B_] = row.Signature
	}
	return nil
}

func (s *fakeStore) InsertSpentProofs(_ context.Context, rows []storage.SpentProofRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	for _, row := range rows {
		if _, ok := s.spent[row.Y]; ok {
			return storage.ErrConflict
		}
	}
	for _, row := range rows {
		s.spent[row.Y] = row.Proof
	}
	return nil
}

func (s *fakeStore) Commit(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commitErr != nil {
		return s.commitErr
	}
	s.commits++
	return nil
}

func (s *fakeStore) Rollback(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollbacks++
	return nil
}

type mockSigner struct {
	mock.Mock
}

func (m *mockSigner) SignBlindedMessages(ctx context.Context, messages cashu.BlindedMessages) ([][]byte, error) {
	args := m.Called(ctx, messages)
	signatures, _ := args.Get(0).([][]byte)
	return signatures, args.Error(1)
}

// localSigner signs with key material derived in process.
type localSigner struct {
	keys  *crypto.KeyManager
	calls atomic.Int32
}

func (s *localSigner) SignBlindedMessages(_ context.Context, messages cashu.BlindedMessages) ([][]byte, error) {
	s.calls.Add(1)
	signatures := make([][]byte, len(messages))
	for i, msg := range messages {
		keyset, ok := s.keys.Keyset(msg.Id.String())
		if !ok {
			return nil, errors.New("unknown keyset")
		}
		k, err := keyset.Key(msg.Amount.Uint64())
		if err != nil {
			return nil, err
		}
		B_, err := msg.B_.Point()
		if err != nil {
			return nil, err
		}
		signatures[i] = crypto.SignBlindedMessage(B_, k).SerializeCompressed()
	}
	return signatures, nil
}

func newTestCache() *keysetcache.Cache {
	return keysetcache.New(16, 0, zerolog.Nop())
}

func randomPublicKey(t *testing.T) cashu.PublicKey {
	t.Helper()
	key, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	return cashu.NewPublicKey(key.PubKey())
}

func randomSecret(t *testing.T) string {
	t.Helper()
	b := make([]byte, 32)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return hex.EncodeToString(b)
}

// newOutputs builds one output per amount with random blinded secrets.
func newOutputs(t *testing.T, id cashu.KeysetId, amounts ...cashu.Amount) cashu.BlindedMessages {
	t.Helper()
	outputs := make(cashu.BlindedMessages, len(amounts))
	for i, amount := range amounts {
		outputs[i] = cashu.NewBlindedMessage(id, amount, randomPublicKey(t))
	}
	return outputs
}

// newProofs returns valid proofs signed by the keyset id, as a wallet
// would hold them after unblinding.
func newProofs(t *testing.T, keys *crypto.KeyManager, id cashu.KeysetId, amounts ...cashu.Amount) cashu.Proofs {
	t.Helper()
	keyset, ok := keys.Keyset(id.String())
	require.True(t, ok)

	proofs := make(cashu.Proofs, len(amounts))
	for i, amount := range amounts {
		secret := randomSecret(t)
		blindingFactor := make([]byte, 32)
		_, err := rand.Read(blindingFactor)
		require.NoError(t, err)

		B_, r, err := crypto.BlindMessage([]byte(secret), blindingFactor)
		require.NoError(t, err)

		k, err := keyset.Key(amount.Uint64())
		require.NoError(t, err)
		C_ := crypto.SignBlindedMessage(B_, k)
		C := crypto.UnblindSignature(C_, r, keyset.Keys[amount.Uint64()].PublicKey)

		proofs[i] = cashu.Proof{
			Amount: amount,
			Id:     id,
			Secret: secret,
			C:      cashu.NewPublicKey(C),
		}
	}
	return proofs
}
