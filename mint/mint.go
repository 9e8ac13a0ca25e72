package mint

import (
	"context"
	"errors"
	"fmt"

	"github.com/nutsnode/mintcore/cashu"
	"github.com/nutsnode/mintcore/crypto"
	"github.com/nutsnode/mintcore/mint/keysetcache"
	"github.com/nutsnode/mintcore/mint/pubsub"
	"github.com/nutsnode/mintcore/mint/storage"
	"github.com/rs/zerolog"
)

// KeysetEvents publishes keyset lifecycle changes. Implemented by
// *pubsub.PubSub and *pubsub.RedisBridge.
type KeysetEvents interface {
	PublishKeysetEvent(ctx context.Context, event pubsub.KeysetEvent) error
}

// SettleFunc records the caller's business side of an issuance or
// redemption (a paid quote, a melt) in the same transaction. Returning
// an error rolls everything back.
type SettleFunc func(ctx context.Context, tx storage.Tx, amount cashu.Amount) error

type Mint struct {
	db       storage.MintDB
	keys     *crypto.KeyManager
	cache    *keysetcache.Cache
	signer   *SignerChannel
	verifier ProofVerifier
	events   KeysetEvents
	logger   zerolog.Logger
}

// LoadMint derives the configured keysets, registers them in the store
// and reconciles their activation state. A keyset inactive in either the
// config or the store ends up inactive in both. Nothing is re-activated.
func LoadMint(
	ctx context.Context,
	config Config,
	db storage.MintDB,
	signer BlindSigner,
	events KeysetEvents,
	logger zerolog.Logger,
) (*Mint, error) {
	keys, err := crypto.NewKeyManager(config.Mnemonic, config.Keysets)
	if err != nil {
		return nil, fmt.Errorf("error deriving keysets: %v", err)
	}

	configured := make(map[cashu.KeysetId]bool)
	for _, keyset := range keys.Keysets() {
		id, err := cashu.KeysetIdFromHex(keyset.Id)
		if err != nil {
			return nil, err
		}
		unit, err := cashu.UnitFromString(keyset.Unit)
		if err != nil {
			return nil, err
		}
		dbKeyset := storage.DBKeyset{
			Id:          id,
			Unit:        unit,
			Active:      keyset.Active,
			InputFeePpk: keyset.InputFeePpk,
		}
		if err := db.SaveKeyset(ctx, dbKeyset); err != nil {
			return nil, fmt.Errorf("error saving keyset %v: %v", keyset.Id, err)
		}
		configured[id] = keyset.Active
	}

	// deactivation is durable: a keyset inactive in the store stays so
	stored, err := db.GetKeysets(ctx)
	if err != nil {
		return nil, fmt.Errorf("error reading keysets: %v", err)
	}
	for i, keyset := range stored {
		if active, ok := configured[keyset.Id]; ok && !active && keyset.Active {
			if err := db.UpdateKeysetActive(ctx, keyset.Id, false); err != nil {
				return nil, fmt.Errorf("error deactivating keyset %v: %v", keyset.Id, err)
			}
			stored[i].Active = false
			if events != nil {
				if err := events.PublishKeysetEvent(ctx, pubsub.KeysetEvent{Id: keyset.Id, Active: false}); err != nil {
					logger.Warn().Err(err).Str("keyset_id", keyset.Id.String()).Msg("could not publish keyset event")
				}
			}
			logger.Info().Str("keyset_id", keyset.Id.String()).Msg("keyset deactivated by config")
		}
		keys.SetActive(keyset.Id.String(), stored[i].Active)
	}

	m := &Mint{
		db:       db,
		keys:     keys,
		cache:    keysetcache.New(config.CacheSize, config.CacheTTL, logger),
		signer:   NewSignerChannel(signer, config.SignerTimeout),
		verifier: NewKeyManagerVerifier(keys),
		events:   events,
		logger:   logger,
	}
	logger.Info().Int("keysets", len(stored)).Msg("mint loaded")
	return m, nil
}

// WatchKeysetEvents drops cached keyset info named by events on sub.
func (m *Mint) WatchKeysetEvents(ctx context.Context, sub *pubsub.Subscriber) {
	m.cache.Watch(ctx, sub)
}

// withTx runs fn in a new store transaction and commits if fn succeeds.
// A uniqueness conflict at commit is reported as AlreadyConsumed.
func (m *Mint) withTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	tx, err := m.db.BeginTx(ctx)
	if err != nil {
		return newError(StoreFailure, err)
	}
	defer func() {
		if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil {
			m.logger.Error().Err(err).Msg("could not roll back transaction")
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return storeError(err)
	}
	return nil
}

// Swap redeems proofs and signs outputs of the same value, per unit, in
// one transaction.
func (m *Mint) Swap(ctx context.Context, proofs cashu.Proofs, outputs cashu.BlindedMessages) (cashu.BlindSignatures, error) {
	if len(proofs) == 0 || len(outputs) == 0 {
		return nil, newError(EmptyBatch, nil)
	}

	var signatures cashu.BlindSignatures
	var settled []cashu.UnitAmount
	err := m.withTx(ctx, func(tx storage.Tx) error {
		inputTotals, markSpent, err := CheckInputsMultipleUnits(ctx, tx, m.cache, m.verifier, proofs)
		if err != nil {
			return err
		}
		outputTotals, err := CheckOutputsMultipleUnits(ctx, tx, m.cache, outputs)
		if err != nil {
			return err
		}
		if !balanced(inputTotals, outputTotals) {
			return newError(Unbalanced, fmt.Errorf("inputs %v, outputs %v", inputTotals, outputTotals))
		}

		blindSignatures, inserts, err := ProcessOutputs(ctx, m.signer, outputs)
		if err != nil {
			return err
		}
		if err := markSpent.Apply(ctx, tx); err != nil {
			return storeError(err)
		}
		if err := inserts.Apply(ctx, tx); err != nil {
			return storeError(err)
		}
		signatures = blindSignatures
		settled = inputTotals
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, total := range settled {
		settledAmount.WithLabelValues("swap", total.Unit.String()).Add(float64(total.Amount))
	}
	return signatures, nil
}

// Issue signs outputs of a single unit. settle, if not nil, is called
// with the total before the signer is contacted.
func (m *Mint) Issue(ctx context.Context, outputs cashu.BlindedMessages, settle SettleFunc) (cashu.BlindSignatures, error) {
	if len(outputs) == 0 {
		return nil, newError(EmptyBatch, nil)
	}

	var signatures cashu.BlindSignatures
	err := m.withTx(ctx, func(tx storage.Tx) error {
		total, err := CheckOutputsSingleUnit(ctx, tx, m.cache, outputs)
		if err != nil {
			return err
		}
		if settle != nil {
			if err := settle(ctx, tx, total); err != nil {
				return err
			}
		}

		blindSignatures, inserts, err := ProcessOutputs(ctx, m.signer, outputs)
		if err != nil {
			return err
		}
		if err := inserts.Apply(ctx, tx); err != nil {
			return storeError(err)
		}
		signatures = blindSignatures
		return nil
	})
	if err != nil {
		return nil, err
	}
	return signatures, nil
}

// Redeem marks proofs of a single unit spent and returns their total.
func (m *Mint) Redeem(ctx context.Context, proofs cashu.Proofs, settle SettleFunc) (cashu.Amount, error) {
	if len(proofs) == 0 {
		return 0, newError(EmptyBatch, nil)
	}

	var redeemed cashu.Amount
	err := m.withTx(ctx, func(tx storage.Tx) error {
		total, markSpent, err := CheckInputsSingleUnit(ctx, tx, m.cache, m.verifier, proofs)
		if err != nil {
			return err
		}
		if settle != nil {
			if err := settle(ctx, tx, total); err != nil {
				return err
			}
		}
		if err := markSpent.Apply(ctx, tx); err != nil {
			return storeError(err)
		}
		redeemed = total
		return nil
	})
	if err != nil {
		return 0, err
	}
	return redeemed, nil
}

// DeactivateKeyset stops the keyset from being used for new outputs or
// inputs, here and in every process listening to keyset events.
func (m *Mint) DeactivateKeyset(ctx context.Context, id cashu.KeysetId) error {
	if err := m.db.UpdateKeysetActive(ctx, id, false); err != nil {
		if errors.Is(err, storage.ErrKeysetNotFound) {
			return keysetError(UnknownKeyset, id)
		}
		return newError(StoreFailure, err)
	}

	m.keys.SetActive(id.String(), false)
	m.cache.Invalidate(id)

	if m.events != nil {
		// other processes still expire the entry after the cache TTL
		if err := m.events.PublishKeysetEvent(ctx, pubsub.KeysetEvent{Id: id, Active: false}); err != nil {
			m.logger.Warn().Err(err).Str("keyset_id", id.String()).Msg("could not publish keyset event")
		}
	}
	m.logger.Info().Str("keyset_id", id.String()).Msg("keyset deactivated")
	return nil
}

func (m *Mint) Keysets(ctx context.Context) ([]cashu.KeysetResponse, error) {
	keysets, err := m.db.GetKeysets(ctx)
	if err != nil {
		return nil, newError(StoreFailure, err)
	}

	response := make([]cashu.KeysetResponse, len(keysets))
	for i, keyset := range keysets {
		response[i] = cashu.KeysetResponse{
			Id:          keyset.Id,
			Unit:        keyset.Unit.String(),
			Active:      keyset.Active,
			InputFeePpk: keyset.InputFeePpk,
		}
	}
	return response, nil
}

// balanced reports whether both sides carry the same amount of every unit.
func balanced(inputs, outputs []cashu.UnitAmount) bool {
	if len(inputs) != len(outputs) {
		return false
	}
	totals := make(map[cashu.Unit]cashu.Amount, len(inputs))
	for _, input := range inputs {
		totals[input.Unit] = input.Amount
	}
	for _, output := range outputs {
		amount, ok := totals[output.Unit]
		if !ok || amount != output.Amount {
			return false
		}
	}
	return true
}
