package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/tyler-smith/go-bip39"
)

const maxOrder = 64

var ErrInvalidMnemonic = errors.New("invalid mnemonic")

type MintKeyset struct {
	Id                string
	Unit              string
	Active            bool
	DerivationPathIdx uint32
	InputFeePpk       uint
	Keys              map[uint64]KeyPair
}

type KeyPair struct {
	PrivateKey *secp256k1.PrivateKey
	PublicKey  *secp256k1.PublicKey
}

// MasterKeyFromMnemonic returns the BIP32 master key for the seed of mnemonic.
func MasterKeyFromMnemonic(mnemonic string) (*hdkeychain.ExtendedKey, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seed := bip39.NewSeed(mnemonic, "")
	return hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
}

// GenerateKeyset derives the keys for every amount 2^i at path
// m/unitIdx'/index'/i'.
func GenerateKeyset(master *hdkeychain.ExtendedKey, unit string, unitIdx, index uint32, inputFeePpk uint) (*MintKeyset, error) {
	unitPath, err := master.Derive(hdkeychain.HardenedKeyStart + unitIdx)
	if err != nil {
		return nil, err
	}
	keysetPath, err := unitPath.Derive(hdkeychain.HardenedKeyStart + index)
	if err != nil {
		return nil, err
	}

	keys := make(map[uint64]KeyPair, maxOrder)
	for i := 0; i < maxOrder; i++ {
		amount := uint64(1) << i
		amountPath, err := keysetPath.Derive(hdkeychain.HardenedKeyStart + uint32(i))
		if err != nil {
			return nil, err
		}
		privateKey, err := amountPath.ECPrivKey()
		if err != nil {
			return nil, err
		}
		keys[amount] = KeyPair{PrivateKey: privateKey, PublicKey: privateKey.PubKey()}
	}

	return &MintKeyset{
		Id:                DeriveKeysetId(keys),
		Unit:              unit,
		Active:            true,
		DerivationPathIdx: index,
		InputFeePpk:       inputFeePpk,
		Keys:              keys,
	}, nil
}

// DeriveKeysetId is "00" followed by the first 14 hex characters of
// sha256 over the compressed public keys sorted by amount.
func DeriveKeysetId(keys map[uint64]KeyPair) string {
	amounts := make([]uint64, 0, len(keys))
	for amount := range keys {
		amounts = append(amounts, amount)
	}
	sort.Slice(amounts, func(i, j int) bool {
		return amounts[i] < amounts[j]
	})

	hash := sha256.New()
	for _, amount := range amounts {
		hash.Write(keys[amount].PublicKey.SerializeCompressed())
	}

	return "00" + hex.EncodeToString(hash.Sum(nil))[:14]
}

func (ks *MintKeyset) PublicKeys() map[uint64]string {
	pubKeys := make(map[uint64]string, len(ks.Keys))
	for amount, key := range ks.Keys {
		pubKeys[amount] = hex.EncodeToString(key.PublicKey.SerializeCompressed())
	}
	return pubKeys
}

// Key returns the private key used to sign the given amount.
func (ks *MintKeyset) Key(amount uint64) (*secp256k1.PrivateKey, error) {
	key, ok := ks.Keys[amount]
	if !ok {
		return nil, fmt.Errorf("keyset %v has no key for amount %v", ks.Id, amount)
	}
	return key.PrivateKey, nil
}
