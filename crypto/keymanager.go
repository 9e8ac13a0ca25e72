package crypto

import (
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

// KeysetSpec describes a keyset to derive from the master key.
type KeysetSpec struct {
	Unit        string
	UnitIdx     uint32
	Index       uint32
	InputFeePpk uint
	Active      bool
}

// KeyManager holds the mint keysets derived from a single master key.
type KeyManager struct {
	master  *hdkeychain.ExtendedKey
	mu      sync.RWMutex
	keysets map[string]*MintKeyset
}

func NewKeyManager(mnemonic string, specs []KeysetSpec) (*KeyManager, error) {
	master, err := MasterKeyFromMnemonic(mnemonic)
	if err != nil {
		return nil, err
	}

	km := &KeyManager{master: master, keysets: make(map[string]*MintKeyset, len(specs))}
	for _, spec := range specs {
		if _, err := km.AddKeyset(spec); err != nil {
			return nil, err
		}
	}
	return km, nil
}

// AddKeyset derives the keyset described by spec and stores it.
func (km *KeyManager) AddKeyset(spec KeysetSpec) (*MintKeyset, error) {
	keyset, err := GenerateKeyset(km.master, spec.Unit, spec.UnitIdx, spec.Index, spec.InputFeePpk)
	if err != nil {
		return nil, fmt.Errorf("could not derive keyset for unit %v at index %v: %v", spec.Unit, spec.Index, err)
	}
	keyset.Active = spec.Active

	km.mu.Lock()
	km.keysets[keyset.Id] = keyset
	km.mu.Unlock()
	return keyset, nil
}

func (km *KeyManager) Keyset(id string) (*MintKeyset, bool) {
	km.mu.RLock()
	defer km.mu.RUnlock()
	keyset, ok := km.keysets[id]
	return keyset, ok
}

func (km *KeyManager) SetActive(id string, active bool) bool {
	km.mu.Lock()
	defer km.mu.Unlock()
	keyset, ok := km.keysets[id]
	if !ok {
		return false
	}
	// keysets handed out earlier are never mutated
	updated := *keyset
	updated.Active = active
	km.keysets[id] = &updated
	return true
}

func (km *KeyManager) Keysets() []*MintKeyset {
	km.mu.RLock()
	defer km.mu.RUnlock()
	keysets := make([]*MintKeyset, 0, len(km.keysets))
	for _, keyset := range km.keysets {
		keysets = append(keysets, keyset)
	}
	return keysets
}
