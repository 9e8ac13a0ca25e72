package mint

import (
	"time"

	"github.com/nutsnode/mintcore/crypto"
)

type Config struct {
	// Mnemonic seeds the key material used to verify proofs. It must be
	// the one the signing oracle derives its keysets from.
	Mnemonic string
	Keysets  []crypto.KeysetSpec

	CacheSize     int
	CacheTTL      time.Duration
	SignerTimeout time.Duration
}
