package indexer

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingToken   = errors.New("indexer token is required")
	ErrNoPairs        = errors.New("at least one recipient/asset pair is required")
	ErrMissingDataDir = errors.New("indexer data dir is required")
	ErrInvalidAddress = errors.New("invalid address")
)

// Pair is a recipient address watched for transfers of one asset.
type Pair struct {
	Recipient string `mapstructure:"recipient"`
	Asset     string `mapstructure:"asset"`
}

type Config struct {
	// Token authenticates against the upstream event feed.
	Token   string `mapstructure:"token"`
	Pairs   []Pair `mapstructure:"pairs"`
	DataDir string `mapstructure:"data_dir"`
}

func (c Config) Validate() error {
	if c.Token == "" {
		return ErrMissingToken
	}
	if len(c.Pairs) == 0 {
		return ErrNoPairs
	}
	if c.DataDir == "" {
		return ErrMissingDataDir
	}
	for i, pair := range c.Pairs {
		if _, err := normalizeAddress(pair.Recipient); err != nil {
			return fmt.Errorf("pair %d recipient: %w", i, err)
		}
		if _, err := normalizeAddress(pair.Asset); err != nil {
			return fmt.Errorf("pair %d asset: %w", i, err)
		}
	}
	return nil
}

// normalizeAddress returns the canonical form of a 0x-prefixed field
// element: lower case without leading zeros.
func normalizeAddress(address string) (string, error) {
	hexPart, ok := strings.CutPrefix(strings.ToLower(address), "0x")
	if !ok || hexPart == "" || len(hexPart) > 64 {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	for _, r := range hexPart {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
		}
	}
	hexPart = strings.TrimLeft(hexPart, "0")
	if hexPart == "" {
		hexPart = "0"
	}
	return "0x" + hexPart, nil
}
