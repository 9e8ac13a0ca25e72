package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/nutsnode/mintcore/cashu"
	"github.com/nutsnode/mintcore/crypto"
	"github.com/nutsnode/mintcore/indexer"
	"github.com/nutsnode/mintcore/mint"
	"github.com/nutsnode/mintcore/mint/storage/postgres"
	"github.com/spf13/viper"
)

const (
	MintEnvPrefix   = "MINT"
	SignerEnvPrefix = "SIGNER"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Signer   SignerConfig   `mapstructure:"signer"`
	Keys     KeysConfig     `mapstructure:"keys"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Indexer  IndexerConfig  `mapstructure:"indexer"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Addr      string `mapstructure:"addr"`
	AdminAddr string `mapstructure:"admin_addr"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

func (d DatabaseConfig) Postgres() postgres.Config {
	return postgres.Config{DSN: d.DSN, MaxConns: d.MaxConns, MinConns: d.MinConns}
}

// RedisConfig is optional. Without an address keyset events stay in
// process.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

type SignerConfig struct {
	// Addr is dialed by the mint and listened on by the signer.
	Addr        string        `mapstructure:"addr"`
	Insecure    bool          `mapstructure:"insecure"`
	Timeout     time.Duration `mapstructure:"timeout"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	// TLS material of the signer process. Empty with Insecure unset
	// means the signer refuses to start.
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

type KeysConfig struct {
	Mnemonic string         `mapstructure:"mnemonic"`
	Keysets  []KeysetConfig `mapstructure:"keysets"`
}

type KeysetConfig struct {
	Unit        string `mapstructure:"unit"`
	Index       uint32 `mapstructure:"index"`
	InputFeePpk uint   `mapstructure:"input_fee_ppk"`
	Active      bool   `mapstructure:"active"`
}

type CacheConfig struct {
	Size int           `mapstructure:"size"`
	TTL  time.Duration `mapstructure:"ttl"`
}

type IndexerConfig struct {
	indexer.Config `mapstructure:",squash"`

	Enabled bool   `mapstructure:"enabled"`
	Stream  string `mapstructure:"stream"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Load reads an optional .env file, then the config file at path (or
// config.yaml in the working directory), then environment variables
// with the given prefix. MINT_DATABASE_DSN sets database.dsn.
func Load(path string, envPrefix string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()

	v.SetDefault("server.addr", "127.0.0.1:3338")
	v.SetDefault("server.admin_addr", "127.0.0.1:8080")
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.path", "./data")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("redis.channel", "mint:keysets")
	v.SetDefault("signer.addr", "127.0.0.1:3339")
	v.SetDefault("signer.insecure", false)
	v.SetDefault("signer.timeout", mint.DefaultSignerTimeout)
	v.SetDefault("signer.dial_timeout", "5s")
	v.SetDefault("keys.keysets", []map[string]any{{"unit": "sat", "index": 0, "active": true}})
	v.SetDefault("cache.size", 256)
	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("indexer.enabled", false)
	v.SetDefault("indexer.data_dir", "./data/indexer")
	v.SetDefault("indexer.stream", indexer.DefaultStream)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only covers keys viper already knows
	for _, key := range []string{"keys.mnemonic", "database.dsn", "redis.addr", "redis.password", "indexer.token"} {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// KeysetSpecs returns the derivation specs of the configured keysets.
// The unit enum value is the unit's derivation index.
func (c *Config) KeysetSpecs() ([]crypto.KeysetSpec, error) {
	if len(c.Keys.Keysets) == 0 {
		return nil, errors.New("no keysets configured")
	}
	specs := make([]crypto.KeysetSpec, len(c.Keys.Keysets))
	for i, keyset := range c.Keys.Keysets {
		unit, err := cashu.UnitFromString(keyset.Unit)
		if err != nil {
			return nil, fmt.Errorf("keyset %d: %w", i, err)
		}
		specs[i] = crypto.KeysetSpec{
			Unit:        unit.String(),
			UnitIdx:     uint32(unit),
			Index:       keyset.Index,
			InputFeePpk: keyset.InputFeePpk,
			Active:      keyset.Active,
		}
	}
	return specs, nil
}

func (c *Config) MintConfig() (mint.Config, error) {
	if c.Keys.Mnemonic == "" {
		return mint.Config{}, errors.New("keys.mnemonic is required")
	}
	specs, err := c.KeysetSpecs()
	if err != nil {
		return mint.Config{}, err
	}
	return mint.Config{
		Mnemonic:      c.Keys.Mnemonic,
		Keysets:       specs,
		CacheSize:     c.Cache.Size,
		CacheTTL:      c.Cache.TTL,
		SignerTimeout: c.Signer.Timeout,
	}, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("database.path is required for sqlite")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Indexer.Enabled {
		if err := c.Indexer.Config.Validate(); err != nil {
			return err
		}
	}
	return nil
}
