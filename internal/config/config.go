// Package config loads the raffle daemon configuration: a YAML file, then a
// .env file, then environment variables, then validation.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/neoraffle/internal/ledger"
	"github.com/R3E-Network/neoraffle/services/raffle"
	"github.com/R3E-Network/neoraffle/services/vrf"
)

// DefaultPath is where the daemon looks for its YAML file.
const DefaultPath = "config/raffled.yaml"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config is the full daemon configuration.
type Config struct {
	Service string       `yaml:"service" env:"RAFFLE_SERVICE_NAME"`
	Log     LogConfig    `yaml:"log"`
	HTTP    HTTPConfig   `yaml:"http"`
	Raffle  RaffleConfig `yaml:"raffle"`
	VRF     VRFConfig    `yaml:"vrf"`
	Keeper  KeeperConfig `yaml:"keeper"`
	Store   StoreConfig  `yaml:"store"`
	Redis   RedisConfig  `yaml:"redis"`
	Auth    AuthConfig   `yaml:"auth"`
	Ledger  LedgerConfig `yaml:"ledger"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

type HTTPConfig struct {
	Addr         string        `yaml:"addr" env:"RAFFLE_HTTP_ADDR"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"RAFFLE_HTTP_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"RAFFLE_HTTP_WRITE_TIMEOUT"`
	// RateLimit is requests per second per client; zero disables limiting.
	RateLimit float64 `yaml:"rate_limit" env:"RAFFLE_RATE_LIMIT"`
	RateBurst int     `yaml:"rate_burst" env:"RAFFLE_RATE_BURST"`
	// ValidateAddresses requires participants to be Neo N3 addresses.
	ValidateAddresses bool `yaml:"validate_addresses" env:"RAFFLE_VALIDATE_ADDRESSES"`
}

type RaffleConfig struct {
	Account              string        `yaml:"account" env:"RAFFLE_ACCOUNT"`
	EntranceFee          string        `yaml:"entrance_fee" env:"RAFFLE_ENTRANCE_FEE"`
	Interval             time.Duration `yaml:"interval" env:"RAFFLE_INTERVAL"`
	RequestTimeout       time.Duration `yaml:"request_timeout" env:"RAFFLE_REQUEST_TIMEOUT"`
	KeyHash              string        `yaml:"key_hash" env:"RAFFLE_KEY_HASH"`
	SubscriptionID       uint64        `yaml:"subscription_id" env:"RAFFLE_SUBSCRIPTION_ID"`
	RequestConfirmations uint16        `yaml:"request_confirmations" env:"RAFFLE_REQUEST_CONFIRMATIONS"`
	CallbackGasLimit     uint32        `yaml:"callback_gas_limit" env:"RAFFLE_CALLBACK_GAS_LIMIT"`
	NumWords             uint32        `yaml:"num_words" env:"RAFFLE_NUM_WORDS"`
}

type VRFConfig struct {
	Consumer  string        `yaml:"consumer" env:"VRF_CONSUMER"`
	Secret    string        `yaml:"secret" env:"VRF_SECRET"`
	BlockTime time.Duration `yaml:"block_time" env:"VRF_BLOCK_TIME"`
	QueueSize int           `yaml:"queue_size" env:"VRF_QUEUE_SIZE"`
}

type KeeperConfig struct {
	Enabled  bool   `yaml:"enabled" env:"KEEPER_ENABLED"`
	Schedule string `yaml:"schedule" env:"KEEPER_SCHEDULE"`
}

type StoreConfig struct {
	Driver       string `yaml:"driver" env:"STORE_DRIVER"`
	DSN          string `yaml:"dsn" env:"DATABASE_URL"`
	MaxOpenConns int    `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	Migrate      bool   `yaml:"migrate" env:"DATABASE_MIGRATE"`
}

// RedisConfig enables the Redis notification publisher when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
	Channel  string `yaml:"channel" env:"REDIS_CHANNEL"`
}

// AuthConfig holds the RSA public key admin JWTs are verified with.
type AuthConfig struct {
	PublicKeyPEM  string `yaml:"public_key_pem" env:"JWT_PUBLIC_KEY"`
	PublicKeyPath string `yaml:"public_key_path" env:"JWT_PUBLIC_KEY_PATH"`
}

// LedgerConfig seeds the in-memory ledger. Ignored with the postgres driver.
type LedgerConfig struct {
	Genesis map[string]string `yaml:"genesis"`
}

// Default returns the development configuration.
func Default() *Config {
	return &Config{
		Service: "raffled",
		Log:     LogConfig{Level: "info", Format: "json"},
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			RateLimit:    20,
			RateBurst:    40,
		},
		Raffle: RaffleConfig{
			Account:              "raffle",
			EntranceFee:          "0.01",
			Interval:             30 * time.Second,
			RequestTimeout:       10 * time.Minute,
			KeyHash:              "0xd89b2bf150e3b9e13446986e571fb9cab24b13cea0a43ea20a6049a85cc807cc",
			SubscriptionID:       1,
			RequestConfirmations: 3,
			CallbackGasLimit:     500_000,
			NumWords:             1,
		},
		VRF: VRFConfig{
			Consumer:  "raffle",
			BlockTime: time.Second,
			QueueSize: 1024,
		},
		Keeper: KeeperConfig{Enabled: true, Schedule: "@every 5s"},
		Store:  StoreConfig{Driver: DriverMemory, MaxOpenConns: 10, Migrate: true},
		Redis:  RedisConfig{Channel: "neoraffle:events"},
	}
}

// Load reads path (skipped when empty), applies .env and environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the daemon cannot start with.
func (c *Config) Validate() error {
	if _, err := c.RaffleEngineConfig(); err != nil {
		return err
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if strings.TrimSpace(c.Store.DSN) == "" {
			return errors.New("config: store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Keeper.Enabled && strings.TrimSpace(c.Keeper.Schedule) == "" {
		return errors.New("config: keeper.schedule is required when the keeper is enabled")
	}
	if c.HTTP.RateLimit < 0 || c.HTTP.RateBurst < 0 {
		return errors.New("config: rate limit must not be negative")
	}
	for account, amount := range c.Ledger.Genesis {
		if _, err := ledger.ParseAmount(amount); err != nil {
			return fmt.Errorf("config: genesis balance of %s: %w", account, err)
		}
	}
	return nil
}

// RaffleEngineConfig converts the raffle section into an engine configuration.
func (c *Config) RaffleEngineConfig() (raffle.Config, error) {
	fee, err := ledger.ParseAmount(c.Raffle.EntranceFee)
	if err != nil {
		return raffle.Config{}, fmt.Errorf("config: entrance fee: %w", err)
	}
	cfg := raffle.Config{
		Account:     c.Raffle.Account,
		EntranceFee: fee,
		Interval:    c.Raffle.Interval,
		Randomness: raffle.RandomnessParams{
			KeyHash:              c.Raffle.KeyHash,
			SubscriptionID:       c.Raffle.SubscriptionID,
			RequestConfirmations: c.Raffle.RequestConfirmations,
			CallbackGasLimit:     c.Raffle.CallbackGasLimit,
			NumWords:             c.Raffle.NumWords,
		},
		RequestTimeout: c.Raffle.RequestTimeout,
	}
	if err := cfg.Validate(); err != nil {
		return raffle.Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// VRFCoordinatorConfig converts the vrf section. An empty secret is replaced
// by a random one, so fulfilments are only verifiable for this process.
func (c *Config) VRFCoordinatorConfig() (vrf.Config, bool, error) {
	secret := []byte(c.VRF.Secret)
	ephemeral := false
	if len(secret) == 0 {
		var err error
		if secret, err = randomSecret(); err != nil {
			return vrf.Config{}, false, err
		}
		ephemeral = true
	}
	return vrf.Config{
		Secret:    secret,
		BlockTime: c.VRF.BlockTime,
		QueueSize: c.VRF.QueueSize,
	}, ephemeral, nil
}

// GenesisBalances returns the seeded memory-ledger balances in base units.
func (c *Config) GenesisBalances() (map[string]int64, error) {
	out := make(map[string]int64, len(c.Ledger.Genesis))
	for account, amount := range c.Ledger.Genesis {
		units, err := ledger.ParseAmount(amount)
		if err != nil {
			return nil, fmt.Errorf("genesis balance of %s: %w", account, err)
		}
		out[account] = units
	}
	return out, nil
}

// JWTPublicKey returns the PEM the admin routes verify against, reading
// PublicKeyPath when no inline key is set. Empty means admin routes are disabled.
func (c *Config) JWTPublicKey() ([]byte, error) {
	if c.Auth.PublicKeyPEM != "" {
		return []byte(c.Auth.PublicKeyPEM), nil
	}
	if c.Auth.PublicKeyPath == "" {
		return nil, nil
	}
	data, err := os.ReadFile(c.Auth.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read jwt public key: %w", err)
	}
	return data, nil
}
