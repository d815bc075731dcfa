// Package config loads process configuration from a YAML file with
// environment overrides. Key material never appears in the file: the
// identity salt, vault master key, issuer key and admin credentials come
// only from the environment, so a leaked config file leaks no secrets.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full process configuration.
type Config struct {
	Server      Server      `yaml:"server"`
	Log         Log         `yaml:"log"`
	Postgres    Postgres    `yaml:"postgres"`
	Redis       Redis       `yaml:"redis"`
	Kafka       Kafka       `yaml:"kafka"`
	Ledger      Ledger      `yaml:"ledger"`
	Eligibility Eligibility `yaml:"eligibility"`
	Credential  Credential  `yaml:"credential"`
	Reconciler  Reconciler  `yaml:"reconciler"`
	Artifacts   Artifacts   `yaml:"artifacts"`
	RateLimit   RateLimit   `yaml:"rate_limit"`

	Secrets Secrets `yaml:"-"`
}

// Server is the HTTP listener configuration.
type Server struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Log selects handler format and level.
type Log struct {
	Format string `yaml:"format"` // "json" or "text"
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
}

// Postgres connection settings. Empty URL selects the in-memory stores.
type Postgres struct {
	URL string `yaml:"url"`
}

// Redis connection settings. Empty URL disables the Redis-backed stores.
type Redis struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Kafka audit sink settings. Empty brokers disables the sink.
type Kafka struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Eligibility points at the seeded authority registry. Empty file disables
// screening entirely; registrations then skip the authority check.
type Eligibility struct {
	SeedFile string `yaml:"seed_file"`
}

// Ledger selects and tunes the ledger backend.
type Ledger struct {
	// Path of the embedded chain file. Empty keeps the chain in memory only.
	Path           string        `yaml:"path"`
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
	ConfirmPoll    time.Duration `yaml:"confirm_poll"`
	ConfirmLatency time.Duration `yaml:"confirm_latency"`
}

// Credential tunes issuance.
type Credential struct {
	TTL time.Duration `yaml:"ttl"`
}

// Reconciler tunes the backfill job.
type Reconciler struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
	RateLimit float64       `yaml:"rate_limit"`
}

// Artifacts configures QR image storage.
type Artifacts struct {
	// Root directory for the filesystem store. Empty selects the in-memory
	// store.
	Root   string `yaml:"root"`
	QRSize int    `yaml:"qr_size"`
}

// RateLimit toggles throttling.
type RateLimit struct {
	Disabled bool `yaml:"disabled"`
}

// Secrets is the env-only key material.
type Secrets struct {
	// IdentitySaltHex keys fingerprint-to-keypair derivation. 32 bytes hex.
	IdentitySaltHex string
	// VaultMasterKeyHex keys the PII vault. 32 bytes hex.
	VaultMasterKeyHex string
	// IssuerKeyHex is the credential issuer's secp256k1 private key.
	IssuerKeyHex string
	// AdminSecretHash is the bcrypt hash of the admin API secret.
	AdminSecretHash string
	// SessionSigningKey signs admin session tokens.
	SessionSigningKey string
}

// Env variable names for the secrets.
const (
	EnvIdentitySalt      = "ELECTORATE_IDENTITY_SALT"
	EnvVaultMasterKey    = "ELECTORATE_VAULT_MASTER_KEY"
	EnvIssuerKey         = "ELECTORATE_ISSUER_KEY"
	EnvAdminSecretHash   = "ELECTORATE_ADMIN_SECRET_HASH"
	EnvSessionSigningKey = "ELECTORATE_SESSION_SIGNING_KEY"
)

// Load reads path (optional; empty path skips the file), applies defaults
// and environment overrides, and validates. Secrets are read from the
// environment here and nowhere else.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: Server{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Log: Log{Format: "json", Level: "info"},
		Redis: Redis{
			PoolSize:     10,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: Kafka{Topic: "electorate.audit"},
		Ledger: Ledger{
			ConfirmTimeout: 15 * time.Second,
			ConfirmPoll:    200 * time.Millisecond,
		},
		Credential: Credential{TTL: 30 * time.Minute},
		Reconciler: Reconciler{
			Interval:  time.Minute,
			BatchSize: 100,
			RateLimit: 10,
		},
		Artifacts: Artifacts{QRSize: 512},
	}
}

func applyEnv(cfg *Config) {
	if addr := os.Getenv("ELECTORATE_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if url := os.Getenv("ELECTORATE_POSTGRES_URL"); url != "" {
		cfg.Postgres.URL = url
	}
	if url := os.Getenv("ELECTORATE_REDIS_URL"); url != "" {
		cfg.Redis.URL = url
	}

	cfg.Secrets = Secrets{
		IdentitySaltHex:   os.Getenv(EnvIdentitySalt),
		VaultMasterKeyHex: os.Getenv(EnvVaultMasterKey),
		IssuerKeyHex:      os.Getenv(EnvIssuerKey),
		AdminSecretHash:   os.Getenv(EnvAdminSecretHash),
		SessionSigningKey: os.Getenv(EnvSessionSigningKey),
	}
}

func (c *Config) validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr cannot be empty"))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not json or text", c.Log.Format))
	}
	if c.Credential.TTL <= 0 {
		errs = append(errs, errors.New("credential.ttl must be positive"))
	}
	if c.Reconciler.BatchSize <= 0 {
		errs = append(errs, errors.New("reconciler.batch_size must be positive"))
	}
	return errors.Join(errs...)
}

// RequireSecrets checks that all serving secrets are present and decodable.
// Called by the serve command; the keygen command runs without them.
func (c *Config) RequireSecrets() error {
	var errs []error
	if _, err := c.IdentitySalt(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.VaultMasterKey(); err != nil {
		errs = append(errs, err)
	}
	if c.Secrets.IssuerKeyHex == "" {
		errs = append(errs, fmt.Errorf("%s is not set", EnvIssuerKey))
	}
	if c.Secrets.AdminSecretHash == "" {
		errs = append(errs, fmt.Errorf("%s is not set", EnvAdminSecretHash))
	}
	if c.Secrets.SessionSigningKey == "" {
		errs = append(errs, fmt.Errorf("%s is not set", EnvSessionSigningKey))
	}
	return errors.Join(errs...)
}

// IdentitySalt decodes the derivation salt.
func (c *Config) IdentitySalt() ([]byte, error) {
	return decodeKey(EnvIdentitySalt, c.Secrets.IdentitySaltHex)
}

// VaultMasterKey decodes the vault master key.
func (c *Config) VaultMasterKey() ([]byte, error) {
	return decodeKey(EnvVaultMasterKey, c.Secrets.VaultMasterKeyHex)
}

func decodeKey(name, value string) ([]byte, error) {
	if value == "" {
		return nil, fmt.Errorf("%s is not set", name)
	}
	key, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%s is not valid hex: %w", name, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%s must decode to 32 bytes, got %d", name, len(key))
	}
	return key, nil
}
