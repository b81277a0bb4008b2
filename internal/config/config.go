// Package config holds the application configuration for the OBO service.
package config

import (
	"fmt"
	"sort"
	"time"
)

// Config is the root configuration object.
type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Database  DatabaseConfig            `mapstructure:"database"`
	Redis     RedisConfig               `mapstructure:"redis"`
	Vault     VaultConfig               `mapstructure:"vault"`
	Kafka     KafkaConfig               `mapstructure:"kafka"`
	Crypto    CryptoConfig              `mapstructure:"crypto"`
	Issuer    IssuerConfig              `mapstructure:"issuer"`
	Policy    PolicyConfig              `mapstructure:"policy"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
	Log       LogConfig                 `mapstructure:"log"`
	Tracing   TracingConfig             `mapstructure:"tracing"`
}

type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	ReadTimeout    int      `mapstructure:"read_timeout"`  // seconds
	WriteTimeout   int      `mapstructure:"write_timeout"` // seconds
	PublicURL      string   `mapstructure:"public_url"`    // base URL for OAuth redirect URIs
	Environment    string   `mapstructure:"environment"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	Database        string `mapstructure:"database"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxConns        int    `mapstructure:"max_conns"`
	MinConns        int    `mapstructure:"min_conns"`
	MaxConnLifetime int    `mapstructure:"max_conn_lifetime"` // minutes
	MaxConnIdleTime int    `mapstructure:"max_conn_idle_time"` // minutes
}

// DSN builds the libpq-style connection string for pgx.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

type RedisConfig struct {
	Address      string `mapstructure:"address"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

// VaultConfig configures the optional HashiCorp Vault signing-key source.
type VaultConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Address   string `mapstructure:"address"`
	Token     string `mapstructure:"token"`
	MountPath string `mapstructure:"mount_path"`
	KeyPath   string `mapstructure:"key_path"`
}

type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	AuditTopic   string        `mapstructure:"audit_topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// CryptoConfig is the CredentialVault surface. The encryption secret is never
// used directly as the cipher key; it is stretched with scrypt.
type CryptoConfig struct {
	EncryptionSecret string `mapstructure:"encryption_secret"`
	EncryptionSalt   string `mapstructure:"encryption_salt"`
	EncryptAtRest    bool   `mapstructure:"encrypt_at_rest"`
	OneTimeDelivery  bool   `mapstructure:"one_time_delivery"`
}

// IssuerConfig is the TokenIssuer surface. SigningKeys maps a numeric ordinal
// to the key secret; the lowest ordinal is the primary signing key and all
// keys remain in the verification set.
type IssuerConfig struct {
	SigningKeys map[int]string `mapstructure:"signing_keys"`
	DefaultTTL  int            `mapstructure:"default_ttl"` // seconds
}

// OrderedKeyIDs returns the configured key ordinals sorted ascending.
func (c *IssuerConfig) OrderedKeyIDs() []int {
	ids := make([]int, 0, len(c.SigningKeys))
	for id := range c.SigningKeys {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// PolicyConfig locates the YAML policy file and controls hot reload.
type PolicyConfig struct {
	FilePath string `mapstructure:"file_path"`
	Watch    bool   `mapstructure:"watch"`
}

// ProviderConfig holds per-target OAuth client settings. Targets that only
// support BYOC leave the client fields empty.
type ProviderConfig struct {
	ClientID      string   `mapstructure:"client_id"`
	ClientSecret  string   `mapstructure:"client_secret"`
	DeviceAuthURL string   `mapstructure:"device_auth_url"`
	AuthorizeURL  string   `mapstructure:"authorize_url"`
	TokenURL      string   `mapstructure:"token_url"`
	ValidationURL string   `mapstructure:"validation_url"`
	RedirectURI   string   `mapstructure:"redirect_uri"`
	DefaultScopes []string `mapstructure:"default_scopes"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	ServiceName    string `mapstructure:"service_name"`
}

// Validate checks for essential configuration values.
func (c *Config) Validate() error {
	if c.Crypto.EncryptAtRest && c.Crypto.EncryptionSecret == "" {
		return fmt.Errorf("crypto.encryption_secret is required when encrypt_at_rest is enabled")
	}
	if len(c.Issuer.SigningKeys) == 0 {
		return fmt.Errorf("issuer.signing_keys must contain at least one key")
	}
	for id, secret := range c.Issuer.SigningKeys {
		if secret == "" {
			return fmt.Errorf("issuer.signing_keys[%d] is empty", id)
		}
	}
	return nil
}
