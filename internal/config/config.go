package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/khanghh/kguard/params"
	"github.com/spf13/viper"
)

const (
	DefaultListenAddr     = ":3000"
	DefaultStorageBackend = StorageBackendRedis
	DefaultAuditBackend   = AuditBackendMySQL
)

const (
	StorageBackendRedis  = "redis"
	StorageBackendMemory = "memory"
	StorageBackendBadger = "badger"
	AuditBackendMySQL    = "mysql"
	AuditBackendMemory   = "memory"
)

var (
	ErrAccessTTLExceedsRefresh = errors.New("credential accessTTL must not exceed refreshTTL")
	ErrInteractionWindow       = errors.New("honeytrap minElapsed must be less than maxElapsed")
	ErrGridTooSmall            = errors.New("grid size cannot hold targets and honeytraps")
)

type MySQLConfig struct {
	Dsn             string   `mapstructure:"dsn"`
	Replicas        []string `mapstructure:"replicas"`
	TablePrefix     string   `mapstructure:"tablePrefix"`
	MaxIdleConns    int      `mapstructure:"maxIdleConns"`
	MaxOpenConns    int      `mapstructure:"maxOpenConns"`
	ConnMaxIdleTime int      `mapstructure:"connMaxIdleTime"`
	ConnMaxLifetime int      `mapstructure:"connMaxLifetime"`
}

type RedisConfig struct {
	URL         string `mapstructure:"url"`
	PoolSize    int    `mapstructure:"poolSize"`
	ClusterMode bool   `mapstructure:"clusterMode"`
}

type BadgerConfig struct {
	Dir      string `mapstructure:"dir"`
	InMemory bool   `mapstructure:"inMemory"`
}

type BreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"maxRequests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MinRequests  uint32        `mapstructure:"minRequests"`
	FailureRatio float64       `mapstructure:"failureRatio" validate:"gte=0,lte=1"`
}

type StorageConfig struct {
	Backend string        `mapstructure:"backend" validate:"oneof=redis memory badger"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Badger  BadgerConfig  `mapstructure:"badger"`
	Breaker BreakerConfig `mapstructure:"breaker"`
}

type AuditConfig struct {
	Backend string `mapstructure:"backend" validate:"oneof=mysql memory"`
	ChainID string `mapstructure:"chainID" validate:"required,max=64"`
}

type GridConfig struct {
	Size           int           `mapstructure:"size" validate:"gte=4,lte=64"`
	TargetCount    int           `mapstructure:"targetCount" validate:"gte=1"`
	HoneytrapCount int           `mapstructure:"honeytrapCount" validate:"gte=0"`
	ChallengeTTL   time.Duration `mapstructure:"challengeTTL" validate:"gt=0"`
}

type HoneytrapConfig struct {
	DecoyCount int           `mapstructure:"decoyCount" validate:"gte=1,lte=32"`
	MinElapsed time.Duration `mapstructure:"minElapsed" validate:"gte=0"`
	MaxElapsed time.Duration `mapstructure:"maxElapsed" validate:"gt=0"`
}

type CredentialConfig struct {
	Issuer               string        `mapstructure:"issuer" validate:"required"`
	Audience             string        `mapstructure:"audience" validate:"required"`
	AccessTTL            time.Duration `mapstructure:"accessTTL" validate:"gt=0"`
	RefreshTTL           time.Duration `mapstructure:"refreshTTL" validate:"gt=0"`
	RegistryGrace        time.Duration `mapstructure:"registryGrace" validate:"gte=0"`
	SigningKeyFile       string        `mapstructure:"signingKeyFile"`
	VerificationKeyFiles []string      `mapstructure:"verificationKeyFiles"`
}

type Config struct {
	Debug        bool             `mapstructure:"debug"`
	NodeID       int64            `mapstructure:"nodeID" validate:"gte=0,lte=1023"` // snowflake node of audit entry ids
	MasterKey    string           `mapstructure:"masterKey" validate:"required,min=16"`
	ListenAddr   string           `mapstructure:"listenAddr"`
	AllowOrigins []string         `mapstructure:"allowOrigins"`
	Storage      StorageConfig    `mapstructure:"storage"`
	MySQL        MySQLConfig      `mapstructure:"mysql"`
	Audit        AuditConfig      `mapstructure:"audit"`
	Grid         GridConfig       `mapstructure:"grid"`
	Honeytrap    HoneytrapConfig  `mapstructure:"honeytrap"`
	Credential   CredentialConfig `mapstructure:"credential"`
}

func (c *Config) Sanitize() error {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = DefaultStorageBackend
	}
	if c.Storage.Breaker.MaxRequests == 0 {
		c.Storage.Breaker.MaxRequests = 3
	}
	if c.Storage.Breaker.Interval == 0 {
		c.Storage.Breaker.Interval = time.Minute
	}
	if c.Storage.Breaker.Timeout == 0 {
		c.Storage.Breaker.Timeout = 30 * time.Second
	}
	if c.Storage.Breaker.MinRequests == 0 {
		c.Storage.Breaker.MinRequests = 10
	}
	if c.Storage.Breaker.FailureRatio == 0 {
		c.Storage.Breaker.FailureRatio = 0.6
	}
	if c.Audit.Backend == "" {
		c.Audit.Backend = DefaultAuditBackend
	}
	if c.Audit.ChainID == "" {
		c.Audit.ChainID = params.AuditChainID
	}
	if c.Grid.Size == 0 {
		c.Grid.Size = params.GridSize
	}
	if c.Grid.TargetCount == 0 {
		c.Grid.TargetCount = params.GridTargetCount
	}
	if c.Grid.HoneytrapCount == 0 {
		c.Grid.HoneytrapCount = params.GridHoneytrapCount
	}
	if c.Grid.ChallengeTTL == 0 {
		c.Grid.ChallengeTTL = params.GridChallengeExpiration
	}
	if c.Honeytrap.DecoyCount == 0 {
		c.Honeytrap.DecoyCount = params.HoneytrapDecoyCount
	}
	if c.Honeytrap.MinElapsed == 0 {
		c.Honeytrap.MinElapsed = params.InteractionMinElapsed
	}
	if c.Honeytrap.MaxElapsed == 0 {
		c.Honeytrap.MaxElapsed = params.InteractionMaxElapsed
	}
	if c.Credential.Issuer == "" {
		c.Credential.Issuer = params.CredentialIssuer
	}
	if c.Credential.Audience == "" {
		c.Credential.Audience = params.CredentialAudience
	}
	if c.Credential.AccessTTL == 0 {
		c.Credential.AccessTTL = params.AccessTokenExpiration
	}
	if c.Credential.RefreshTTL == 0 {
		c.Credential.RefreshTTL = params.RefreshTokenExpiration
	}
	if c.Credential.RegistryGrace == 0 {
		c.Credential.RegistryGrace = params.CredentialRegistryGrace
	}
	return c.Validate()
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Credential.AccessTTL > c.Credential.RefreshTTL {
		return ErrAccessTTLExceedsRefresh
	}
	if c.Honeytrap.MinElapsed >= c.Honeytrap.MaxElapsed {
		return ErrInteractionWindow
	}
	if c.Grid.TargetCount+c.Grid.HoneytrapCount >= c.Grid.Size {
		return ErrGridTooSmall
	}
	return nil
}

func LoadConfig(filename string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(filename)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Sanitize(); err != nil {
		return nil, err
	}
	return &config, nil
}
