// Package config loads the YAML configuration of a gojodoc process.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sushant-115/gojodoc/core/codec"
	"github.com/sushant-115/gojodoc/core/security/encryption"
	"github.com/sushant-115/gojodoc/core/storage"
	"github.com/sushant-115/gojodoc/core/storage/boltstore"
	"github.com/sushant-115/gojodoc/core/storage/memstore"
	"github.com/sushant-115/gojodoc/pkg/logger"
	"github.com/sushant-115/gojodoc/pkg/telemetry"
)

// Storage engines.
const (
	EngineMemory = "memory"
	EngineBolt   = "bolt"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the root of the configuration file.
type Config struct {
	Logger       logger.Config      `yaml:"logger"`
	Telemetry    telemetry.Config   `yaml:"telemetry"`
	Storage      StorageConfig      `yaml:"storage"`
	Transactions TransactionsConfig `yaml:"transactions"`
	Codecs       CodecsConfig       `yaml:"codecs"`
}

type StorageConfig struct {
	// Engine is "memory" or "bolt".
	Engine string `yaml:"engine"`
	// Path is the bolt database file.
	Path string `yaml:"path"`
	// OpenTimeout bounds the wait for the bolt file lock.
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

type TransactionsConfig struct {
	// DefaultTimeout is the lease given to transactions that do not ask for one.
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

type CodecsConfig struct {
	// Compression enables the LZ4 codec.
	Compression bool `yaml:"compression"`
	// EncryptionKey is a hex encoded AES key (16, 24 or 32 bytes). Empty
	// disables encryption.
	EncryptionKey string `yaml:"encryption_key"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Logger: logger.Config{
			Level:      "info",
			Format:     "console",
			OutputFile: "stderr",
			Service:    logger.DefaultService,
		},
		Telemetry: telemetry.Config{
			ServiceName:      telemetry.DefaultServiceName,
			TraceSampleRatio: 1,
		},
		Storage: StorageConfig{
			Engine:      EngineMemory,
			Path:        "gojodoc_data/gojodoc.db",
			OpenTimeout: time.Second,
		},
		Transactions: TransactionsConfig{
			DefaultTimeout: 30 * time.Second,
		},
	}
}

// Load reads the file at path over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the settings that would otherwise fail late.
func (c Config) Validate() error {
	switch c.Storage.Engine {
	case EngineMemory:
	case EngineBolt:
		if c.Storage.Path == "" {
			return fmt.Errorf("%w: storage.path is required for the bolt engine", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage engine %q", ErrInvalidConfig, c.Storage.Engine)
	}
	if c.Transactions.DefaultTimeout <= 0 {
		return fmt.Errorf("%w: transactions.default_timeout must be positive", ErrInvalidConfig)
	}
	if c.Codecs.EncryptionKey != "" {
		if _, err := encryption.NewSealerFromHex(c.Codecs.EncryptionKey); err != nil {
			return fmt.Errorf("%w: codecs.encryption_key: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}

// Pipeline builds the document codec pipeline. Compression runs before
// encryption, since encrypted bytes do not compress.
func (c CodecsConfig) Pipeline() (codec.Pipeline, error) {
	var p codec.Pipeline
	if c.Compression {
		p = append(p, codec.LZ4{})
	}
	if c.EncryptionKey != "" {
		sealer, err := encryption.NewSealerFromHex(c.EncryptionKey)
		if err != nil {
			return nil, err
		}
		p = append(p, codec.Encryption{Sealer: sealer})
	}
	return p, nil
}

// OpenStore opens the configured storage engine.
func (c StorageConfig) OpenStore(log *zap.Logger) (storage.Storage, error) {
	switch c.Engine {
	case EngineBolt:
		store, err := boltstore.Open(c.Path, boltstore.Options{Timeout: c.OpenTimeout, Logger: log})
		if err != nil {
			return nil, err
		}
		return store, nil
	case EngineMemory, "":
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("%w: unknown storage engine %q", ErrInvalidConfig, c.Engine)
	}
}
