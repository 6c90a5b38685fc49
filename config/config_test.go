package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sushant-115/gojodoc/core/codec"
	"github.com/sushant-115/gojodoc/core/storage/boltstore"
	"github.com/sushant-115/gojodoc/core/storage/memstore"
)

const testKey = "000102030405060708090a0b0c0d0e0f"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gojodoc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, EngineMemory, cfg.Storage.Engine)
	require.Equal(t, 30*time.Second, cfg.Transactions.DefaultTimeout)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dataPath := filepath.Join(t.TempDir(), "db", "gojodoc.db")
	path := writeConfig(t, `
logger:
  level: debug
  format: json
telemetry:
  enabled: true
  prometheus_port: 9464
storage:
  engine: bolt
  path: `+dataPath+`
  open_timeout: 2s
transactions:
  default_timeout: 1m
codecs:
  compression: true
  encryption_key: `+testKey+`
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Logger.Level)
	require.Equal(t, "json", cfg.Logger.Format)
	require.Equal(t, "stderr", cfg.Logger.OutputFile, "unset keys keep their default")
	require.True(t, cfg.Telemetry.Enabled)
	require.Equal(t, 9464, cfg.Telemetry.PrometheusPort)
	require.Equal(t, EngineBolt, cfg.Storage.Engine)
	require.Equal(t, dataPath, cfg.Storage.Path)
	require.Equal(t, 2*time.Second, cfg.Storage.OpenTimeout)
	require.Equal(t, time.Minute, cfg.Transactions.DefaultTimeout)

	pipeline, err := cfg.Codecs.Pipeline()
	require.NoError(t, err)
	require.Len(t, pipeline, 2)
	require.IsType(t, codec.LZ4{}, pipeline[0])
	require.IsType(t, codec.Encryption{}, pipeline[1])

	store, err := cfg.Storage.OpenStore(zap.NewNop())
	require.NoError(t, err)
	defer store.Close()
	require.IsType(t, &boltstore.Store{}, store)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"unknown engine": "storage:\n  engine: rocks\n",
		"bolt no path":   "storage:\n  engine: bolt\n  path: \"\"\n",
		"zero timeout":   "transactions:\n  default_timeout: 0s\n",
		"bad key":        "codecs:\n  encryption_key: zz\n",
		"short key":      "codecs:\n  encryption_key: 0011\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadReportsIOAndSyntaxErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "storage: [unclosed"))
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "failed to parse"))
}

func TestEmptyPipelineAndMemoryStore(t *testing.T) {
	pipeline, err := CodecsConfig{}.Pipeline()
	require.NoError(t, err)
	require.Empty(t, pipeline)

	store, err := StorageConfig{Engine: EngineMemory}.OpenStore(zap.NewNop())
	require.NoError(t, err)
	require.IsType(t, &memstore.Store{}, store)
}
