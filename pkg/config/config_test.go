package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/digitaldna/pkg/artifacts"
	"github.com/Mindburn-Labs/digitaldna/pkg/config"
)

var envKeys = []string{
	"LOG_LEVEL", "LOG_FORMAT", "DNA_ALGORITHM", "DNA_SCHEMA_VERSION",
	"CONSENSUS_POLICY", "CONSENSUS_TIMEOUT", "NODE_IDS", "INBOUND_RPS", "INBOUND_BURST", "ORACLE_WASM",
	"STORE_DRIVER", "DATABASE_URL", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
	"TOKEN_SECRET", "TOKEN_TTL", "RULES_FILE", "OTEL_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT",
	"ARTIFACT_STORAGE_TYPE", "AUDIT_DIR", "ARTIFACT_S3_BUCKET", "ARTIFACT_S3_REGION", "AWS_REGION",
	"ARTIFACT_S3_ENDPOINT", "ARTIFACT_S3_PREFIX", "ARTIFACT_GCS_BUCKET", "ARTIFACT_GCS_PREFIX", "AUDIT_SIGNING_SEED",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

// The pipeline must boot with no configuration at all.
func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "sha256_composite", cfg.DNA.Algorithm)
	assert.Equal(t, "1.0.0", cfg.DNA.SchemaVersion)
	assert.Equal(t, "MAJORITY", cfg.Consensus.Policy)
	assert.Equal(t, []string{"node-1", "node-2", "node-3"}, cfg.Consensus.NodeIDs)
	assert.Equal(t, config.DriverMemory, cfg.Store.Driver)
	assert.Empty(t, cfg.Token.Secret)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, artifacts.StoreTypeFS, cfg.Audit.Type)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("DNA_ALGORITHM", "blake2_composite")
	t.Setenv("CONSENSUS_POLICY", "unanimous")
	t.Setenv("CONSENSUS_TIMEOUT", "250ms")
	t.Setenv("NODE_IDS", "alpha, beta ,,gamma")
	t.Setenv("INBOUND_RPS", "2.5")
	t.Setenv("ORACLE_WASM", "/etc/dna/verdict.wasm")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", "file:dna.db")
	t.Setenv("TOKEN_SECRET", strings.Repeat("k", 32))
	t.Setenv("TOKEN_TTL", "1h")
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("ARTIFACT_STORAGE_TYPE", "s3")
	t.Setenv("ARTIFACT_S3_BUCKET", "audit")
	t.Setenv("AWS_REGION", "eu-west-1")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "blake2_composite", cfg.DNA.Algorithm)
	assert.Equal(t, "unanimous", cfg.Consensus.Policy)
	assert.Equal(t, 250*time.Millisecond, cfg.Consensus.Timeout)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, cfg.Consensus.NodeIDs)
	assert.Equal(t, 2.5, cfg.Consensus.InboundRPS)
	assert.Equal(t, "/etc/dna/verdict.wasm", cfg.Consensus.OracleWasm)
	assert.Equal(t, "file:dna.db", cfg.Store.DatabaseURL)
	assert.Equal(t, time.Hour, cfg.Token.TTL)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, artifacts.StoreTypeS3, cfg.Audit.Type)
	assert.Equal(t, "eu-west-1", cfg.Audit.S3Region)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"algorithm":    {"DNA_ALGORITHM": "md5"},
		"schema":       {"DNA_SCHEMA_VERSION": "v1"},
		"policy":       {"CONSENSUS_POLICY": "plurality"},
		"timeout":      {"CONSENSUS_TIMEOUT": "soon"},
		"driver":       {"STORE_DRIVER": "mongo"},
		"postgres dsn": {"STORE_DRIVER": "postgres"},
		"redis addr":   {"STORE_DRIVER": "redis"},
		"weak secret":  {"TOKEN_SECRET": "short"},
		"otel flag":    {"OTEL_ENABLED": "maybe"},
		"audit seed":   {"AUDIT_SIGNING_SEED": "abcd"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := config.Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadFile_OverlaysYAML(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_FORMAT", "json")

	path := filepath.Join(t.TempDir(), "dna.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: WARN
consensus:
  policy: QUORUM
  timeout: 2s
  node_ids: [a, b, c, d]
store:
  driver: redis
  redis_addr: localhost:6379
rules_file: rules.yaml
audit:
  type: fs
  dir: /tmp/audit
`), 0o600))

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "WARN", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "QUORUM", cfg.Consensus.Policy)
	assert.Equal(t, 2*time.Second, cfg.Consensus.Timeout)
	assert.Len(t, cfg.Consensus.NodeIDs, 4)
	assert.Equal(t, config.DriverRedis, cfg.Store.Driver)
	assert.Equal(t, "rules.yaml", cfg.RulesFile)
	assert.Equal(t, "/tmp/audit", cfg.Audit.Dir)
	// Untouched keys keep defaults.
	assert.Equal(t, "sha256_composite", cfg.DNA.Algorithm)
}

func TestLoadFile_Missing(t *testing.T) {
	clearEnv(t)
	_, err := config.LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
