// Package config loads pipeline settings from 12-factor environment variables
// with an optional YAML overlay.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/digitaldna/pkg/artifacts"
	"github.com/Mindburn-Labs/digitaldna/pkg/crypto"
	"github.com/Mindburn-Labs/digitaldna/pkg/dna"
	"github.com/Mindburn-Labs/digitaldna/pkg/federation"
)

// Store drivers accepted by StoreConfig.Driver.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// MinTokenSecretLen mirrors the identity package's HS256 key requirement.
const MinTokenSecretLen = 32

type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	DNA       DNAConfig        `yaml:"dna"`
	Consensus ConsensusConfig  `yaml:"consensus"`
	Store     StoreConfig      `yaml:"store"`
	Token     TokenConfig      `yaml:"token"`
	Telemetry TelemetryConfig  `yaml:"telemetry"`
	Audit     artifacts.Config `yaml:"audit"`

	RulesFile string `yaml:"rules_file"`
	// AuditSigningSeed is a hex encoded Ed25519 seed. Exports are unsigned without it.
	AuditSigningSeed string `yaml:"audit_signing_seed"`
}

type DNAConfig struct {
	Algorithm     string `yaml:"algorithm"`
	SchemaVersion string `yaml:"schema_version"`
}

// ConsensusConfig describes the federation. The first node id coordinates.
type ConsensusConfig struct {
	Policy       string        `yaml:"policy"`
	Timeout      time.Duration `yaml:"timeout"`
	NodeIDs      []string      `yaml:"node_ids"`
	InboundRPS   float64       `yaml:"inbound_rps"`
	InboundBurst int           `yaml:"inbound_burst"`
	// OracleWasm is a WebAssembly module deciding peer verdicts. Peers draw
	// random verdicts when it is empty.
	OracleWasm string `yaml:"oracle_wasm"`
}

type StoreConfig struct {
	Driver        string `yaml:"driver"`
	DatabaseURL   string `yaml:"database_url"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// TokenConfig enables access tokens when Secret is set.
type TokenConfig struct {
	Secret string        `yaml:"secret"`
	TTL    time.Duration `yaml:"ttl"`
}

type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		LogLevel:  "INFO",
		LogFormat: "text",
		DNA: DNAConfig{
			Algorithm:     string(crypto.SHA256Composite),
			SchemaVersion: dna.DefaultSchemaVersion,
		},
		Consensus: ConsensusConfig{
			Policy:       string(federation.PolicyMajority),
			Timeout:      5 * time.Second,
			NodeIDs:      []string{"node-1", "node-2", "node-3"},
			InboundBurst: 10,
		},
		Store: StoreConfig{Driver: DriverMemory},
		Token: TokenConfig{TTL: 15 * time.Minute},
		Telemetry: TelemetryConfig{
			Endpoint: "localhost:4317",
		},
		Audit: artifacts.Config{Type: artifacts.StoreTypeFS, Dir: "data/audit"},
	}
}

// Load reads configuration from environment variables over the defaults.
func Load() (*Config, error) {
	cfg := Default()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadFile reads defaults and environment, then overlays the YAML file at path.
// Keys missing from the file keep their earlier values.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	var errs []error
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFormat, "LOG_FORMAT")
	setString(&c.DNA.Algorithm, "DNA_ALGORITHM")
	setString(&c.DNA.SchemaVersion, "DNA_SCHEMA_VERSION")
	setString(&c.Consensus.Policy, "CONSENSUS_POLICY")
	errs = append(errs, setDuration(&c.Consensus.Timeout, "CONSENSUS_TIMEOUT"))
	setList(&c.Consensus.NodeIDs, "NODE_IDS")
	errs = append(errs, setFloat(&c.Consensus.InboundRPS, "INBOUND_RPS"))
	errs = append(errs, setInt(&c.Consensus.InboundBurst, "INBOUND_BURST"))
	setString(&c.Consensus.OracleWasm, "ORACLE_WASM")
	setString(&c.Store.Driver, "STORE_DRIVER")
	setString(&c.Store.DatabaseURL, "DATABASE_URL")
	setString(&c.Store.RedisAddr, "REDIS_ADDR")
	setString(&c.Store.RedisPassword, "REDIS_PASSWORD")
	errs = append(errs, setInt(&c.Store.RedisDB, "REDIS_DB"))
	setString(&c.Token.Secret, "TOKEN_SECRET")
	errs = append(errs, setDuration(&c.Token.TTL, "TOKEN_TTL"))
	setString(&c.RulesFile, "RULES_FILE")
	setString(&c.AuditSigningSeed, "AUDIT_SIGNING_SEED")
	errs = append(errs, setBool(&c.Telemetry.Enabled, "OTEL_ENABLED"))
	setString(&c.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")

	if v := os.Getenv("ARTIFACT_STORAGE_TYPE"); v != "" {
		c.Audit.Type = artifacts.StoreType(v)
	}
	setString(&c.Audit.Dir, "AUDIT_DIR")
	setString(&c.Audit.S3Bucket, "ARTIFACT_S3_BUCKET")
	setString(&c.Audit.S3Region, "ARTIFACT_S3_REGION")
	if c.Audit.S3Region == "" {
		setString(&c.Audit.S3Region, "AWS_REGION")
	}
	setString(&c.Audit.S3Endpoint, "ARTIFACT_S3_ENDPOINT")
	setString(&c.Audit.S3Prefix, "ARTIFACT_S3_PREFIX")
	setString(&c.Audit.GCSBucket, "ARTIFACT_GCS_BUCKET")
	setString(&c.Audit.GCSPrefix, "ARTIFACT_GCS_PREFIX")
	return errors.Join(errs...)
}

// Validate rejects settings the pipeline cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if _, err := crypto.ParseAlgorithm(c.DNA.Algorithm); err != nil {
		errs = append(errs, err)
	}
	if _, err := semver.StrictNewVersion(c.DNA.SchemaVersion); err != nil {
		errs = append(errs, fmt.Errorf("config: dna schema version %q: %w", c.DNA.SchemaVersion, err))
	}
	if _, err := federation.ParsePolicy(c.Consensus.Policy); err != nil {
		errs = append(errs, err)
	}
	if len(c.Consensus.NodeIDs) == 0 {
		errs = append(errs, errors.New("config: at least one node id is required"))
	}
	if c.Consensus.InboundRPS < 0 {
		errs = append(errs, errors.New("config: inbound rps must not be negative"))
	}
	switch c.Store.Driver {
	case DriverMemory, DriverRedis:
	case DriverSQLite, DriverPostgres:
		if c.Store.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("config: DATABASE_URL is required for the %s store", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown store driver %q", c.Store.Driver))
	}
	if c.Store.Driver == DriverRedis && c.Store.RedisAddr == "" {
		errs = append(errs, errors.New("config: REDIS_ADDR is required for the redis store"))
	}
	if c.Token.Secret != "" && len(c.Token.Secret) < MinTokenSecretLen {
		errs = append(errs, fmt.Errorf("config: token secret must be at least %d bytes", MinTokenSecretLen))
	}
	if c.AuditSigningSeed != "" {
		if seed, err := hex.DecodeString(c.AuditSigningSeed); err != nil || len(seed) != 32 {
			errs = append(errs, errors.New("config: audit signing seed must be 64 hex characters"))
		}
	}
	if c.Token.TTL <= 0 {
		errs = append(errs, errors.New("config: token ttl must be positive"))
	}
	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = b
	return nil
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = f
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = d
	return nil
}
