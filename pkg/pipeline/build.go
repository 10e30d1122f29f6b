package pipeline

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/Mindburn-Labs/digitaldna/pkg/config"
	"github.com/Mindburn-Labs/digitaldna/pkg/crypto"
	"github.com/Mindburn-Labs/digitaldna/pkg/dna"
	"github.com/Mindburn-Labs/digitaldna/pkg/federation"
	"github.com/Mindburn-Labs/digitaldna/pkg/identity"
	"github.com/Mindburn-Labs/digitaldna/pkg/observability"
	"github.com/Mindburn-Labs/digitaldna/pkg/policy"
	"github.com/Mindburn-Labs/digitaldna/pkg/store"
	"github.com/Mindburn-Labs/digitaldna/pkg/verifier"
)

// oracleMemoryPages caps a verdict module at 1MiB of linear memory.
const oracleMemoryPages = 16

// FromConfig builds a pipeline and its federation from configuration. The
// returned closer releases the store and flushes telemetry.
func FromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger, extra ...Option) (*Pipeline, func(context.Context) error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.Enabled = cfg.Telemetry.Enabled
	obsCfg.OTLPEndpoint = cfg.Telemetry.Endpoint
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		return nil, nil, err
	}

	closers := []func(context.Context) error{obs.Shutdown}
	closeAll := func(ctx context.Context) error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i](ctx))
		}
		return errors.Join(errs...)
	}
	fail := func(err error) (*Pipeline, func(context.Context) error, error) {
		_ = closeAll(ctx)
		return nil, nil, err
	}

	alg, _ := crypto.ParseAlgorithm(cfg.DNA.Algorithm)
	consensusPolicy, _ := federation.ParsePolicy(cfg.Consensus.Policy)

	factory := dna.NewFactory(dna.WithLogger(logger), dna.WithSchemaVersion(cfg.DNA.SchemaVersion))
	v := verifier.New(verifier.WithLogger(logger), verifier.WithSchemaVersion(cfg.DNA.SchemaVersion))

	var oracle federation.Oracle
	if cfg.Consensus.OracleWasm != "" {
		wasm, err := os.ReadFile(cfg.Consensus.OracleWasm)
		if err != nil {
			return fail(fmt.Errorf("pipeline: oracle module: %w", err))
		}
		wo, err := federation.NewWasmOracle(ctx, wasm, oracleMemoryPages)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, wo.Close)
		oracle = wo
	}

	network := federation.NewNetwork(logger)
	for _, id := range cfg.Consensus.NodeIDs {
		opts := []federation.NodeOption{
			federation.WithNodeLogger(logger),
			federation.WithMeterProvider(obs.MeterProvider()),
		}
		if oracle != nil {
			opts = append(opts, federation.WithOracle(oracle))
		}
		if cfg.Consensus.InboundRPS > 0 {
			opts = append(opts, federation.WithInboundRateLimit(cfg.Consensus.InboundRPS, cfg.Consensus.InboundBurst))
		}
		node, err := federation.NewNode(id, opts...)
		if err != nil {
			return fail(err)
		}
		network.AddNode(node)
	}
	network.ConnectAllNodes()
	coordinator, _ := network.Node(cfg.Consensus.NodeIDs[0])

	engine, err := policy.NewEngine(
		policy.WithLogger(logger),
		policy.WithMeterProvider(obs.MeterProvider()),
		policy.WithTracerProvider(obs.TracerProvider()),
	)
	if err != nil {
		return fail(err)
	}
	if cfg.RulesFile != "" {
		if _, err := engine.LoadRules(cfg.RulesFile); err != nil {
			return fail(err)
		}
	}

	opts := []Option{
		WithAlgorithm(alg),
		WithConsensusPolicy(consensusPolicy),
		WithConsensusTimeout(cfg.Consensus.Timeout),
		WithSchemaVersion(cfg.DNA.SchemaVersion),
		WithObservability(obs),
		WithLogger(logger),
	}

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, func(context.Context) error { return st.Close() })
	opts = append(opts, WithStore(st))

	if cfg.Token.Secret != "" {
		issuer, err := identity.NewTokenIssuer([]byte(cfg.Token.Secret))
		if err != nil {
			return fail(err)
		}
		opts = append(opts, WithTokenIssuer(issuer, cfg.Token.TTL))
	}
	if cfg.AuditSigningSeed != "" {
		seed, err := hex.DecodeString(cfg.AuditSigningSeed)
		if err != nil {
			return fail(fmt.Errorf("pipeline: audit signing seed: %w", err))
		}
		signer, err := crypto.NewEd25519SignerFromSeed(coordinator.ID(), seed)
		if err != nil {
			return fail(err)
		}
		opts = append(opts, WithAuditSigner(signer))
	}

	p, err := New(factory, v, coordinator, engine, append(opts, extra...)...)
	if err != nil {
		return fail(err)
	}
	return p, closeAll, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite, config.DriverPostgres:
		return store.Open(ctx, cfg.Driver, cfg.DatabaseURL)
	case config.DriverRedis:
		s := store.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, "")
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("pipeline: redis %s: %w", cfg.RedisAddr, err)
		}
		return s, nil
	default:
		return store.NewMemoryStore(), nil
	}
}
