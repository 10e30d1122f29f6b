package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/Mindburn-Labs/digitaldna/pkg/artifacts"
	"github.com/Mindburn-Labs/digitaldna/pkg/config"
	"github.com/Mindburn-Labs/digitaldna/pkg/crypto"
	"github.com/Mindburn-Labs/digitaldna/pkg/dna"
	"github.com/Mindburn-Labs/digitaldna/pkg/observability"
	"github.com/Mindburn-Labs/digitaldna/pkg/pipeline"
	"github.com/Mindburn-Labs/digitaldna/pkg/policy"
)

const version = "1.0.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}
	switch args[1] {
	case "demo":
		return runDemoCmd(args[2:], stdout, stderr)
	case "rules":
		return runRulesCmd(args[2:], stdout, stderr)
	case "hash":
		return runHashCmd(args[2:], stdout, stderr)
	case "version", "--version":
		_, _ = fmt.Fprintf(stdout, "dnatrust %s (dna schema %s)\n", version, dna.DefaultSchemaVersion)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "USAGE:")
	_, _ = fmt.Fprintln(w, "  dnatrust <command> [flags]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "COMMANDS:")
	_, _ = fmt.Fprintln(w, "  demo     Run synthetic entities through the trust pipeline (--entities, --seed, --config, --json, --export)")
	_, _ = fmt.Fprintln(w, "  rules    List access control rules (--file, --json)")
	_, _ = fmt.Fprintln(w, "  hash     Generate DNA from a JSON sample file (--input, --alg)")
	_, _ = fmt.Fprintln(w, "  version  Print version")
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// runDemoCmd implements `dnatrust demo`.
//
// Exit codes:
//
//	0 = every entity processed
//	1 = pipeline error
//	2 = usage or configuration error
func runDemoCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("demo", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		entities   int
		configPath string
		jsonOutput bool
		export     bool
		seed       int64
	)
	cmd.IntVar(&entities, "entities", 3, "Number of synthetic entities")
	cmd.StringVar(&configPath, "config", "", "YAML config overlay")
	cmd.BoolVar(&jsonOutput, "json", false, "Print outcomes as JSON")
	cmd.BoolVar(&export, "export", false, "Export the audit trail to the configured artifact store")
	cmd.Int64Var(&seed, "seed", 1, "Seed for synthetic telemetry")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if entities < 1 {
		_, _ = fmt.Fprintln(stderr, "Error: --entities must be positive")
		return 2
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: config: %v\n", err)
		return 2
	}
	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, closer, err := pipeline.FromConfig(ctx, cfg, logger)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := closer(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // synthetic telemetry only
	outcomes := make([]*pipeline.Outcome, 0, entities)
	for i := 0; i < entities; i++ {
		entityID := fmt.Sprintf("entity-%03d", i+1)
		out, err := p.Process(ctx, entityID, "user", syntheticSamples(rng, time.Now().UTC()))
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %s: %v\n", entityID, err)
			return 1
		}
		outcomes = append(outcomes, out)
	}

	if jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(outcomes); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	} else {
		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "ENTITY\tENTROPY\tTHREAT\tCONSENSUS\tDECISION\tCONFIDENCE")
		for _, o := range outcomes {
			_, _ = fmt.Fprintf(tw, "%s\t%.3f\t%s\t%.2f\t%s\t%.3f\n",
				o.DNA.EntityID, o.DNA.EntropyScore, o.Verification.ThreatLevel,
				o.Consensus.ConfidenceScore, o.Decision.Decision, o.Decision.ConfidenceScore)
		}
		_ = tw.Flush()
	}

	if export {
		dst, err := artifacts.NewStore(ctx, cfg.Audit)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: audit store: %v\n", err)
			return 1
		}
		hash, err := p.ExportAudit(ctx, dst)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(stderr, "audit exported: %s\n", hash)
	}
	return 0
}

var demoBehaviors = []dna.BehaviorType{
	dna.BehaviorKeystroke,
	dna.BehaviorLoginPattern,
	dna.BehaviorAPICall,
	dna.BehaviorFileAccess,
	dna.BehaviorNetworkPattern,
}

func syntheticSamples(rng *rand.Rand, start time.Time) []dna.BehavioralSample {
	n := 8 + rng.Intn(8)
	out := make([]dna.BehavioralSample, n)
	for i := range out {
		out[i] = dna.BehavioralSample{
			BehaviorType: demoBehaviors[rng.Intn(len(demoBehaviors))],
			Value:        rng.Float64() * 100,
			Timestamp:    start.Add(time.Duration(i) * time.Second).Format(time.RFC3339),
		}
	}
	return out
}

// runRulesCmd implements `dnatrust rules`.
func runRulesCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("rules", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		file       string
		jsonOutput bool
	)
	cmd.StringVar(&file, "file", "", "YAML rule file to load on top of the defaults")
	cmd.BoolVar(&jsonOutput, "json", false, "Print rules as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	engine, err := policy.NewEngine(policy.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if file != "" {
		if _, err := engine.LoadRules(file); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}

	rules := engine.Rules()
	if jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rules); err != nil {
			return 1
		}
		return 0
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tPRIORITY\tTYPE\tENABLED\tNAME\tACTIONS")
	for _, r := range rules {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\t%t\t%s\t%v\n", r.RuleID, r.Priority, r.RuleType, r.IsEnabled, r.RuleName, r.Actions)
	}
	_ = tw.Flush()
	return 0
}

// runHashCmd implements `dnatrust hash`: it reads a JSON array of samples and
// prints the generated DNA.
func runHashCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("hash", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		input  string
		alg    string
		entity string
	)
	cmd.StringVar(&input, "input", "", "Path to a JSON array of behavioral samples (REQUIRED)")
	cmd.StringVar(&alg, "alg", string(crypto.SHA256Composite), "Digest family")
	cmd.StringVar(&entity, "entity", "cli-entity", "Entity id")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if input == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --input is required")
		return 2
	}
	algorithm, err := crypto.ParseAlgorithm(alg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	data, err := os.ReadFile(input) //nolint:gosec // operator supplied path
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	var samples []dna.BehavioralSample
	if err := json.Unmarshal(data, &samples); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: parse samples: %v\n", err)
		return 1
	}

	g, err := dna.NewGenerator(entity, "user", dna.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	d, err := g.Generate(samples, algorithm)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d); err != nil {
		return 1
	}
	return 0
}
