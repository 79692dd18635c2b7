package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/albionforge/itemgraph/internal/app"
	"github.com/albionforge/itemgraph/internal/catalog"
	"github.com/albionforge/itemgraph/internal/domain"
	"github.com/albionforge/itemgraph/internal/graph"
	"github.com/albionforge/itemgraph/internal/market"
	"github.com/albionforge/itemgraph/internal/pipeline"
	"github.com/albionforge/itemgraph/internal/platform/logger"
	"github.com/albionforge/itemgraph/internal/platform/neo4jdb"
	"github.com/albionforge/itemgraph/internal/taxonomy"
)

func main() {
	var (
		configPath     = flag.String("config", "", "optional YAML run config")
		catalogPath    = flag.String("catalog", "", "catalog file (JSON item dump or line format)")
		outDir         = flag.String("out", "", "output directory for report artifacts")
		resume         = flag.Bool("resume", false, "resume from an existing checkpoint")
		dryRun         = flag.Bool("dry-run", false, "validate only, skip graph writes")
		batchSize      = flag.Int("batch-size", 0, "validation batch size override")
		graphBatchSize = flag.Int("graph-batch-size", 0, "graph write sub-batch size override")
		limit          = flag.Int("limit", 0, "process at most N catalog items")
	)
	flag.Parse()

	logMode := os.Getenv("LOG_MODE")
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := app.Load(*configPath, log)
	if err != nil {
		log.Error("config load failed", "error", err)
		os.Exit(1)
	}
	if *catalogPath != "" {
		cfg.CatalogPath = *catalogPath
	}
	if *outDir != "" {
		cfg.OutputDir = *outDir
	}
	if *batchSize > 0 {
		cfg.BatchSize = *batchSize
	}
	if *graphBatchSize > 0 {
		cfg.GraphBatchSize = *graphBatchSize
	}
	cfg.Resume = *resume
	cfg.DryRun = cfg.DryRun || *dryRun
	cfg.Limit = *limit

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg app.Config, log *logger.Logger) error {
	parser := catalog.NewParser(log, cfg.CatalogLocale)
	entries, err := parser.Parse(cfg.CatalogPath)
	if err != nil {
		if errors.Is(err, catalog.ErrCatalogNotFound) {
			log.Error("catalog not found", "path", cfg.CatalogPath)
		} else {
			log.Error("catalog parse failed", "path", cfg.CatalogPath, "error", err)
		}
		return err
	}
	if cfg.Limit > 0 && len(entries) > cfg.Limit {
		entries = entries[:cfg.Limit]
	}
	log.Info("catalog loaded", "path", cfg.CatalogPath, "items", len(entries))

	items := make([]domain.ItemRecord, len(entries))
	for i, e := range entries {
		cls := taxonomy.Classify(e.Identifier)
		items[i] = domain.ItemRecord{
			Identifier:       e.Identifier,
			RawDisplayName:   e.DisplayName,
			CanonicalName:    taxonomy.NormalizeName(e.DisplayName),
			Category:         cls.Category,
			Subcategory:      cls.Subcategory,
			Tier:             cls.Tier,
			EnchantmentLevel: cls.EnchantmentLevel,
			TypeLabel:        cls.TypeLabel,
		}
	}

	var writer pipeline.ItemWriter
	if !cfg.DryRun {
		client, err := neo4jdb.NewFromEnv(log)
		if err != nil {
			log.Error("neo4j init failed", "error", err)
			return err
		}
		if client == nil {
			log.Warn("NEO4J_URI not set, graph persistence disabled for this run")
		} else {
			defer client.Close(ctx)
			store := graph.NewNeo4jStore(client, log)
			writer = graph.NewWriter(store, cfg.GraphBatchSize, log)
		}
	}

	validator := market.NewClient(cfg.APIBaseURL, cfg.Cities, cfg.RequestTimeout, log)
	checkpoints := pipeline.NewCheckpointStore(cfg.CheckpointPath, log)
	coordinator := pipeline.NewCoordinator(validator, writer, checkpoints, pipeline.Options{
		BatchSize:          cfg.BatchSize,
		CheckpointInterval: cfg.CheckpointInterval,
		BaseDelay:          cfg.BaseDelay(),
		Resume:             cfg.Resume,
		DryRun:             cfg.DryRun,
	}, log)

	state, runErr := coordinator.Run(ctx, items)

	emitter := pipeline.NewEmitter(cfg.OutputDir, log)
	if emitErr := emitter.Emit(state); emitErr != nil {
		log.Error("report emit failed", "error", emitErr)
		if runErr == nil {
			runErr = emitErr
		}
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr,
			"run failed at item %d/%d (valid=%d needs_validation=%d errors=%d): %v\n",
			state.NextIndex, state.TotalItems,
			state.ResumedValidCount+len(state.ValidItems),
			state.ResumedNeedsCount+len(state.NeedsValidation),
			state.ErrorCount, runErr,
		)
		fmt.Fprintf(os.Stderr,
			"progress is checkpointed at %s; rerun with -resume to continue from item %d\n",
			cfg.CheckpointPath, state.NextIndex,
		)
		return runErr
	}
	return nil
}
