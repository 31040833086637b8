// Command uploader ingests JSONL experiment results into the record store
// and reconciles store contents against the upload.
//
// Exit status: 0 for a completed run, including runs with per-record
// failures (those are reported in the printed summary); 2 when result rows
// were abandoned after the batch retry ceiling; 1 for fatal errors that
// stopped the run outright.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/skylight-bench/uploader/config"
	"github.com/skylight-bench/uploader/ingest"
	"github.com/skylight-bench/uploader/reconcile"
	"github.com/skylight-bench/uploader/resolver"
	"github.com/skylight-bench/uploader/schema"
	"github.com/skylight-bench/uploader/store"
	"github.com/skylight-bench/uploader/types"
)

func main() {
	filePath := flag.String("file", "", "Path to the JSONL results file")
	configPath := flag.String("config", "", "Path to YAML configuration file (optional)")
	offset := flag.Int("offset", 0, "Skip the first N selected records")
	limit := flag.Int("limit", 0, "Process at most N selected records (0 = no limit)")
	models := flag.String("models", "", "Comma-separated model names to include")
	baselines := flag.String("baselines", "", "Comma-separated baseline names to include")
	purge := flag.Bool("purge", false, "Delete all store contents before uploading")
	keepOnly := flag.Bool("keep-only", false, "After upload, delete configurations not present in the file")
	provider := flag.String("provider", "", "Restrict -keep-only to models of this provider")
	force := flag.Bool("force", false, "Retry failed batches under fresh experimental runs")
	dryRun := flag.Bool("dry-run", false, "Run the full pipeline without writing to the store")
	runName := flag.String("run-name", "", "Name for the experimental run (default: timestamped)")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	log := logrus.WithField("component", "main")

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	st, err := config.BuildStore(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to record store: %v", err)
	}

	ctx := context.Background()

	if *purge {
		if *dryRun {
			log.Fatal("-purge cannot be combined with -dry-run")
		}
		counts, err := reconcile.New(st).Purge(ctx)
		if err != nil {
			log.Fatalf("Purge failed: %v", err)
		}
		total := 0
		for _, n := range counts {
			total += n
		}
		log.WithField("deleted", total).Info("Purge complete")
		if *filePath == "" {
			return
		}
	}

	if *filePath == "" {
		log.Fatal("Please provide a results file path using -file flag")
	}

	opts := ingest.Options{
		BatchSize:       cfg.Upload.BatchSize,
		MaxBatchRetries: cfg.Upload.MaxBatchRetries,
		Force:           *force,
		DryRun:          *dryRun,
		RunName:         *runName,
	}
	if cfg.Upload.ValidateRecords {
		validator, err := schema.NewValidator()
		if err != nil {
			log.Fatalf("Failed to build record validator: %v", err)
		}
		opts.Validator = validator
	}

	uploader := ingest.New(st, resolver.NewCache(), opts)

	filter := types.RecordFilter{
		Models:    splitList(*models),
		Baselines: splitList(*baselines),
		Offset:    *offset,
		Limit:     *limit,
	}

	summary, err := uploader.Run(ctx, *filePath, filter)
	if err != nil {
		log.Fatalf("Upload failed: %v", err)
	}

	if *keepOnly {
		recStore := st
		if *dryRun {
			recStore = store.NewReadOnly(st)
		}
		reconciler := reconcile.New(recStore)
		touched := uploader.Resolver().Cache().Touched()

		removed, err := reconciler.DeleteOrphans(ctx, touched, *provider)
		if err != nil {
			log.Fatalf("Reconciliation failed: %v", err)
		}
		log.WithField("removed", removed).Info("Removed orphaned configurations")

		if err := reconciler.KeepLatestRunOnly(ctx, touched, uploader.RunID()); err != nil {
			log.Fatalf("Reconciliation failed: %v", err)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		log.Fatalf("Failed to print summary: %v", err)
	}

	os.Exit(exitStatus(summary))
}

// exitStatus maps a finished run to a process exit code. Per-record
// failures belong in the summary, not the exit status; a distinct code
// flags rows that were never written. Code 1 stays reserved for runs that
// could not proceed.
func exitStatus(summary *types.UploadSummary) int {
	if summary.ExhaustedRows > 0 {
		return 2
	}
	return 0
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	cfg := config.Default()
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
