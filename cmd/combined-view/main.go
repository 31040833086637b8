// Command combined-view computes the combined baseline leaderboard from
// the record store and renders it as a table, JSON or CSV, or serves it
// over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/skylight-bench/uploader/api"
	"github.com/skylight-bench/uploader/config"
	"github.com/skylight-bench/uploader/exporter"
	"github.com/skylight-bench/uploader/ranking"
	"github.com/skylight-bench/uploader/types"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration file (optional)")
	metric := flag.String("metric", "", "Metric to rank baselines by (default: overall_score)")
	models := flag.String("models", "", "Comma-separated model names to include")
	sparsities := flag.String("sparsities", "", "Comma-separated target sparsity values to include")
	workers := flag.Int("workers", 0, "Number of parallel table workers (default from config)")
	output := flag.String("output", "table", "Output format: table, json or csv")
	outPath := flag.String("out", "", "Output file path (default: stdout)")
	serve := flag.Bool("serve", false, "Serve the leaderboard over HTTP instead of printing")
	addr := flag.String("addr", "", "Listen address for -serve (default from config)")
	flag.Parse()

	log := logrus.WithField("component", "combined-view")

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	st, err := config.BuildStore(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to record store: %v", err)
	}
	engine := ranking.New(st)

	if *serve {
		listenAddr := cfg.API.Addr
		if *addr != "" {
			listenAddr = *addr
		}
		runServer(log, engine, listenAddr)
		return
	}

	opts := types.RankingOptions{
		Metric:  cfg.Ranking.Metric,
		Workers: cfg.Ranking.Workers,
		Models:  splitList(*models),
	}
	if *metric != "" {
		opts.Metric = *metric
	}
	if *workers > 0 {
		opts.Workers = *workers
	}
	for _, part := range splitList(*sparsities) {
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			log.Fatalf("Invalid sparsity value %q: %v", part, err)
		}
		opts.Sparsities = append(opts.Sparsities, v)
	}

	rows, displaySparsities, err := engine.Combined(context.Background(), opts)
	if err != nil {
		log.Fatalf("Failed to compute combined leaderboard: %v", err)
	}
	if len(rows) == 0 {
		log.Fatal("No results found")
	}

	w := os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			log.Fatalf("Failed to create output file: %v", err)
		}
		defer f.Close()
		w = f
	}

	switch *output {
	case "table":
		err = exporter.WriteTable(w, rows, displaySparsities, opts.Metric)
	case "json":
		err = exporter.WriteJSON(w, rows)
	case "csv":
		err = exporter.WriteCSV(w, rows, displaySparsities, opts.Metric)
	default:
		log.Fatalf("Unknown output format %q (expected table, json or csv)", *output)
	}
	if err != nil {
		log.Fatalf("Failed to write output: %v", err)
	}
	if *outPath != "" {
		fmt.Printf("Output written to: %s\n", *outPath)
	}
}

func runServer(log *logrus.Entry, engine *ranking.Engine, addr string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := api.NewServer(addr, engine)
	if err := server.Start(ctx); err != nil {
		log.Fatalf("Failed to start API server: %v", err)
	}

	<-ctx.Done()
	if err := server.Stop(); err != nil {
		log.Fatalf("Failed to stop API server: %v", err)
	}
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
