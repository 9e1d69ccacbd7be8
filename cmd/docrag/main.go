package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"docrag/internal/chunker"
	"docrag/internal/config"
	"docrag/internal/domain"
	"docrag/internal/embedding"
	"docrag/internal/embedding/gemini"
	"docrag/internal/embedding/local"
	"docrag/internal/extract"
	"docrag/internal/generator"
	"docrag/internal/index/memory"
	"docrag/internal/index/opensearch"
	"docrag/internal/metastore"
	"docrag/internal/retriever"
	"docrag/internal/service"
	"docrag/internal/tui"
)

func main() {
	_ = godotenv.Load()

	var cfgPath string
	var verbose bool
	var skipIngest bool
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ~/.config/docrag/config.yaml if not provided)")
	flag.BoolVar(&verbose, "verbose", false, "Enable debug logging")
	flag.BoolVar(&skipIngest, "skip-ingest", false, "Skip ingestion and query the existing index")
	flag.Parse()
	inputs := flag.Args()
	if len(inputs) == 0 && !skipIngest {
		fmt.Println("Usage: docrag [--config=config.yaml] [--skip-ingest] file1.txt [file2.txt ...]")
		os.Exit(1)
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Assemble components
	var emb domain.Embedder
	switch cfg.Embedder.Type {
	case "local", "":
		emb = local.NewEmbedder(cfg.Embedder.Dimensions)
	case "gemini":
		gcfg := gemini.Config{Dimensions: cfg.Embedder.Dimensions}
		if g := cfg.Embedder.Gemini; g != nil {
			gcfg.BaseURL = g.BaseURL
			gcfg.APIKeyEnv = g.APIKeyEnv
			gcfg.Model = g.Model
			gcfg.Timeout = time.Duration(g.TimeoutSecs) * time.Second
			gcfg.MaxAttempts = g.MaxAttempts
			gcfg.RequestsPerSec = g.RequestsPerSec
		}
		client, err := gemini.NewClient(gcfg, logger)
		if err != nil {
			log.Fatalf("gemini embedder init failed: %v", err)
		}
		emb = client
	default:
		log.Fatalf("unknown embedder: %s", cfg.Embedder.Type)
	}

	ch := chunker.NewBlockChunker(cfg.Chunker.MaxTokens, cfg.Chunker.MinTokens, cfg.Chunker.OverlapTokens)

	var idx domain.VectorIndex
	switch cfg.Index.Type {
	case "memory", "":
		idx = memory.NewStore()
	case "opensearch":
		ocfg := opensearch.Config{}
		if o := cfg.Index.OpenSearch; o != nil {
			ocfg = opensearch.Config{
				URL:            o.URL,
				Index:          o.Index,
				Username:       o.Username,
				PasswordEnv:    o.PasswordEnv,
				Timeout:        time.Duration(o.TimeoutSecs) * time.Second,
				Engine:         o.Engine,
				EFSearch:       o.EFSearch,
				EFConstruction: o.EFConstruction,
				M:              o.M,
			}
		}
		idx = opensearch.NewStore(ocfg, logger)
	default:
		log.Fatalf("unknown index: %s", cfg.Index.Type)
	}

	var events domain.EventLog
	if cfg.Metastore.Path != "" {
		store, err := metastore.Open(cfg.Metastore.Path)
		if err != nil {
			log.Fatalf("metastore open failed: %v", err)
		}
		defer store.Close()
		events = store
	}

	retr := retriever.New(emb, idx, retriever.Config{
		TopK:     cfg.Retriever.TopK,
		MinScore: cfg.Retriever.MinScore,
	}, logger)

	gen, err := generator.NewClient(generator.Config{
		BaseURL:       cfg.Generator.BaseURL,
		APIKeyEnv:     cfg.Generator.APIKeyEnv,
		PrimaryModel:  cfg.Generator.PrimaryModel,
		FallbackModel: cfg.Generator.FallbackModel,
		Timeout:       time.Duration(cfg.Generator.TimeoutSecs) * time.Second,
	}, logger)
	if err != nil {
		log.Fatalf("generator init failed: %v", err)
	}

	batcher := embedding.NewBatcher(emb, embedding.BatcherConfig{
		BatchSize: cfg.Embedder.BatchSize,
		Workers:   cfg.Embedder.Workers,
	}, logger)

	pipe := service.NewPipeline(ch, batcher, idx, retr, gen, events, service.Config{
		Dimensions:      emb.Dimensions(),
		UpsertShardSize: cfg.Index.UpsertShardSize,
		UpsertWorkers:   cfg.Index.UpsertWorkers,
	}, logger)

	summary := "Querying existing index."
	if !skipIngest {
		files, err := extract.LoadFiles(inputs)
		if err != nil {
			log.Fatalf("load documents: %v", err)
		}
		if events != nil {
			for _, f := range files {
				if err := events.RecordFile(ctx, f.ID, f.Path); err != nil {
					logger.Warn("record file failed", "path", f.Path, "error", err)
				}
			}
		}
		report, err := pipe.Ingest(ctx, extract.Pages(files))
		if err != nil {
			log.Fatalf("ingest failed: %v", err)
		}
		summary = fmt.Sprintf("Run %s: %d files, %d pages, %d chunks, %d embedded, %d indexed",
			report.RunID, report.Files, report.Pages, report.ChunksAttempted,
			report.ChunksEmbedded, report.ChunksIndexed)
		if n := len(report.FailedEmbedIDs) + len(report.FailedIndexIDs); n > 0 {
			summary += fmt.Sprintf(", %d failed (rerun to retry)", n)
		}
	}

	m := tui.New(ctx, pipe, summary)
	if _, err := tea.NewProgram(m).Run(); err != nil {
		log.Fatal(err)
	}
}
