// Command ingestctl ingests a single source file and prints the completion
// report as JSON, for scripting and CI use where the long-running daemon is
// unnecessary.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/siftertext/ingestcore/authority"
	"github.com/siftertext/ingestcore/catalog"
	"github.com/siftertext/ingestcore/chunker"
	"github.com/siftertext/ingestcore/config"
	"github.com/siftertext/ingestcore/embedcache"
	"github.com/siftertext/ingestcore/embedclient"
	"github.com/siftertext/ingestcore/orchestrator"
	"github.com/siftertext/ingestcore/segmenter"
)

func main() {
	path := flag.String("file", "", "path to the markdown source file to ingest")
	documentID := flag.String("id", "", "override document id (defaults to a path-derived id)")
	titleOverride := flag.String("title", "", "override document title")
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "usage: ingestctl -file <path.md> [-id <id>] [-title <title>]")
		os.Exit(2)
	}

	logger, err := config.InitLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer config.Cleanup()
	cfg := config.Load(logger)

	ctx := context.Background()

	raw, err := os.ReadFile(*path)
	if err != nil {
		logger.Fatal("failed to read source file", zap.String("path", *path), zap.Error(err))
	}

	catalogStore, err := catalog.Open(cfg.CatalogDSN, cfg.StoreBusyRetries, logger)
	if err != nil {
		logger.Fatal("failed to connect to catalog store", zap.Error(err))
	}
	if err := catalogStore.EnsureSchema(ctx); err != nil {
		logger.Fatal("failed to ensure catalog schema", zap.Error(err))
	}

	scorer, err := authority.NewScorer(cfg.AuthorityConfigPath, logger)
	if err != nil {
		logger.Fatal("failed to load authority config", zap.Error(err))
	}
	defer scorer.Close()

	embedder := embedclient.New(embedclient.Options{
		Host:        cfg.EmbeddingHost,
		Model:       cfg.EmbeddingModel,
		Timeout:     cfg.EmbeddingTimeout,
		MaxRetries:  cfg.EmbeddingMaxRetries,
		RatePerSec:  cfg.EmbeddingRatePerSec,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
		JitterRatio: cfg.RetryJitterRatio,
	}, logger)

	cache, err := embedcache.New(cfg.EmbedCacheSize)
	if err != nil {
		logger.Fatal("failed to build embedding cache", zap.Error(err))
	}

	var seg orchestrator.Segmenter
	if cfg.SegmenterLLMHost != "" {
		seg = segmenter.New(nil)
	}

	orch := orchestrator.New(catalogStore, embedder, cache, scorer, seg, cfg.EmbeddingModel, cfg.IngestionDeadline, logger)

	overrides := orchestrator.Overrides{DocumentID: *documentID}
	if *titleOverride != "" {
		overrides.Title = titleOverride
	}

	chunkOpts := chunker.Options{MaxChunk: cfg.ChunkMaxChars, MinChunk: cfg.ChunkMinChars, Overlap: cfg.ChunkOverlap}
	if chunkOpts.MaxChunk <= 0 {
		chunkOpts = chunker.DefaultOptions()
	}

	result, err := orch.Ingest(ctx, *path, raw, overrides, chunkOpts)
	if err != nil {
		logger.Error("ingestion failed", zap.String("path", *path), zap.Error(err))
		os.Exit(1)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		logger.Fatal("failed to encode result", zap.Error(err))
	}
}
