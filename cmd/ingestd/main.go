// Command ingestd is the long-running daemon: it wires config, the truth
// store, the search store, the embedding client, the orchestrator, and the
// sync worker, then runs the sync worker loop and a job queue loop until
// interrupted.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/siftertext/ingestcore/authority"
	"github.com/siftertext/ingestcore/catalog"
	"github.com/siftertext/ingestcore/chunker"
	"github.com/siftertext/ingestcore/config"
	"github.com/siftertext/ingestcore/embedcache"
	"github.com/siftertext/ingestcore/embedclient"
	"github.com/siftertext/ingestcore/jobqueue"
	"github.com/siftertext/ingestcore/orchestrator"
	"github.com/siftertext/ingestcore/searchstore"
	"github.com/siftertext/ingestcore/segmenter"
	"github.com/siftertext/ingestcore/syncworker"
	"github.com/siftertext/ingestcore/xerrors"
)

const (
	jobTypeIngest    = "ingest"
	jobTypeResegment = "resegment"
)

// ingestJobParams is the shape of Job.Params for jobTypeIngest rows, as
// enqueued by an external producer (ingestctl ingests directly and does not
// enqueue).
type ingestJobParams struct {
	SourcePath string `json:"source_path"`
	Title      string `json:"title,omitempty"`
}

// resegmentJobParams is the shape of Job.Params for jobTypeResegment rows,
// enqueued against a document whose paragraph boundaries need a full LLM
// re-grouping pass (ar/fa sources, per spec §4.E stage 3).
type resegmentJobParams struct {
	SourcePath string `json:"source_path"`
	Language   string `json:"language"`
}

func main() {
	logger, err := config.InitLogger()
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer config.Cleanup()
	cfg := config.Load(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	catalogStore, err := catalog.Open(cfg.CatalogDSN, cfg.StoreBusyRetries, logger)
	if err != nil {
		logger.Fatal("failed to connect to catalog store", zap.Error(err))
	}
	if err := catalogStore.EnsureSchema(ctx); err != nil {
		logger.Fatal("failed to ensure catalog schema", zap.Error(err))
	}

	searchStore, err := searchstore.Open(cfg.SearchStoreDSN, cfg.SearchVectorDimension, logger)
	if err != nil {
		logger.Fatal("failed to connect to search store", zap.Error(err))
	}
	if err := searchStore.EnsureIndexes(ctx); err != nil {
		logger.Fatal("failed to ensure search indexes", zap.Error(err))
	}

	scorer, err := authority.NewScorer(cfg.AuthorityConfigPath, logger)
	if err != nil {
		logger.Fatal("failed to load authority config", zap.Error(err))
	}
	defer scorer.Close()

	embedder := embedclient.New(embedclient.Options{
		Host:       cfg.EmbeddingHost,
		Model:      cfg.EmbeddingModel,
		Timeout:    cfg.EmbeddingTimeout,
		MaxRetries: cfg.EmbeddingMaxRetries,
		RatePerSec: cfg.EmbeddingRatePerSec,
		BaseDelay:  cfg.RetryBaseDelay,
		MaxDelay:   cfg.RetryMaxDelay,
		JitterRatio: cfg.RetryJitterRatio,
	}, logger)

	cache, err := embedcache.New(cfg.EmbedCacheSize)
	if err != nil {
		logger.Fatal("failed to build embedding cache", zap.Error(err))
	}

	var seg orchestrator.Segmenter
	if cfg.SegmenterLLMHost != "" {
		// an LLM-backed client satisfying segmenter.LLMClient is wired per deployment
		seg = segmenter.New(nil)
	}

	orch := orchestrator.New(catalogStore, embedder, cache, scorer, seg, cfg.EmbeddingModel, cfg.IngestionDeadline, logger)

	jobs := jobqueue.New(catalogStore.DB, cfg.JobHeartbeatTimeout)

	resolveDoc := func(ctx context.Context, documentID string) (searchstore.DocumentDoc, error) {
		doc, err := catalogStore.GetDocumentByID(ctx, documentID)
		if err != nil {
			return searchstore.DocumentDoc{}, err
		}
		return searchstore.DocumentDoc{
			ID:         doc.ID,
			Title:      doc.Title,
			Author:     doc.Author,
			Religion:   doc.Religion,
			Collection: doc.Collection,
			Language:   doc.Language,
			Year:       doc.Year,
			Authority:  doc.Authority,
			UpdatedAt:  doc.UpdatedAt,
		}, nil
	}

	worker := syncworker.New(catalogStore, searchStore, resolveDoc, cfg.SyncBatchSize, cfg.SyncPollInterval, logger)

	chunkOpts := chunker.Options{MaxChunk: cfg.ChunkMaxChars, MinChunk: cfg.ChunkMinChars, Overlap: cfg.ChunkOverlap}
	if chunkOpts.MaxChunk <= 0 {
		chunkOpts = chunker.DefaultOptions()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		runJobLoop(ctx, jobs, orch, chunkOpts, cfg.JobPollInterval, logger)
	}()

	logger.Info("ingestd starting sync worker loop")
	if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("sync worker stopped unexpectedly", zap.Error(err))
		os.Exit(1)
	}
	<-done
	logger.Info("ingestd shutting down")
}

// runJobLoop polls the durable queue for ingest and resegment jobs and drives
// the orchestrator for each one, reporting completion or failure back onto
// the job row. A claimed job of any other type is left in processing with no
// further heartbeat, so Claim can hand it out again once it goes stale.
func runJobLoop(ctx context.Context, jobs *jobqueue.Queue, orch *orchestrator.Orchestrator, chunkOpts chunker.Options, pollInterval time.Duration, logger *zap.Logger) {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := jobs.Claim(ctx, "ingestd")
			if err != nil {
				if !errors.Is(err, xerrors.ErrNotFound) {
					logger.Warn("failed to claim job", zap.Error(err))
				}
				continue
			}
			switch job.Type {
			case jobTypeIngest:
				processIngestJob(ctx, jobs, orch, chunkOpts, job, logger)
			case jobTypeResegment:
				processResegmentJob(ctx, jobs, orch, chunkOpts, job, logger)
			default:
				// not ours to run; leave it processing for the right consumer
			}
		}
	}
}

func processIngestJob(ctx context.Context, jobs *jobqueue.Queue, orch *orchestrator.Orchestrator, chunkOpts chunker.Options, job jobqueue.Job, logger *zap.Logger) {
	var params ingestJobParams
	if err := json.Unmarshal([]byte(job.Params), &params); err != nil || params.SourcePath == "" {
		logger.Error("ingest job has invalid params", zap.String("job_id", job.ID), zap.Error(err))
		_ = jobs.Complete(ctx, job.ID, jobqueue.StatusFailed, "invalid job params")
		return
	}

	raw, err := os.ReadFile(params.SourcePath)
	if err != nil {
		logger.Error("failed to read source file for job", zap.String("job_id", job.ID), zap.Error(err))
		_ = jobs.Complete(ctx, job.ID, jobqueue.StatusFailed, err.Error())
		return
	}

	overrides := orchestrator.Overrides{DocumentID: job.DocumentID}
	if params.Title != "" {
		overrides.Title = &params.Title
	}

	result, err := orch.Ingest(ctx, params.SourcePath, raw, overrides, chunkOpts)
	if err != nil {
		logger.Error("ingest job failed", zap.String("job_id", job.ID), zap.Error(err))
		_ = jobs.Complete(ctx, job.ID, jobqueue.StatusFailed, err.Error())
		return
	}
	if err := jobs.ReportProgress(ctx, job.ID, result.ParagraphCount, result.ParagraphCount); err != nil {
		logger.Warn("failed to report job progress", zap.String("job_id", job.ID), zap.Error(err))
	}
	if err := jobs.Complete(ctx, job.ID, jobqueue.StatusCompleted, ""); err != nil {
		logger.Warn("failed to mark job completed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func processResegmentJob(ctx context.Context, jobs *jobqueue.Queue, orch *orchestrator.Orchestrator, chunkOpts chunker.Options, job jobqueue.Job, logger *zap.Logger) {
	var params resegmentJobParams
	if err := json.Unmarshal([]byte(job.Params), &params); err != nil || params.SourcePath == "" || job.DocumentID == "" {
		logger.Error("resegment job has invalid params", zap.String("job_id", job.ID), zap.Error(err))
		_ = jobs.Complete(ctx, job.ID, jobqueue.StatusFailed, "invalid job params")
		return
	}

	raw, err := os.ReadFile(params.SourcePath)
	if err != nil {
		logger.Error("failed to read source file for job", zap.String("job_id", job.ID), zap.Error(err))
		_ = jobs.Complete(ctx, job.ID, jobqueue.StatusFailed, err.Error())
		return
	}

	result, err := orch.Resegment(ctx, job.DocumentID, params.SourcePath, raw, params.Language, chunkOpts)
	if err != nil {
		logger.Error("resegment job failed", zap.String("job_id", job.ID), zap.Error(err))
		_ = jobs.Complete(ctx, job.ID, jobqueue.StatusFailed, err.Error())
		return
	}
	if err := jobs.ReportProgress(ctx, job.ID, result.ParagraphCount, result.ParagraphCount); err != nil {
		logger.Warn("failed to report job progress", zap.String("job_id", job.ID), zap.Error(err))
	}
	if err := jobs.Complete(ctx, job.ID, jobqueue.StatusCompleted, ""); err != nil {
		logger.Warn("failed to mark job completed", zap.String("job_id", job.ID), zap.Error(err))
	}
}
