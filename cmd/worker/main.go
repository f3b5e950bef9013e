package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"vidgen/internal/domain"
	"vidgen/internal/events"
	"vidgen/internal/http/handlers"
	httpapi "vidgen/internal/http/httpapi"
	"vidgen/internal/infra"
	"vidgen/internal/infra/credentials"
	"vidgen/internal/intake"
	"vidgen/internal/janitor"
	"vidgen/internal/media"
	"vidgen/internal/pipeline"
	"vidgen/internal/providers/assets"
	"vidgen/internal/providers/music"
	"vidgen/internal/queue"
	"vidgen/internal/storage"
)

const (
	shutdownGrace = 10 * time.Second
	recentEvents  = 50
)

func main() {
	var jobFile string
	flag.StringVar(&jobFile, "job", "", "enqueue the job request in this JSON file before starting; with the memory queue the worker exits once it is done")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		pool  *pgxpool.Pool
		sql   infra.SQLExecutor
		creds *credentials.Store
	)
	if cfg.DatabaseURL != "" {
		pool, err = infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: db connection failed")
		}
		defer pool.Close()
		runner := infra.NewSQLRunner(pool, logger)
		sql = runner
		creds = credentials.NewStore(runner)
		if cfg.DBAutoMigrate {
			if err := infra.Migrate(ctx, runner); err != nil {
				logger.Fatal().Err(err).Msg("worker: migrate failed")
			}
		}
	}

	jobs, err := openQueue(cfg, sql, pool, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.QueueBackend).Msg("worker: queue setup failed")
	}
	defer jobs.close()

	recent := events.NewRecorder(recentEvents)
	publisher, closePublishers, err := buildPublisher(cfg, sql, logger, recent)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: event sinks setup failed")
	}
	defer closePublishers()

	writer, writerName := buildScriptWriter(ctx, cfg, creds, logger)
	logger.Info().Str("provider", writerName).Msg("worker: script writer ready")

	images, err := buildImageClient(ctx, cfg, creds, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: image client setup failed")
	}
	speech := buildVoiceClient(ctx, cfg, creds, logger)
	generator := assets.NewGenerator(images, speech, music.NewGenerator(), logger)

	ff := media.New(media.Options{
		FFmpegPath:  cfg.FFmpegPath,
		FFprobePath: cfg.FFprobePath,
		Runner:      media.ExecRunner{},
		Logger:      logger,
	})

	uploader, bucket, err := buildUploader(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.StorageBackend).Msg("worker: storage setup failed")
	}

	workspace, err := storage.NewWorkspace(cfg.TempDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: workspace setup failed")
	}
	logger.Info().Str("root", workspace.Root()).Msg("worker: workspace ready")

	orchestrator, err := pipeline.NewOrchestrator(pipeline.Options{
		Script:      writer,
		Assets:      generator,
		Compositor:  ff,
		Renderer:    ff,
		Encoder:     ff,
		Thumbnailer: ff,
		Prober:      ff,
		Uploader:    uploader,
		Publisher:   publisher,
		Workspace:   workspace,
		Bucket:      bucket,
		Timeouts: pipeline.Timeouts{
			Script:       cfg.ScriptTimeout,
			Assets:       cfg.AssetsTimeout,
			Compositing:  cfg.CompositeTimeout,
			Rendering:    cfg.RenderTimeout,
			Encoding:     cfg.EncodeTimeout,
			Finalization: cfg.FinalizeTimeout,
		},
		FanOut: pipeline.FanOutOptions{
			Concurrency:    cfg.FanOutConcurrency,
			TaskTimeout:    cfg.AssetTaskTimeout,
			ReportProgress: cfg.FineProgress,
		},
		Logger: logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: pipeline setup failed")
	}

	if jobFile != "" {
		if err := enqueueFile(ctx, jobs.sink, jobFile); err != nil {
			logger.Fatal().Err(err).Str("file", jobFile).Msg("worker: enqueue job file failed")
		}
		logger.Info().Str("file", jobFile).Msg("worker: job file enqueued")
		if cfg.QueueBackend == infra.QueueMemory {
			// drain and exit
			_ = jobs.source.Close()
		}
	}

	sweeper := janitor.New(workspace, cfg.WorkspaceMaxAge, logger)
	if err := sweeper.Start(cfg.JanitorSchedule); err != nil {
		logger.Fatal().Err(err).Str("schedule", cfg.JanitorSchedule).Msg("worker: janitor schedule invalid")
	}

	loop := &intake.Loop{
		Source:      jobs.source,
		Runner:      orchestrator,
		Publisher:   publisher,
		Concurrency: cfg.WorkerConcurrency,
		MaxAttempts: cfg.MaxAttempts,
		Logger:      logger,
	}

	ops := &handlers.Ops{
		Stats:   loop.Stats,
		Depth:   jobs.depth,
		Recent:  recent.Events,
		Backend: cfg.QueueBackend,
		Started: time.Now(),
	}
	opsServer := infra.NewHTTPServer(cfg, cfg.OpsPort, httpapi.NewOpsRouter(ops, logger))
	go func() {
		logger.Info().Str("addr", opsServer.Addr()).Msg("worker: ops listening")
		if err := opsServer.Start(); err != nil {
			logger.Error().Err(err).Msg("worker: ops server failed")
		}
	}()

	runErr := loop.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	sweeper.Stop(shutdownCtx)
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("worker: ops shutdown failed")
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Fatal().Err(runErr).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

func enqueueFile(ctx context.Context, sink queue.Sink, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var req domain.JobRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return err
	}
	if req.Timestamp == 0 {
		req.Timestamp = time.Now().UnixMilli()
	}
	return sink.Enqueue(ctx, req)
}
