package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"vidgen/internal/events"
	"vidgen/internal/infra"
	"vidgen/internal/infra/credentials"
	"vidgen/internal/pipeline"
	"vidgen/internal/providers/assets"
	"vidgen/internal/providers/genai"
	"vidgen/internal/providers/qwen"
	"vidgen/internal/providers/script"
	"vidgen/internal/providers/voice"
	"vidgen/internal/queue"
	"vidgen/internal/storage"
)

// jobQueue bundles the receive side, the enqueue side and the backlog probe
// of one backend.
type jobQueue struct {
	source queue.Source
	sink   queue.Sink
	depth  func(ctx context.Context) (map[string]int64, error)
	close  func()
}

func openQueue(cfg *infra.Config, sql infra.SQLExecutor, pool *pgxpool.Pool, logger zerolog.Logger) (*jobQueue, error) {
	switch cfg.QueueBackend {
	case infra.QueueMemory:
		mem := queue.NewMemory()
		logger.Warn().Msg("worker: memory queue only sees jobs enqueued by this process")
		return &jobQueue{
			source: mem,
			sink:   mem,
			depth: func(context.Context) (map[string]int64, error) {
				pending, inFlight, acked := mem.Stats()
				return map[string]int64{"pending": int64(pending), "in_flight": int64(inFlight), "acked": int64(acked)}, nil
			},
			close: func() { _ = mem.Close() },
		}, nil

	case infra.QueueBadger:
		db, err := queue.OpenBadgerDB(cfg.BadgerPath)
		if err != nil {
			return nil, err
		}
		bq, err := queue.NewBadger(db, queue.BadgerOptions{
			VisibilityTimeout: cfg.QueueVisibility,
			PollInterval:      cfg.QueuePollInterval,
			Logger:            logger,
		})
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return &jobQueue{
			source: bq,
			sink:   bq,
			depth: func(context.Context) (map[string]int64, error) {
				n, err := bq.Depth()
				if err != nil {
					return nil, err
				}
				return map[string]int64{"visible": int64(n)}, nil
			},
			close: func() {
				_ = bq.Close()
				_ = db.Close()
			},
		}, nil

	case infra.QueuePostgres:
		if sql == nil {
			return nil, fmt.Errorf("postgres queue needs a database")
		}
		pq, err := queue.NewPostgres(sql, pool, queue.PostgresOptions{
			Owner:        "worker-" + uuid.NewString(),
			Lease:        cfg.QueueVisibility,
			PollInterval: cfg.QueuePollInterval,
			Logger:       logger,
		})
		if err != nil {
			return nil, err
		}
		return &jobQueue{
			source: pq,
			sink:   pq,
			depth: func(ctx context.Context) (map[string]int64, error) {
				queued, leased, err := pq.Depth(ctx)
				if err != nil {
					return nil, err
				}
				return map[string]int64{"queued": queued, "leased": leased}, nil
			},
			close: func() { _ = pq.Close() },
		}, nil

	case infra.QueueKafka:
		kq, err := queue.NewKafka(queue.KafkaOptions{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopicJobs,
			GroupID: cfg.KafkaGroupID,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		sink := queue.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopicJobs)
		return &jobQueue{
			source: kq,
			sink:   sink,
			close: func() {
				_ = kq.Close()
				_ = sink.Close()
			},
		}, nil
	}
	return nil, fmt.Errorf("unsupported queue backend %q", cfg.QueueBackend)
}

// buildPublisher fans events out to every configured sink plus extra.
func buildPublisher(cfg *infra.Config, sql infra.SQLExecutor, logger zerolog.Logger, extra ...events.Publisher) (*events.Multi, func(), error) {
	var (
		sinks   []events.Publisher
		closers []func() error
	)
	for _, name := range cfg.EventSinks {
		switch name {
		case infra.EventSinkLog:
			sinks = append(sinks, events.NewLog(logger))
		case infra.EventSinkKafka:
			k := events.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopicEvents)
			sinks = append(sinks, k)
			closers = append(closers, k.Close)
		case infra.EventSinkPostgres:
			if sql == nil {
				return nil, nil, fmt.Errorf("postgres event sink needs a database")
			}
			sinks = append(sinks, events.NewProjector(sql))
		default:
			return nil, nil, fmt.Errorf("unsupported event sink %q", name)
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, events.NewLog(logger))
	}
	sinks = append(sinks, extra...)
	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn().Err(err).Msg("worker: close event sink failed")
			}
		}
	}
	return events.NewMulti(sinks...), closeAll, nil
}

// scriptKeys holds the resolved API key of each scenario provider.
type scriptKeys struct {
	openai, claude, gemini string
}

// chooseScriptProvider resolves "auto" to the first provider with a key and
// downgrades an explicit choice without a key to the static writer.
func chooseScriptProvider(requested string, keys scriptKeys) string {
	has := map[string]bool{
		infra.ScriptOpenAI: keys.openai != "",
		infra.ScriptClaude: keys.claude != "",
		infra.ScriptGemini: keys.gemini != "",
	}
	switch requested {
	case infra.ScriptStatic:
		return infra.ScriptStatic
	case infra.ScriptOpenAI, infra.ScriptClaude, infra.ScriptGemini:
		if has[requested] {
			return requested
		}
		return infra.ScriptStatic
	}
	for _, name := range []string{infra.ScriptOpenAI, infra.ScriptClaude, infra.ScriptGemini} {
		if has[name] {
			return name
		}
	}
	return infra.ScriptStatic
}

func resolveKey(ctx context.Context, creds *credentials.Store, provider, configured string, logger zerolog.Logger) string {
	key, err := creds.Resolve(ctx, provider, configured)
	if err != nil {
		logger.Warn().Err(err).Str("provider", provider).Msg("worker: failed to load api key from store")
		return configured
	}
	return key
}

func buildScriptWriter(ctx context.Context, cfg *infra.Config, creds *credentials.Store, logger zerolog.Logger) (pipeline.ScriptGenerator, string) {
	keys := scriptKeys{
		openai: resolveKey(ctx, creds, credentials.ProviderOpenAI, cfg.OpenAIAPIKey, logger),
		claude: resolveKey(ctx, creds, credentials.ProviderAnthropic, cfg.AnthropicAPIKey, logger),
		gemini: resolveKey(ctx, creds, credentials.ProviderGemini, cfg.GeminiAPIKey, logger),
	}
	static := script.NewStaticWriter()
	chosen := chooseScriptProvider(cfg.ScriptProvider, keys)
	if chosen == infra.ScriptStatic && cfg.ScriptProvider != infra.ScriptStatic {
		logger.Warn().Str("requested", cfg.ScriptProvider).Msg("worker: no scenario provider key, using static scenarios")
	}
	onFallback := func(reason string, err error) {
		logger.Warn().Err(err).Str("provider", chosen).Str("reason", reason).Msg("worker: scenario fallback")
	}

	var (
		writer pipeline.ScriptGenerator
		err    error
	)
	switch chosen {
	case infra.ScriptOpenAI:
		writer, err = script.NewOpenAIWriter(script.OpenAIOptions{
			APIKey:       keys.openai,
			Model:        cfg.OpenAIModel,
			BaseURL:      cfg.OpenAIBaseURL,
			Organization: cfg.OpenAIOrg,
			Fallback:     static,
			OnFallback:   onFallback,
			OnWarning: func(reason, detail string) {
				logger.Warn().Str("reason", reason).Str("detail", detail).Msg("worker: openai config")
			},
		})
	case infra.ScriptClaude:
		writer, err = script.NewClaudeWriter(script.ClaudeOptions{
			APIKey:     keys.claude,
			Model:      cfg.AnthropicModel,
			BaseURL:    cfg.AnthropicBaseURL,
			MaxRetries: 2,
			Fallback:   static,
			OnFallback: onFallback,
		})
	case infra.ScriptGemini:
		writer, err = script.NewGeminiWriter(ctx, script.GeminiOptions{
			APIKey:     keys.gemini,
			Model:      cfg.GeminiTextModel,
			Fallback:   static,
			OnFallback: onFallback,
		})
	default:
		return static, infra.ScriptStatic
	}
	if err != nil {
		logger.Error().Err(err).Str("provider", chosen).Msg("worker: scenario writer setup failed, using static scenarios")
		return static, infra.ScriptStatic
	}
	return writer, chosen
}

// buildImageClient returns the background renderer. Qwen, when selected and
// keyed, falls back to the Gemini client, which itself renders placeholders
// without a key.
func buildImageClient(ctx context.Context, cfg *infra.Config, creds *credentials.Store, logger zerolog.Logger) (assets.ImageClient, error) {
	gemini, err := buildGeminiImages(ctx, cfg, creds, logger)
	if err != nil {
		return nil, err
	}
	if cfg.ImageProvider != infra.ImageQwen {
		return gemini, nil
	}
	key := resolveKey(ctx, creds, credentials.ProviderQwen, cfg.QwenAPIKey, logger)
	if key == "" {
		logger.Warn().Msg("worker: qwen api key missing, using gemini backgrounds")
		return gemini, nil
	}
	return qwen.NewClient(qwen.Options{
		APIKey:            key,
		BaseURL:           cfg.QwenBaseURL,
		Model:             cfg.QwenModel,
		RequestsPerMinute: cfg.ProviderRPM,
		Fallback:          gemini,
		Logger:            logger,
	})
}

func buildGeminiImages(ctx context.Context, cfg *infra.Config, creds *credentials.Store, logger zerolog.Logger) (*genai.Client, error) {
	key := resolveKey(ctx, creds, credentials.ProviderGemini, cfg.GeminiAPIKey, logger)
	client, err := genai.NewClient(genai.Options{
		APIKey:            key,
		BaseURL:           cfg.GeminiBaseURL,
		Model:             cfg.GeminiModel,
		HTTPClient:        &http.Client{Timeout: 120 * time.Second},
		RequestsPerMinute: cfg.ProviderRPM,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}
	if key == "" {
		logger.Warn().Str("model", client.Model()).Msg("worker: gemini api key missing, using synthetic backgrounds")
	}
	return client, nil
}

func buildVoiceClient(ctx context.Context, cfg *infra.Config, creds *credentials.Store, logger zerolog.Logger) *voice.Client {
	key := resolveKey(ctx, creds, credentials.ProviderElevenLabs, cfg.ElevenLabsAPIKey, logger)
	if key == "" {
		logger.Warn().Msg("worker: elevenlabs api key missing, using synthetic narration")
	}
	return voice.NewClient(voice.Options{
		APIKey:            key,
		BaseURL:           cfg.ElevenLabsBaseURL,
		Model:             cfg.ElevenLabsModel,
		DefaultVoice:      cfg.ElevenLabsVoice,
		RequestsPerMinute: cfg.ProviderRPM,
		Logger:            logger,
	})
}

// buildUploader returns the configured object store and the bucket videos go
// to.
func buildUploader(ctx context.Context, cfg *infra.Config) (pipeline.Uploader, string, error) {
	switch cfg.StorageBackend {
	case infra.StorageS3:
		s3Store, err := storage.NewS3Store(ctx, storage.S3Options{
			Region:        cfg.AWSRegion,
			Endpoint:      cfg.S3Endpoint,
			PublicBaseURL: cfg.S3PublicBaseURL,
		})
		if err != nil {
			return nil, "", err
		}
		return s3Store, cfg.S3BucketVideos, nil
	default:
		fileStore, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
		if err != nil {
			return nil, "", err
		}
		return fileStore, "", nil
	}
}
