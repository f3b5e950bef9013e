package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	QueueMemory   = "memory"
	QueuePostgres = "postgres"
	QueueBadger   = "badger"
	QueueKafka    = "kafka"

	StorageFile = "file"
	StorageS3   = "s3"

	EventSinkLog      = "log"
	EventSinkKafka    = "kafka"
	EventSinkPostgres = "postgres"

	ScriptAuto   = "auto"
	ScriptOpenAI = "openai"
	ScriptClaude = "claude"
	ScriptGemini = "gemini"
	ScriptStatic = "static"

	ImageGemini = "gemini"
	ImageQwen   = "qwen"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv        string
	Port          string
	OpsPort       string
	DatabaseURL   string
	DBAutoMigrate bool
	GeoIPDBPath   string
	DefaultLocale string

	QueueBackend      string
	QueueVisibility   time.Duration
	QueuePollInterval time.Duration
	BadgerPath        string
	KafkaBrokers      []string
	KafkaTopicJobs    string
	KafkaTopicEvents  string
	KafkaGroupID      string
	EventSinks        []string

	WorkerConcurrency int
	MaxAttempts       int
	FanOutConcurrency int
	AssetTaskTimeout  time.Duration
	FineProgress      bool
	ScriptTimeout     time.Duration
	AssetsTimeout     time.Duration
	CompositeTimeout  time.Duration
	RenderTimeout     time.Duration
	EncodeTimeout     time.Duration
	FinalizeTimeout   time.Duration
	TempDir           string
	WorkspaceMaxAge   time.Duration
	JanitorSchedule   string

	StorageBackend  string
	StoragePath     string
	StorageBaseURL  string
	AWSRegion       string
	S3BucketVideos  string
	S3BucketAssets  string
	S3Endpoint      string
	S3PublicBaseURL string

	ScriptProvider    string
	OpenAIAPIKey      string
	OpenAIModel       string
	OpenAIBaseURL     string
	OpenAIOrg         string
	AnthropicAPIKey   string
	AnthropicModel    string
	AnthropicBaseURL  string
	GeminiAPIKey      string
	GeminiModel       string
	GeminiTextModel   string
	GeminiBaseURL     string
	ImageProvider     string
	QwenAPIKey        string
	QwenBaseURL       string
	QwenModel         string
	ElevenLabsAPIKey  string
	ElevenLabsBaseURL string
	ElevenLabsModel   string
	ElevenLabsVoice   string
	ProviderRPM       int

	FFmpegPath  string
	FFprobePath string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int

	JWTSecret          string
	JWTIssuer          string
	OIDCIssuer         string
	OIDCAudience       string
	OIDCJWKSURL        string
	CORSOrigins        []string
	TokenCostPerSecond int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:        getEnv("APP_ENV", "development"),
		Port:          port,
		OpsPort:       getEnv("WORKER_OPS_PORT", "8081"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		DBAutoMigrate: getEnvBool("DB_AUTO_MIGRATE", false),
		GeoIPDBPath:   os.Getenv("GEOIP_DB_PATH"),
		DefaultLocale: getEnv("DEFAULT_LOCALE", "en"),

		QueueBackend:      strings.ToLower(getEnv("QUEUE_BACKEND", QueueMemory)),
		QueueVisibility:   getEnvDuration("QUEUE_VISIBILITY_TIMEOUT", 15*time.Minute),
		QueuePollInterval: getEnvDuration("QUEUE_POLL_INTERVAL", 5*time.Second),
		BadgerPath:        getEnv("BADGER_PATH", "./data/queue"),
		KafkaBrokers:      getEnvList("KAFKA_BROKERS", nil),
		KafkaTopicJobs:    getEnv("KAFKA_TOPIC_REQUESTS", "video.generation.requests"),
		KafkaTopicEvents:  getEnv("KAFKA_TOPIC_EVENTS", "video.generation.events"),
		KafkaGroupID:      getEnv("KAFKA_GROUP_ID", "video-generation-workers"),
		EventSinks:        getEnvList("EVENT_SINKS", []string{EventSinkLog}),

		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 1),
		MaxAttempts:       getEnvInt("MAX_DELIVERY_ATTEMPTS", 5),
		FanOutConcurrency: getEnvInt("ASSET_CONCURRENCY", 4),
		AssetTaskTimeout:  getEnvDuration("ASSET_TASK_TIMEOUT", 5*time.Minute),
		FineProgress:      getEnvBool("FINE_PROGRESS", false),
		ScriptTimeout:     getEnvDuration("PHASE_TIMEOUT_SCRIPT", 5*time.Minute),
		AssetsTimeout:     getEnvDuration("PHASE_TIMEOUT_ASSETS", 30*time.Minute),
		CompositeTimeout:  getEnvDuration("PHASE_TIMEOUT_COMPOSITING", 30*time.Minute),
		RenderTimeout:     getEnvDuration("PHASE_TIMEOUT_RENDERING", 30*time.Minute),
		EncodeTimeout:     getEnvDuration("PHASE_TIMEOUT_ENCODING", 60*time.Minute),
		FinalizeTimeout:   getEnvDuration("PHASE_TIMEOUT_FINALIZATION", 30*time.Minute),
		TempDir:           getEnv("TEMP_DIR", "/tmp/video-generation"),
		WorkspaceMaxAge:   getEnvDuration("WORKSPACE_MAX_AGE", 6*time.Hour),
		JanitorSchedule:   getEnv("JANITOR_SCHEDULE", "0 */15 * * * *"),

		StorageBackend:  strings.ToLower(getEnv("STORAGE_BACKEND", StorageFile)),
		StoragePath:     getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:  getEnv("STORAGE_BASE_URL", fmt.Sprintf("http://localhost:%s/static", port)),
		AWSRegion:       getEnv("AWS_REGION", "eu-west-1"),
		S3BucketVideos:  getEnv("S3_BUCKET_VIDEOS", "nexusai-videos-prod"),
		S3BucketAssets:  getEnv("S3_BUCKET_ASSETS", "nexusai-video-assets-prod"),
		S3Endpoint:      os.Getenv("S3_ENDPOINT"),
		S3PublicBaseURL: os.Getenv("S3_PUBLIC_BASE_URL"),

		ScriptProvider:    strings.ToLower(getEnv("SCRIPT_PROVIDER", ScriptAuto)),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIOrg:         os.Getenv("OPENAI_ORG"),
		AnthropicAPIKey:   os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:    os.Getenv("CLAUDE_MODEL"),
		AnthropicBaseURL:  os.Getenv("ANTHROPIC_BASE_URL"),
		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-2.5-flash-image"),
		GeminiTextModel:   getEnv("GEMINI_SCRIPT_MODEL", "gemini-2.0-flash"),
		GeminiBaseURL:     getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		ImageProvider:     strings.ToLower(getEnv("IMAGE_PROVIDER", ImageGemini)),
		QwenAPIKey:        os.Getenv("DASHSCOPE_API_KEY"),
		QwenBaseURL:       getEnv("QWEN_BASE_URL", "https://dashscope-intl.aliyuncs.com/api/v1"),
		QwenModel:         getEnv("QWEN_IMAGE_MODEL", "qwen-image-plus"),
		ElevenLabsAPIKey:  os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsBaseURL: getEnv("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"),
		ElevenLabsModel:   getEnv("ELEVENLABS_MODEL", "eleven_multilingual_v2"),
		ElevenLabsVoice:   getEnv("ELEVENLABS_DEFAULT_VOICE", "21m00Tcm4TlvDq8ikWAM"),
		ProviderRPM:       getEnvInt("PROVIDER_REQUESTS_PER_MINUTE", 60),

		FFmpegPath:  getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath: getEnv("FFPROBE_PATH", "ffprobe"),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),

		JWTSecret:          os.Getenv("JWT_SECRET"),
		JWTIssuer:          os.Getenv("JWT_ISSUER"),
		OIDCIssuer:         os.Getenv("OIDC_ISSUER"),
		OIDCAudience:       os.Getenv("OIDC_AUDIENCE"),
		OIDCJWKSURL:        os.Getenv("OIDC_JWKS_URL"),
		CORSOrigins:        getEnvList("CORS_ORIGINS", nil),
		TokenCostPerSecond: getEnvInt("TOKEN_COST_PER_SECOND", 1),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.QueueBackend {
	case QueueMemory, QueueBadger:
	case QueuePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres queue")
		}
	case QueueKafka:
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required for the kafka queue")
		}
	default:
		return fmt.Errorf("unsupported QUEUE_BACKEND %q", c.QueueBackend)
	}

	for _, sink := range c.EventSinks {
		switch sink {
		case EventSinkLog:
		case EventSinkKafka:
			if len(c.KafkaBrokers) == 0 {
				return fmt.Errorf("KAFKA_BROKERS is required for the kafka event sink")
			}
		case EventSinkPostgres:
			if c.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required for the postgres event sink")
			}
		default:
			return fmt.Errorf("unsupported event sink %q", sink)
		}
	}

	switch c.StorageBackend {
	case StorageFile, StorageS3:
	default:
		return fmt.Errorf("unsupported STORAGE_BACKEND %q", c.StorageBackend)
	}

	switch c.ScriptProvider {
	case ScriptAuto, ScriptOpenAI, ScriptClaude, ScriptGemini, ScriptStatic:
	default:
		return fmt.Errorf("unsupported SCRIPT_PROVIDER %q", c.ScriptProvider)
	}

	switch c.ImageProvider {
	case ImageGemini, ImageQwen:
	default:
		return fmt.Errorf("unsupported IMAGE_PROVIDER %q", c.ImageProvider)
	}

	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1")
	}
	return nil
}

// ValidateAPI checks the settings the submission API needs on top of the
// shared ones. The API records every job in Postgres and can only hand jobs to
// a queue another process can read.
func (c *Config) ValidateAPI() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for the api")
	}
	switch c.QueueBackend {
	case QueuePostgres, QueueKafka:
		return nil
	default:
		return fmt.Errorf("QUEUE_BACKEND %q is process local; the api needs postgres or kafka", c.QueueBackend)
	}
}

// NeedsDatabase reports whether any configured component talks to Postgres.
func (c *Config) NeedsDatabase() bool {
	if c.QueueBackend == QueuePostgres {
		return true
	}
	for _, sink := range c.EventSinks {
		if sink == EventSinkPostgres {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}
