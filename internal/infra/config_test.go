package infra

import (
	"reflect"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("STORAGE_BASE_URL", "")
	t.Setenv("QUEUE_BACKEND", "")
	t.Setenv("EVENT_SINKS", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.QueueBackend != QueueMemory {
		t.Fatalf("QueueBackend = %q, want memory", cfg.QueueBackend)
	}
	if cfg.StorageBaseURL != "http://localhost:8080/static" {
		t.Fatalf("StorageBaseURL mismatch: %q", cfg.StorageBaseURL)
	}
	if cfg.KafkaTopicJobs != "video.generation.requests" || cfg.KafkaTopicEvents != "video.generation.events" {
		t.Fatalf("unexpected topics %q %q", cfg.KafkaTopicJobs, cfg.KafkaTopicEvents)
	}
	if cfg.FanOutConcurrency != 4 || cfg.AssetTaskTimeout != 5*time.Minute {
		t.Fatalf("unexpected fan-out defaults %d %s", cfg.FanOutConcurrency, cfg.AssetTaskTimeout)
	}
	if !reflect.DeepEqual(cfg.EventSinks, []string{EventSinkLog}) {
		t.Fatalf("unexpected sinks %#v", cfg.EventSinks)
	}
}

func TestLoadConfigInheritsPortInStorageBaseURL(t *testing.T) {
	t.Setenv("PORT", "1919")
	t.Setenv("STORAGE_BASE_URL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.StorageBaseURL != "http://localhost:1919/static" {
		t.Fatalf("StorageBaseURL mismatch: %q", cfg.StorageBaseURL)
	}
}

func TestLoadConfigBackendRequirements(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"postgres queue without database", map[string]string{"QUEUE_BACKEND": "postgres", "DATABASE_URL": ""}},
		{"kafka queue without brokers", map[string]string{"QUEUE_BACKEND": "kafka", "KAFKA_BROKERS": ""}},
		{"postgres sink without database", map[string]string{"EVENT_SINKS": "log,postgres", "DATABASE_URL": ""}},
		{"unknown queue", map[string]string{"QUEUE_BACKEND": "sqs"}},
		{"unknown storage", map[string]string{"STORAGE_BACKEND": "gcs"}},
		{"zero concurrency", map[string]string{"WORKER_CONCURRENCY": "0"}},
		{"unknown script provider", map[string]string{"SCRIPT_PROVIDER": "llama"}},
		{"unknown image provider", map[string]string{"IMAGE_PROVIDER": "dalle"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadConfigParsesListsAndDurations(t *testing.T) {
	t.Setenv("QUEUE_BACKEND", "Kafka")
	t.Setenv("KAFKA_BROKERS", " broker-1:9092, broker-2:9092 ,")
	t.Setenv("EVENT_SINKS", "kafka,log")
	t.Setenv("ASSET_TASK_TIMEOUT", "90s")
	t.Setenv("FINE_PROGRESS", "true")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if !reflect.DeepEqual(cfg.KafkaBrokers, []string{"broker-1:9092", "broker-2:9092"}) {
		t.Fatalf("unexpected brokers %#v", cfg.KafkaBrokers)
	}
	if cfg.AssetTaskTimeout != 90*time.Second || !cfg.FineProgress {
		t.Fatalf("unexpected parsed values %s %v", cfg.AssetTaskTimeout, cfg.FineProgress)
	}
	if cfg.NeedsDatabase() {
		t.Fatalf("kafka-only config should not need a database")
	}
}

func TestValidateAPI(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"postgres queue", Config{DatabaseURL: "postgres://db", QueueBackend: QueuePostgres}, false},
		{"kafka queue", Config{DatabaseURL: "postgres://db", QueueBackend: QueueKafka}, false},
		{"memory queue", Config{DatabaseURL: "postgres://db", QueueBackend: QueueMemory}, true},
		{"badger queue", Config{DatabaseURL: "postgres://db", QueueBackend: QueueBadger}, true},
		{"no database", Config{QueueBackend: QueueKafka}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.ValidateAPI()
			if (err != nil) != tc.wantErr {
				t.Fatalf("ValidateAPI() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestLoadConfigAPISettings(t *testing.T) {
	t.Setenv("SCRIPT_PROVIDER", "Claude")
	t.Setenv("CORS_ORIGINS", "https://App.example.com, *")
	t.Setenv("TOKEN_COST_PER_SECOND", "3")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ScriptProvider != ScriptClaude {
		t.Fatalf("ScriptProvider = %q", cfg.ScriptProvider)
	}
	if !reflect.DeepEqual(cfg.CORSOrigins, []string{"https://app.example.com", "*"}) {
		t.Fatalf("unexpected origins %#v", cfg.CORSOrigins)
	}
	if cfg.TokenCostPerSecond != 3 || cfg.GeminiTextModel != "gemini-2.0-flash" {
		t.Fatalf("unexpected values %d %q", cfg.TokenCostPerSecond, cfg.GeminiTextModel)
	}
}
