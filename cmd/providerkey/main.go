package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"vidgen/internal/infra"
	"vidgen/internal/infra/credentials"
)

// envKeys maps each provider to the variable the worker reads it from.
var envKeys = map[string]string{
	credentials.ProviderOpenAI:     "OPENAI_API_KEY",
	credentials.ProviderAnthropic:  "ANTHROPIC_API_KEY",
	credentials.ProviderGemini:     "GEMINI_API_KEY",
	credentials.ProviderElevenLabs: "ELEVENLABS_API_KEY",
	credentials.ProviderQwen:       "DASHSCOPE_API_KEY",
}

func main() {
	var (
		keyFlag      string
		providerFlag string
		modelFlag    string
	)
	flag.StringVar(&keyFlag, "key", "", "API key for the selected provider (falls back to the environment)")
	flag.StringVar(&providerFlag, "provider", credentials.ProviderGemini, "provider to configure: "+strings.Join(credentials.Providers, ", "))
	flag.StringVar(&modelFlag, "model", "", "optional model recorded next to the key")
	flag.Parse()

	_ = godotenv.Load()

	provider := strings.TrimSpace(strings.ToLower(providerFlag))
	if provider == "" {
		provider = credentials.ProviderGemini
	}
	if !credentials.Known(provider) {
		fmt.Fprintf(os.Stderr, "unsupported provider %q\n", providerFlag)
		os.Exit(1)
	}

	key := strings.TrimSpace(keyFlag)
	if key == "" {
		key = strings.TrimSpace(os.Getenv(envKeys[provider]))
	}
	if key == "" {
		fmt.Fprintf(os.Stderr, "%s API key is required via -key or %s\n", strings.ToUpper(provider), envKeys[provider])
		os.Exit(1)
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create pool: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger := infra.NewLogger("cli", "providerkey").With().Str("provider", provider).Logger()
	runner := infra.NewSQLRunner(pool, logger)
	if err := infra.Migrate(ctx, runner); err != nil {
		fmt.Fprintf(os.Stderr, "failed to prepare schema: %v\n", err)
		os.Exit(1)
	}

	props := map[string]any{"stored_by": "providerkey"}
	if m := strings.TrimSpace(modelFlag); m != "" {
		props["model"] = m
	}
	if err := credentials.NewStore(runner).SetToken(ctx, provider, key, props); err != nil {
		fmt.Fprintf(os.Stderr, "failed to persist %s api key: %v\n", provider, err)
		os.Exit(1)
	}

	fmt.Printf("%s API key stored successfully\n", strings.ToUpper(provider))
}
