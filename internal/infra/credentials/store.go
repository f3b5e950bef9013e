// Package credentials keeps provider API keys in the integration_tokens table
// so workers can pick them up without redeploying.
package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"vidgen/internal/infra"
	"vidgen/internal/sqlinline"
)

const (
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
	ProviderGemini     = "gemini"
	ProviderElevenLabs = "elevenlabs"
	ProviderQwen       = "qwen"
)

// Providers lists the provider names the store accepts.
var Providers = []string{ProviderOpenAI, ProviderAnthropic, ProviderGemini, ProviderElevenLabs, ProviderQwen}

type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// Token returns the stored token for provider, or "" when none is stored.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

// Resolve prefers the configured value and falls back to the stored token.
// A nil store only returns the configured value.
func (s *Store) Resolve(ctx context.Context, provider, configured string) (string, error) {
	if v := strings.TrimSpace(configured); v != "" || s == nil {
		return v, nil
	}
	return s.Token(ctx, provider)
}

func (s *Store) SetToken(ctx context.Context, provider, token string, props map[string]any) error {
	if !Known(provider) {
		return fmt.Errorf("unknown provider %q", provider)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%s api key is required", provider)
	}
	payload := props
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, provider, token, raw)
	return err
}

// Known reports whether provider is one of Providers.
func Known(provider string) bool {
	for _, p := range Providers {
		if p == provider {
			return true
		}
	}
	return false
}
