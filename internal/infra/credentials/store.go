package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gensvc/internal/infra"
	"gensvc/internal/sqlinline"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderQwen   = "qwen"
)

// Providers lists the provider names that accept stored API keys.
var Providers = []string{ProviderGemini, ProviderOpenAI, ProviderQwen}

// Supported reports whether provider can hold a stored key.
func Supported(provider string) bool {
	provider = strings.ToLower(strings.TrimSpace(provider))
	for _, p := range Providers {
		if p == provider {
			return true
		}
	}
	return false
}

// Store keeps provider API keys in integration_tokens so operators can rotate
// them without redeploying.
type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// Token returns the stored key for provider, or "" when none is stored.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, strings.ToLower(provider))
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

// SetToken stores key for provider, replacing any previous key.
func (s *Store) SetToken(ctx context.Context, provider, key string) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if !Supported(provider) {
		return fmt.Errorf("unsupported provider %q", provider)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("%s api key is required", provider)
	}
	return s.upsert(ctx, provider, key, map[string]any{
		"rotated_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// Resolve prefers the configured key and falls back to the stored one.
func (s *Store) Resolve(ctx context.Context, provider, configured string) (string, error) {
	if key := strings.TrimSpace(configured); key != "" {
		return key, nil
	}
	if s == nil {
		return "", nil
	}
	return s.Token(ctx, provider)
}

func (s *Store) upsert(ctx context.Context, provider, token string, props map[string]any) error {
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
