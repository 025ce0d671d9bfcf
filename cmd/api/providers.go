package main

import (
	"context"
	"net/http"
	"strings"

	"gensvc/internal/generation"
	"gensvc/internal/infra"
	"gensvc/internal/infra/credentials"
	"gensvc/internal/providers/artifact"
	"gensvc/internal/providers/genai"
	imgprov "gensvc/internal/providers/image"
	"gensvc/internal/providers/openai"
	"gensvc/internal/providers/prompt"
	"gensvc/internal/providers/qwen"
)

// buildProviders constructs every provider with a usable API key and binds
// the configured ones to the pipeline capabilities. Keys from the environment
// win over keys stored with cmd/providerkey. Provider result URLs point at
// vendor CDNs, so their fetcher is size capped but not host restricted.
func buildProviders(ctx context.Context, cfg *infra.Config, creds *credentials.Store, logger infra.Logger) generation.Providers {
	httpClient := &http.Client{Timeout: cfg.ProviderTimeout}
	normalizer := artifact.NewNormalizer(artifact.NewFetcher(artifact.FetcherOptions{
		Timeout:    cfg.ProviderTimeout,
		MaxBytes:   artifact.DefaultMaxBytes,
		HTTPClient: httpClient,
	}))
	registry := imgprov.NewRegistry()
	textModels := map[string]prompt.TextModel{}

	key := func(provider, configured string) string {
		k, err := creds.Resolve(ctx, provider, configured)
		if err != nil {
			logger.Warn().Err(err).Str("provider", provider).Msg("failed to load stored api key")
		}
		return k
	}

	if k := key(credentials.ProviderGemini, cfg.GeminiAPIKey); k != "" {
		l := logger.With().Str("provider", credentials.ProviderGemini).Logger()
		client, err := genai.NewClient(genai.Options{
			APIKey:     k,
			BaseURL:    cfg.GeminiBaseURL,
			Model:      cfg.GeminiModel,
			ImageModel: cfg.GeminiImageModel,
			HTTPClient: httpClient,
			Normalizer: normalizer,
			Logger:     &l,
		})
		if err != nil {
			logger.Error().Err(err).Msg("gemini client disabled")
		} else {
			registry.Register(client)
			textModels[credentials.ProviderGemini] = client
		}
	}

	if k := key(credentials.ProviderOpenAI, cfg.OpenAIAPIKey); k != "" {
		l := logger.With().Str("provider", credentials.ProviderOpenAI).Logger()
		client, err := openai.NewClient(openai.Options{
			APIKey:       k,
			Model:        cfg.OpenAIModel,
			ImageModel:   cfg.OpenAIImageModel,
			BaseURL:      cfg.OpenAIBaseURL,
			Organization: cfg.OpenAIOrg,
			HTTPClient:   httpClient,
			Normalizer:   normalizer,
			Logger:       &l,
			OnWarning: func(reason, detail string) {
				l.Warn().Str("reason", reason).Str("detail", detail).Msg("openai model adjusted")
			},
		})
		if err != nil {
			logger.Error().Err(err).Msg("openai client disabled")
		} else {
			registry.Register(client)
			textModels[credentials.ProviderOpenAI] = client
		}
	}

	if k := key(credentials.ProviderQwen, cfg.QwenAPIKey); k != "" {
		l := logger.With().Str("provider", credentials.ProviderQwen).Logger()
		client, err := qwen.NewClient(qwen.Options{
			APIKey:     k,
			BaseURL:    cfg.QwenBaseURL,
			Model:      cfg.QwenImageModel,
			EditModel:  cfg.QwenEditModel,
			HTTPClient: httpClient,
			Normalizer: normalizer,
			Logger:     &l,
		})
		if err != nil {
			logger.Error().Err(err).Msg("qwen client disabled")
		} else {
			registry.Register(client)
		}
	}

	var p generation.Providers
	if m, ok := textModels[strings.ToLower(cfg.AnalysisProvider)]; ok {
		p.Analyzer = prompt.NewModelAnalyzer(m)
	} else {
		logger.Warn().Str("provider", cfg.AnalysisProvider).Msg("media analysis disabled")
	}
	if m, ok := textModels[strings.ToLower(cfg.PromptProvider)]; ok {
		p.Synthesizer = prompt.NewModelSynthesizer(m)
		p.Captions = prompt.NewModelCaptionWriter(m)
	} else {
		logger.Warn().Str("provider", cfg.PromptProvider).Msg("prompt model unavailable, using static synthesis; captions disabled")
		p.Synthesizer = prompt.NewStaticSynthesizer()
	}

	if g, err := registry.Generator(cfg.ImageProvider); err == nil {
		p.Generator = g
	} else {
		logger.Warn().Err(err).Msg("image generation disabled")
	}
	if e, err := registry.Editor(cfg.ImageProvider); err == nil {
		p.Editor = e
	} else {
		logger.Warn().Err(err).Msg("image edits disabled")
	}
	if v, err := registry.Varier(cfg.ImageProvider); err == nil {
		p.Varier = v
	} else {
		logger.Debug().Err(err).Msg("image variations disabled")
	}
	return p
}
