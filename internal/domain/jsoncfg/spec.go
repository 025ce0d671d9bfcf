package jsoncfg

import (
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf8"

	"gensvc/internal/domain"
)

const (
	// DefaultSpecVersion is persisted with every stored spec.
	DefaultSpecVersion = "2025-01"
	// DefaultAspectRatio is used when the request omits the aspect ratio.
	DefaultAspectRatio = "1:1"
	// DefaultLocale is applied when no locale preference is provided.
	DefaultLocale = "en"
	// DefaultQuality represents the baseline generation quality.
	DefaultQuality = "standard"
	// MaxMediaBytes bounds inline media uploads.
	MaxMediaBytes = 8 << 20
)

var allowedAspectRatios = map[string]struct{}{
	"1:1":  {},
	"4:3":  {},
	"3:4":  {},
	"16:9": {},
	"9:16": {},
}

var allowedQualities = map[string]struct{}{
	"standard": {},
	"hd":       {},
}

// MediaInput carries user-supplied media, inline or by URL.
type MediaInput struct {
	DataBase64 string `json:"data_base64,omitempty"`
	URL        string `json:"url,omitempty"`
	MIME       string `json:"mime,omitempty"`
}

// ChannelSpec is the client-submitted description of one generation request.
type ChannelSpec struct {
	Version        string         `json:"version"`
	Channel        domain.Channel `json:"channel"`
	Prompt         string         `json:"prompt"`
	OutputCount    int            `json:"output_count"`
	AspectRatio    string         `json:"aspect_ratio"`
	Style          string         `json:"style,omitempty"`
	Quality        string         `json:"quality"`
	Locale         string         `json:"locale"`
	IncludeContext bool           `json:"include_context"`
	Context        string         `json:"context,omitempty"`
	Media          *MediaInput    `json:"media,omitempty"`
}

// Normalize applies server defaults. A channel with FixedOutputs always uses
// that count regardless of the submitted value.
func (s *ChannelSpec) Normalize(preferredLocale string, cfg ChannelConfig) {
	if s == nil {
		return
	}
	s.Channel = domain.Channel(strings.ToLower(strings.TrimSpace(string(s.Channel))))
	s.Prompt = strings.TrimSpace(s.Prompt)
	s.Context = strings.TrimSpace(s.Context)
	s.Style = strings.TrimSpace(s.Style)
	if s.Version == "" {
		s.Version = DefaultSpecVersion
	}
	if cfg.FixedOutputs > 0 {
		s.OutputCount = cfg.FixedOutputs
	} else if s.OutputCount == 0 {
		s.OutputCount = cfg.DefaultOutputs
	}
	if s.AspectRatio == "" {
		s.AspectRatio = DefaultAspectRatio
	}
	s.Quality = strings.ToLower(strings.TrimSpace(s.Quality))
	if s.Quality == "" {
		s.Quality = DefaultQuality
	}
	if s.Locale == "" {
		if preferredLocale != "" {
			s.Locale = preferredLocale
		} else {
			s.Locale = DefaultLocale
		}
	}
	if s.Media != nil && strings.TrimSpace(s.Media.DataBase64) == "" && strings.TrimSpace(s.Media.URL) == "" {
		s.Media = nil
	}
}

// Validate checks s against the channel bounds. Every failure is a
// *domain.ValidationError.
func (s ChannelSpec) Validate(cfg ChannelConfig) error {
	if !s.Channel.Valid() {
		return &domain.ValidationError{Field: "channel", Reason: fmt.Sprintf("unsupported channel %q", s.Channel)}
	}
	if n := utf8.RuneCountInString(s.Prompt); n < cfg.MinPromptLength {
		return &domain.ValidationError{Field: "prompt", Reason: fmt.Sprintf("must be at least %d characters", cfg.MinPromptLength)}
	}
	if s.OutputCount < cfg.MinOutputs || s.OutputCount > cfg.MaxOutputs {
		return &domain.ValidationError{Field: "output_count", Reason: fmt.Sprintf("must be between %d and %d", cfg.MinOutputs, cfg.MaxOutputs)}
	}
	if _, ok := allowedAspectRatios[s.AspectRatio]; !ok {
		return &domain.ValidationError{Field: "aspect_ratio", Reason: "must be one of 1:1, 4:3, 3:4, 16:9, 9:16"}
	}
	if _, ok := allowedQualities[s.Quality]; !ok {
		return &domain.ValidationError{Field: "quality", Reason: "must be standard or hd"}
	}
	if s.IncludeContext && s.Context == "" {
		return &domain.ValidationError{Field: "context", Reason: "is required when include_context is true"}
	}
	if cfg.RequiresMedia && s.Media == nil {
		return &domain.ValidationError{Field: "media", Reason: "is required for this channel"}
	}
	if s.Media != nil && s.Media.DataBase64 != "" {
		data, err := s.MediaBytes()
		if err != nil {
			return &domain.ValidationError{Field: "media.data_base64", Reason: "must be valid base64"}
		}
		if len(data) > MaxMediaBytes {
			return &domain.ValidationError{Field: "media.data_base64", Reason: fmt.Sprintf("must not exceed %d bytes", MaxMediaBytes)}
		}
	}
	return nil
}

// MediaBytes decodes inline media. Data URLs ("data:image/png;base64,...")
// are accepted.
func (s ChannelSpec) MediaBytes() ([]byte, error) {
	if s.Media == nil || s.Media.DataBase64 == "" {
		return nil, nil
	}
	raw := strings.TrimSpace(s.Media.DataBase64)
	if strings.HasPrefix(raw, "data:") {
		if idx := strings.Index(raw, ","); idx >= 0 {
			raw = raw[idx+1:]
		}
	}
	return base64.StdEncoding.DecodeString(raw)
}

// Sanitized returns a copy without inline media, suitable for persisting as
// the request's original input.
func (s ChannelSpec) Sanitized() ChannelSpec {
	out := s
	if s.Media != nil {
		m := *s.Media
		if m.DataBase64 != "" {
			m.DataBase64 = ""
		}
		out.Media = &m
	}
	return out
}
