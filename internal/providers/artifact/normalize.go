package artifact

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"gensvc/internal/domain"
)

// URLFetcher materializes remote artifacts.
type URLFetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, string, error)
}

// Normalizer applies extraction rules and materializes the matches.
type Normalizer struct {
	fetcher URLFetcher
	rules   []Rule
}

// NewNormalizer returns a Normalizer using rules, or DefaultRules when rules
// is empty.
func NewNormalizer(fetcher URLFetcher, rules ...Rule) *Normalizer {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &Normalizer{fetcher: fetcher, rules: rules}
}

// WithRules returns a Normalizer sharing the fetcher but using rules.
func (n *Normalizer) WithRules(rules ...Rule) *Normalizer {
	return NewNormalizer(n.fetcher, rules...)
}

// Normalize decodes a raw provider response into artifacts. A response that
// matches no rule yields a *domain.ShapeError naming its top-level fields.
func (n *Normalizer) Normalize(ctx context.Context, provider string, raw []byte) ([]domain.Artifact, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &domain.ShapeError{Provider: provider}
	}
	candidates, _, ok := Extract(doc, n.rules)
	if !ok {
		return nil, &domain.ShapeError{Provider: provider, Fields: FieldNames(doc)}
	}
	out := make([]domain.Artifact, 0, len(candidates))
	for _, c := range candidates {
		a, err := n.Materialize(ctx, c)
		if err != nil {
			return nil, &domain.ProviderError{Provider: provider, Capability: "materialize", Err: err}
		}
		out = append(out, a)
	}
	return out, nil
}

// Materialize turns a candidate into an inline artifact, fetching it when
// only a URL is known.
func (n *Normalizer) Materialize(ctx context.Context, c Candidate) (domain.Artifact, error) {
	var (
		data     []byte
		declared = c.MIME
		err      error
	)
	switch {
	case c.B64 != "":
		data, err = DecodeBase64(c.B64)
		if err != nil {
			return domain.Artifact{}, fmt.Errorf("decode inline artifact: %w", err)
		}
	case c.URL != "":
		if n.fetcher == nil {
			return domain.Artifact{}, fmt.Errorf("no fetcher configured for remote artifact")
		}
		var ct string
		data, ct, err = n.fetcher.Fetch(ctx, c.URL)
		if err != nil {
			return domain.Artifact{}, err
		}
		if declared == "" {
			declared = ct
		}
	default:
		return domain.Artifact{}, fmt.Errorf("empty candidate")
	}
	return FromBytes(data, declared, c.URL), nil
}

// FromBytes builds an inline artifact, sniffing the content type and image
// dimensions.
func FromBytes(data []byte, declared, sourceURL string) domain.Artifact {
	a := domain.Artifact{Data: data, URL: sourceURL, ContentType: DetectContentType(data, declared)}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		a.Width, a.Height = cfg.Width, cfg.Height
	}
	return a
}

// DetectContentType prefers the sniffed type over the declared one unless the
// sniffer only recognizes a generic binary blob.
func DetectContentType(data []byte, declared string) string {
	declared = strings.TrimSpace(strings.Split(declared, ";")[0])
	detected := mimetype.Detect(data)
	if detected.Is("application/octet-stream") && declared != "" {
		return declared
	}
	return detected.String()
}

// DecodeBase64 accepts standard or raw base64, with or without a data URL
// prefix.
func DecodeBase64(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "data:") {
		if idx := strings.Index(raw, ","); idx >= 0 {
			raw = raw[idx+1:]
		}
	}
	if data, err := base64.StdEncoding.DecodeString(raw); err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(raw, "="))
}
