package prompt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gensvc/internal/domain"
)

// captionTones gives every variant in a batch a distinct register.
var captionTones = []string{
	"friendly",
	"persuasive",
	"playful",
	"informative",
	"minimal",
}

// CaptionRequest asks for one caption variant.
type CaptionRequest struct {
	Prompt  string
	Locale  string
	Variant int
}

// Caption is a single generated caption.
type Caption struct {
	Text     string
	Tone     string
	Provider string
	Usage    *domain.TokenUsage
}

// CaptionWriter produces one caption per call.
type CaptionWriter interface {
	WriteCaption(ctx context.Context, req CaptionRequest) (*Caption, error)
}

// ModelCaptionWriter writes captions with a text model.
type ModelCaptionWriter struct {
	model TextModel
}

func NewModelCaptionWriter(model TextModel) *ModelCaptionWriter {
	return &ModelCaptionWriter{model: model}
}

// CaptionTone returns the tone assigned to a variant index (1-based).
func CaptionTone(variant int) string {
	if variant < 1 {
		variant = 1
	}
	return captionTones[(variant-1)%len(captionTones)]
}

func (w *ModelCaptionWriter) WriteCaption(ctx context.Context, req CaptionRequest) (*Caption, error) {
	tone := CaptionTone(req.Variant)
	res, err := w.model.Complete(ctx, Completion{
		System:      "You write concise social media captions. Reply with the caption text only.",
		Prompt:      fmt.Sprintf("Write one %s caption in %s, at most 280 characters, including up to three hashtags. Brief: %s", tone, languageName(req.Locale), req.Prompt),
		Temperature: 0.9,
	})
	if err != nil {
		return nil, err
	}
	text := strings.Trim(strings.TrimSpace(trimCodeFence(res.Text)), `"`)
	if text == "" {
		return nil, &domain.ProviderError{Provider: w.model.Name(), Capability: "caption", Err: errors.New("empty caption")}
	}
	usage := usageFor(w.model, res, StageCaption)
	return &Caption{
		Text:     text,
		Tone:     tone,
		Provider: providerLabel(w.model, res),
		Usage:    &usage,
	}, nil
}

var _ CaptionWriter = (*ModelCaptionWriter)(nil)
