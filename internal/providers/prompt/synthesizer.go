package prompt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gensvc/internal/domain"
)

// SynthesisRequest is the input to prompt synthesis.
type SynthesisRequest struct {
	Channel     domain.Channel
	Prompt      string
	Style       string
	AspectRatio string
	Locale      string
	Context     string
	Analysis    string
}

// Synthesis is the enhanced prompt driving the generation fan-out.
type Synthesis struct {
	Prompt         string
	NegativePrompt string
	Keywords       []string
	Provider       string
	Usage          *domain.TokenUsage
}

// Synthesizer implements the PromptSynthesis capability.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (*Synthesis, error)
}

type synthesisPayload struct {
	Prompt         string   `json:"prompt"`
	NegativePrompt string   `json:"negative_prompt"`
	Keywords       []string `json:"keywords"`
}

// ModelSynthesizer asks a text model for a JSON prompt description.
type ModelSynthesizer struct {
	model TextModel
}

func NewModelSynthesizer(model TextModel) *ModelSynthesizer {
	return &ModelSynthesizer{model: model}
}

func (s *ModelSynthesizer) Synthesize(ctx context.Context, req SynthesisRequest) (*Synthesis, error) {
	res, err := s.model.Complete(ctx, Completion{
		System:      "You are a visual prompt engineer. Respond only with valid JSON.",
		Prompt:      buildSynthesisPrompt(req),
		JSON:        true,
		Temperature: 0.6,
	})
	if err != nil {
		return nil, err
	}
	parsed, err := parseModelPayload[synthesisPayload](res.Text)
	if err != nil {
		return nil, &domain.ProviderError{Provider: s.model.Name(), Capability: "prompt_synthesis", Err: fmt.Errorf("parse payload: %w", err)}
	}
	text := coalesce(parsed.Prompt)
	if text == "" {
		return nil, &domain.ProviderError{Provider: s.model.Name(), Capability: "prompt_synthesis", Err: errors.New("empty prompt")}
	}
	usage := usageFor(s.model, res, StagePrompt)
	return &Synthesis{
		Prompt:         text,
		NegativePrompt: strings.TrimSpace(parsed.NegativePrompt),
		Keywords:       normalizeKeywords(parsed.Keywords, ""),
		Provider:       providerLabel(s.model, res),
		Usage:          &usage,
	}, nil
}

func buildSynthesisPrompt(req SynthesisRequest) string {
	sb := &strings.Builder{}
	sb.WriteString("Rewrite the user's request into one detailed generation prompt. Respond strictly with JSON matching this schema: ")
	sb.WriteString(`{"prompt":string,"negative_prompt":string,"keywords":string[]}`)
	fmt.Fprintf(sb, ". Target output: %s. Write the prompt in %s.", channelTarget(req.Channel), languageName(req.Locale))
	fmt.Fprintf(sb, " Request: %q.", req.Prompt)
	if req.Style != "" {
		fmt.Fprintf(sb, " Style: %q.", req.Style)
	}
	if req.AspectRatio != "" {
		fmt.Fprintf(sb, " Aspect ratio: %s.", req.AspectRatio)
	}
	if req.Context != "" {
		fmt.Fprintf(sb, " Additional context: %q.", req.Context)
	}
	if req.Analysis != "" {
		fmt.Fprintf(sb, " Reference analysis: %q.", req.Analysis)
	}
	return sb.String()
}

func channelTarget(ch domain.Channel) string {
	switch ch {
	case domain.ChannelCaption:
		return "short social media captions"
	case domain.ChannelThumbnail:
		return "an edit instruction for a video thumbnail"
	default:
		return "a still image"
	}
}

// StaticSynthesizer composes the prompt locally without calling a model. It
// is only used when configured explicitly as the prompt provider.
type StaticSynthesizer struct{}

func NewStaticSynthesizer() *StaticSynthesizer {
	return &StaticSynthesizer{}
}

func (StaticSynthesizer) Synthesize(_ context.Context, req SynthesisRequest) (*Synthesis, error) {
	parts := []string{strings.TrimSpace(req.Prompt)}
	if req.Style != "" {
		parts = append(parts, req.Style+" style")
	}
	if req.Context != "" {
		parts = append(parts, req.Context)
	}
	if req.Analysis != "" {
		parts = append(parts, "matching the reference: "+req.Analysis)
	}
	if req.AspectRatio != "" && req.Channel != domain.ChannelCaption {
		parts = append(parts, req.AspectRatio+" composition")
	}
	return &Synthesis{
		Prompt:   strings.Join(parts, ", "),
		Provider: staticProvider,
	}, nil
}

var (
	_ Synthesizer = (*ModelSynthesizer)(nil)
	_ Synthesizer = StaticSynthesizer{}
)
