package prompt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gensvc/internal/domain"
)

// AnalysisRequest is the input to text analysis over user media.
type AnalysisRequest struct {
	Media     []byte
	MediaMIME string
	Context   string
	Locale    string
}

// Analysis summarizes the media for downstream prompt synthesis.
type Analysis struct {
	Summary  string
	Keywords []string
	Provider string
	Usage    *domain.TokenUsage
}

// Analyzer implements the TextAnalysis capability.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) (*Analysis, error)
}

type analysisPayload struct {
	Summary  string   `json:"summary"`
	Keywords []string `json:"keywords"`
}

// ModelAnalyzer runs analysis on a multimodal text model.
type ModelAnalyzer struct {
	model TextModel
}

func NewModelAnalyzer(model TextModel) *ModelAnalyzer {
	return &ModelAnalyzer{model: model}
}

func (a *ModelAnalyzer) Analyze(ctx context.Context, req AnalysisRequest) (*Analysis, error) {
	if len(req.Media) == 0 && strings.TrimSpace(req.Context) == "" {
		return nil, errors.New("analysis requires media or context")
	}
	sb := &strings.Builder{}
	sb.WriteString("Describe the subject, setting, mood and notable details of the provided material. Respond strictly with JSON: ")
	sb.WriteString(`{"summary":string,"keywords":string[]}`)
	fmt.Fprintf(sb, ". Write in %s.", languageName(req.Locale))
	if req.Context != "" {
		fmt.Fprintf(sb, " Context from the user: %q.", req.Context)
	}
	res, err := a.model.Complete(ctx, Completion{
		System:      "You analyze media for a content generation pipeline and only respond with JSON.",
		Prompt:      sb.String(),
		Media:       req.Media,
		MediaMIME:   req.MediaMIME,
		JSON:        true,
		Temperature: 0.2,
	})
	if err != nil {
		return nil, err
	}
	parsed, err := parseModelPayload[analysisPayload](res.Text)
	if err != nil || strings.TrimSpace(parsed.Summary) == "" {
		// Models occasionally ignore the JSON instruction; plain text is still usable.
		parsed = analysisPayload{Summary: strings.TrimSpace(res.Text)}
	}
	if parsed.Summary == "" {
		return nil, &domain.ProviderError{Provider: a.model.Name(), Capability: "text_analysis", Err: errors.New("empty analysis")}
	}
	usage := usageFor(a.model, res, StageAnalysis)
	return &Analysis{
		Summary:  strings.TrimSpace(parsed.Summary),
		Keywords: normalizeKeywords(parsed.Keywords, ""),
		Provider: providerLabel(a.model, res),
		Usage:    &usage,
	}, nil
}

var _ Analyzer = (*ModelAnalyzer)(nil)
