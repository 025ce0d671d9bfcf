package prompt

import (
	"context"

	"gensvc/internal/domain"
)

// Completion is a single text-model call.
type Completion struct {
	System      string
	Prompt      string
	Media       []byte
	MediaMIME   string
	JSON        bool
	Temperature float64
}

// CompletionResult carries the model output and its token accounting.
type CompletionResult struct {
	Text  string
	Model string
	Usage domain.TokenCounters
}

// TextModel is implemented by every provider client offering chat-style
// completions.
type TextModel interface {
	Name() string
	Complete(ctx context.Context, req Completion) (*CompletionResult, error)
}

func usageFor(model TextModel, res *CompletionResult, stage string) domain.TokenUsage {
	return domain.TokenUsage{
		Provider: model.Name(),
		Model:    res.Model,
		Stage:    stage,
		Counters: res.Usage,
	}
}

func providerLabel(model TextModel, res *CompletionResult) string {
	if res == nil || res.Model == "" {
		return model.Name()
	}
	return model.Name() + "/" + res.Model
}
