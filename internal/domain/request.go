package domain

import "time"

// Channel enumerates the generation features sharing the pipeline.
type Channel string

const (
	ChannelImage     Channel = "image"
	ChannelCaption   Channel = "caption"
	ChannelThumbnail Channel = "thumbnail"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelImage, ChannelCaption, ChannelThumbnail:
		return true
	default:
		return false
	}
}

// RequestStatus enumerates request lifecycle states.
type RequestStatus string

const (
	StatusProcessing RequestStatus = "PROCESSING"
	StatusAnalyzing  RequestStatus = "ANALYZING"
	StatusGenerating RequestStatus = "GENERATING"
	StatusCompleted  RequestStatus = "COMPLETED"
	StatusFailed     RequestStatus = "FAILED"
)

var statusRank = map[RequestStatus]int{
	StatusProcessing: 0,
	StatusAnalyzing:  1,
	StatusGenerating: 2,
	StatusCompleted:  3,
	StatusFailed:     3,
}

// IsTerminal reports whether the status can no longer change.
func (s RequestStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether moving from s to next keeps the lifecycle
// monotonic. FAILED is reachable from every non-terminal state.
func (s RequestStatus) CanTransition(next RequestStatus) bool {
	if s.IsTerminal() {
		return false
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// GenerationRequest is the persisted record of one pipeline run.
type GenerationRequest struct {
	ID             string
	UserID         string
	Channel        Channel
	Status         RequestStatus
	Input          []byte
	EnhancedPrompt string
	OutputCount    int
	UnitsReserved  int
	Providers      StageProviders
	Tokens         TokenCounters
	ErrorMessage   string
	CreatedAt      time.Time
	CompletedAt    *time.Time
}

// StageProviders records which provider/model served each stage.
type StageProviders struct {
	Analysis   string `json:"analysis,omitempty"`
	Prompt     string `json:"prompt,omitempty"`
	Generation string `json:"generation,omitempty"`
}

// TokenCounters is analytics-only; it never affects billing.
type TokenCounters struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Total  int `json:"total"`
}

// Add accumulates other into t.
func (t *TokenCounters) Add(other TokenCounters) {
	t.Input += other.Input
	t.Output += other.Output
	if other.Total == 0 {
		other.Total = other.Input + other.Output
	}
	t.Total += other.Total
}

// GenerationResult is one persisted artifact of a completed request.
type GenerationResult struct {
	ID          string
	RequestID   string
	Index       int
	URL         string
	StorageKey  string
	ContentType string
	Variant     string
	Text        string
	CreatedAt   time.Time
}

// RequestUpdate carries the fields written by a status transition. Nil fields
// are left untouched.
type RequestUpdate struct {
	Status         RequestStatus
	EnhancedPrompt *string
	Providers      *StageProviders
	Tokens         *TokenCounters
	ErrorMessage   *string
	CompletedAt    *time.Time
}
