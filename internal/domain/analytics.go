package domain

import "time"

// AnalyticsDaily stores aggregated pipeline counters for a specific day.
type AnalyticsDaily struct {
	Day                time.Time
	Requests           int
	RequestSuccess     int
	RequestFail        int
	ArtifactsGenerated int
	ItemsFailed        int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TokenUsage is reported by text providers and recorded on the analytics
// side-channel only.
type TokenUsage struct {
	Provider string
	Model    string
	Stage    string
	Counters TokenCounters
}
