package domain

import "time"

// Artifact is a normalized provider output. Exactly one of Data or Text is
// expected to be set once the artifact has been materialized.
type Artifact struct {
	Data        []byte
	Text        string
	URL         string
	ContentType string
	Width       int
	Height      int
}

// Inline reports whether the artifact carries its payload in memory.
func (a Artifact) Inline() bool {
	return len(a.Data) > 0 || a.Text != ""
}

// EphemeralAsset is a stored object that must disappear after ExpiresAt.
type EphemeralAsset struct {
	ID         string
	StorageKey string
	OwnerID    string
	RequestID  string
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// Expired reports whether the asset may be purged at now.
func (a EphemeralAsset) Expired(now time.Time) bool {
	return !now.Before(a.ExpiresAt)
}
