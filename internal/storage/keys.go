package storage

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// newDisambiguator returns a lowercase ULID. ULIDs minted in the same
// millisecond still sort after each other.
func newDisambiguator(now time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return strings.ToLower(ulid.MustNew(ulid.Timestamp(now), entropy).String())
}

// BuildKey composes {prefix}/{owner}/{ulid}{ext}.
func BuildKey(prefix, ownerID, ext string, now time.Time) string {
	owner := safeSegment(ownerID)
	if owner == "" {
		owner = "anonymous"
	}
	parts := []string{}
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, owner, newDisambiguator(now)+ext)
	return strings.Join(parts, "/")
}

// ExtensionFor returns the file extension for a content type, sniffing data
// when the type is unknown.
func ExtensionFor(contentType string, data []byte) string {
	ct := strings.TrimSpace(strings.Split(contentType, ";")[0])
	if ct != "" {
		if m := mimetype.Lookup(ct); m != nil && m.Extension() != "" {
			return m.Extension()
		}
	}
	if len(data) > 0 {
		if ext := mimetype.Detect(data).Extension(); ext != "" {
			return ext
		}
	}
	return ".bin"
}

func safeSegment(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}
