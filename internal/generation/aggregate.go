package generation

import (
	"sort"

	"gensvc/internal/domain"
)

// Artifact is one persisted fan-out output.
type Artifact struct {
	Index       int
	StorageKey  string
	URL         string
	ContentType string
	Variant     string
	Text        string
	Provider    string
}

// Outcome is the result of one fan-out item. Exactly one of Artifact or Err
// is set.
type Outcome struct {
	Index    int
	Artifact *Artifact
	Err      error
}

// Decision is the aggregator's verdict.
type Decision struct {
	Status    domain.RequestStatus
	Artifacts []Artifact
	Failures  int
	Err       error
}

// Aggregate applies the minimum-success policy. Outcomes are ordered by
// submission index regardless of completion order; successes are compacted
// and renumbered 1..n.
func Aggregate(outcomes []Outcome, minSuccess int, noun string) Decision {
	if minSuccess < 1 {
		minSuccess = 1
	}
	sorted := make([]Outcome, len(outcomes))
	copy(sorted, outcomes)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	var d Decision
	for _, o := range sorted {
		if o.Err != nil || o.Artifact == nil {
			d.Failures++
			continue
		}
		a := *o.Artifact
		a.Index = len(d.Artifacts) + 1
		d.Artifacts = append(d.Artifacts, a)
	}

	if len(d.Artifacts) >= minSuccess {
		d.Status = domain.StatusCompleted
		return d
	}
	d.Status = domain.StatusFailed
	d.Err = &domain.InsufficientResultsError{Generated: len(d.Artifacts), Expected: minSuccess, Noun: noun}
	return d
}
