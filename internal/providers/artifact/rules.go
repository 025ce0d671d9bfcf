// Package artifact turns heterogeneous provider responses into
// domain.Artifact values.
package artifact

import (
	"sort"
	"strings"
)

// Candidate is one artifact reference found in a response, either inline
// base64 or a remote URL.
type Candidate struct {
	B64  string
	URL  string
	MIME string
}

// Rule extracts candidates from a decoded JSON object. A rule that does not
// apply returns nil.
type Rule struct {
	Name    string
	Extract func(doc map[string]any) []Candidate
}

// DefaultRules is the priority order for OpenAI-compatible image responses.
// Inline payloads are preferred over URLs.
var DefaultRules = []Rule{
	ArrayFieldRule("data", "b64_json", false),
	ArrayFieldRule("data", "base64", false),
	ArrayFieldRule("data", "url", true),
	FieldRule("b64_json", false),
	FieldRule("url", true),
}

// ArrayFieldRule matches doc[array][i][field] for every element carrying a
// non-empty string.
func ArrayFieldRule(array, field string, remote bool) Rule {
	return Rule{
		Name: array + "[]." + field,
		Extract: func(doc map[string]any) []Candidate {
			items, ok := doc[array].([]any)
			if !ok {
				return nil
			}
			var out []Candidate
			for _, item := range items {
				obj, ok := item.(map[string]any)
				if !ok {
					continue
				}
				if c, ok := candidateFrom(obj, field, remote); ok {
					out = append(out, c)
				}
			}
			return out
		},
	}
}

// FieldRule matches a top-level string field.
func FieldRule(field string, remote bool) Rule {
	return Rule{
		Name: field,
		Extract: func(doc map[string]any) []Candidate {
			if c, ok := candidateFrom(doc, field, remote); ok {
				return []Candidate{c}
			}
			return nil
		},
	}
}

// PathRule walks a dotted path where segments ending in "[]" fan out over
// arrays, e.g. "output.choices[].message.content[].image".
func PathRule(path string, remote bool) Rule {
	segments := strings.Split(path, ".")
	return Rule{
		Name: path,
		Extract: func(doc map[string]any) []Candidate {
			var out []Candidate
			walk(doc, segments, func(parent map[string]any, field string) {
				if c, ok := candidateFrom(parent, field, remote); ok {
					out = append(out, c)
				}
			})
			return out
		},
	}
}

func walk(node map[string]any, segments []string, leaf func(map[string]any, string)) {
	if len(segments) == 1 {
		leaf(node, segments[0])
		return
	}
	seg := segments[0]
	if name, ok := strings.CutSuffix(seg, "[]"); ok {
		items, _ := node[name].([]any)
		for _, item := range items {
			if obj, ok := item.(map[string]any); ok {
				walk(obj, segments[1:], leaf)
			}
		}
		return
	}
	if obj, ok := node[seg].(map[string]any); ok {
		walk(obj, segments[1:], leaf)
	}
}

func candidateFrom(obj map[string]any, field string, remote bool) (Candidate, bool) {
	raw, ok := obj[field].(string)
	if !ok || strings.TrimSpace(raw) == "" {
		return Candidate{}, false
	}
	mime, _ := obj["mimeType"].(string)
	if mime == "" {
		mime, _ = obj["mime_type"].(string)
	}
	if remote {
		return Candidate{URL: strings.TrimSpace(raw), MIME: mime}, true
	}
	return Candidate{B64: raw, MIME: mime}, true
}

// Extract applies rules in order and returns the candidates of the first
// rule that matched. ok is false when no rule matched.
func Extract(doc map[string]any, rules []Rule) (candidates []Candidate, rule string, ok bool) {
	for _, r := range rules {
		if found := r.Extract(doc); len(found) > 0 {
			return found, r.Name, true
		}
	}
	return nil, "", false
}

// FieldNames lists the top-level keys of doc in sorted order.
func FieldNames(doc map[string]any) []string {
	names := make([]string, 0, len(doc))
	for k := range doc {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
