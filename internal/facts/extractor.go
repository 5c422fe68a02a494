// Package facts extracts structured personal facts from free text using an
// ordered battery of pattern rules. Extraction is pure: no I/O happens here,
// persisting the results is the caller's job.
package facts

import "strings"

const (
	defaultMinLen = 2
	defaultMaxLen = 60
)

// Fact is one candidate personal fact.
type Fact struct {
	Fact  string   `json:"fact"`
	Topic string   `json:"topic"`
	Tags  []string `json:"tags"`
}

// Extractor runs a fixed list of rules against a message.
type Extractor struct {
	rules []Rule
}

// NewExtractor returns an Extractor over rules, or over DefaultRules when
// none are given.
func NewExtractor(rules ...Rule) *Extractor {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Extractor{rules: rules}
}

// Extract returns the facts found in msg in rule order, then match order.
// Identical fact strings are emitted once.
func (e *Extractor) Extract(msg string) []Fact {
	if strings.TrimSpace(msg) == "" {
		return nil
	}

	var out []Fact
	seen := make(map[string]bool)
	for _, r := range e.rules {
		for _, m := range r.Pattern.FindAllStringSubmatch(msg, -1) {
			f, ok := r.apply(m)
			if !ok || seen[f.Fact] {
				continue
			}
			seen[f.Fact] = true
			out = append(out, f)
		}
	}
	return out
}

func (r Rule) apply(m []string) (Fact, bool) {
	if r.Groups.Value <= 0 || r.Groups.Value >= len(m) {
		return Fact{}, false
	}
	value := cleanValue(m[r.Groups.Value])

	minLen, maxLen := r.MinLen, r.MaxLen
	if minLen == 0 {
		minLen = defaultMinLen
	}
	if maxLen == 0 {
		maxLen = defaultMaxLen
	}
	if n := len([]rune(value)); n < minLen || n > maxLen {
		return Fact{}, false
	}
	if r.Valid != nil && !r.Valid(value) {
		return Fact{}, false
	}

	var relation string
	if r.Groups.Relation > 0 && r.Groups.Relation < len(m) {
		relation = normalizeRelation(m[r.Groups.Relation])
		if relation == "" {
			return Fact{}, false
		}
	}
	return r.Build(relation, value), true
}

// cleanValue trims whitespace and trailing punctuation and collapses
// internal runs of whitespace.
func cleanValue(v string) string {
	v = spaces.ReplaceAllString(strings.TrimSpace(v), " ")
	return strings.TrimRight(v, " .,!?;:'\"")
}
