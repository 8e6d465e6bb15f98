package models

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// EvidenceMatch is one keyword hit offered as justification for a positive
// detection.
//
// In result files a match is stored as the human-readable line produced by
// String, which is the format earlier batch files already use. Position is
// not part of that line and reads back as -1.
type EvidenceMatch struct {
	Keyword  string `json:"keyword"`
	Context  string `json:"context,omitempty"`
	Position int    `json:"position"`

	// Count is the number of occurrences, set only when context capture is off.
	Count int `json:"count,omitempty"`
}

func (m EvidenceMatch) String() string {
	if m.Context == "" && m.Count > 0 {
		return fmt.Sprintf("Found '%s' %d times", m.Keyword, m.Count)
	}
	return fmt.Sprintf("Found '%s' in context: ...%s...", m.Keyword, m.Context)
}

var (
	reContextLine = regexp.MustCompile(`^Found '(.+?)' in context: \.\.\.(.*)\.\.\.$`)
	reCountLine   = regexp.MustCompile(`^Found '(.+?)' (\d+) times$`)
)

// ParseEvidence reverses String. Lines in an unknown format are kept
// verbatim as the context.
func ParseEvidence(line string) EvidenceMatch {
	if m := reCountLine.FindStringSubmatch(line); m != nil {
		n, _ := strconv.Atoi(m[2])
		return EvidenceMatch{Keyword: m[1], Count: n, Position: -1}
	}
	if m := reContextLine.FindStringSubmatch(line); m != nil {
		return EvidenceMatch{Keyword: m[1], Context: m[2], Position: -1}
	}
	return EvidenceMatch{Context: line, Position: -1}
}

func (m EvidenceMatch) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *EvidenceMatch) UnmarshalJSON(data []byte) error {
	var line string
	if err := json.Unmarshal(data, &line); err == nil {
		*m = ParseEvidence(line)
		return nil
	}
	// Structured form, accepted for hand-written fixtures.
	type plain EvidenceMatch
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*m = EvidenceMatch(p)
	return nil
}

// CrawlResult is the outcome of probing one project in one run.
type CrawlResult struct {
	ProjectID string          `json:"project_id"`
	URL       string          `json:"url"`
	HasPAD    bool            `json:"has_pad"`
	Evidence  []EvidenceMatch `json:"evidence"`
	Links     []DocumentLink  `json:"links,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorCode string          `json:"error_code,omitempty"`
	Engine    string          `json:"engine,omitempty"`
	FetchedAt time.Time       `json:"fetched_at,omitzero"`
}

// Errored reports whether the probe failed.
func (r *CrawlResult) Errored() bool { return r.Error != "" }

// EvidenceLines returns the evidence in its persisted string form.
func (r *CrawlResult) EvidenceLines() []string {
	lines := make([]string, len(r.Evidence))
	for i, m := range r.Evidence {
		lines[i] = m.String()
	}
	return lines
}

// Summary counts the outcome classes of a set of results.
// Positive, Negative and Errored are disjoint.
type Summary struct {
	Total    int `json:"total"`
	Positive int `json:"positive"`
	Negative int `json:"negative"`
	Errored  int `json:"errored"`
}

// Add folds one result into the summary.
func (s *Summary) Add(r *CrawlResult) {
	s.Total++
	switch {
	case r.Errored():
		s.Errored++
	case r.HasPAD:
		s.Positive++
	default:
		s.Negative++
	}
}

// PositiveRate is the share of results with evidence, in percent.
func (s Summary) PositiveRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Positive) / float64(s.Total) * 100
}

// Summarize counts results.
func Summarize(results []CrawlResult) Summary {
	var s Summary
	for i := range results {
		s.Add(&results[i])
	}
	return s
}
