// Package evidence finds appraisal-document keywords in rendered pages and
// builds the bounded evidence snippets reported for a positive detection.
package evidence

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/use-agent/padcrawl/models"
)

// Config parameterizes an Extractor. The mode profiles in package config
// provide the two standard parameter sets.
type Config struct {
	// Keywords are matched case-insensitively, in order.
	Keywords []string

	// NoiseTerms discard a hit whose context window contains any of them.
	NoiseTerms []string

	// ContextWidth is the number of runes kept on each side of a hit.
	ContextWidth int

	// MaxEvidence caps the reported evidence list. Zero or negative means
	// no cap.
	MaxEvidence int

	// CaptureContext reports one match per hit with its context window.
	// When false, one match per keyword carries only the hit count.
	CaptureContext bool

	// FilterNoise enables the noise vocabulary.
	FilterNoise bool

	// ShortCircuit stops at the first keyword that has a hit.
	ShortCircuit bool
}

// Result is the outcome of scanning one page.
type Result struct {
	// HasEvidence is computed from every surviving hit, never from the
	// capped Evidence list.
	HasEvidence bool

	// Evidence holds at most MaxEvidence matches in keyword order.
	Evidence []models.EvidenceMatch

	// Total is the number of hits that survived the noise filter.
	Total int
}

// Extractor scans page text for keywords. It is immutable after New and safe
// for concurrent use.
type Extractor struct {
	cfg      Config
	patterns []*regexp.Regexp
	noise    []string
}

// New compiles one case-insensitive pattern per keyword.
func New(cfg Config) (*Extractor, error) {
	if len(cfg.Keywords) == 0 {
		return nil, errors.New("evidence: at least one keyword is required")
	}
	if cfg.ContextWidth < 0 {
		cfg.ContextWidth = 0
	}

	e := &Extractor{cfg: cfg}
	for _, kw := range cfg.Keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			return nil, errors.New("evidence: empty keyword")
		}
		e.patterns = append(e.patterns, regexp.MustCompile(`(?i)`+regexp.QuoteMeta(kw)))
	}
	for _, n := range cfg.NoiseTerms {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
			e.noise = append(e.noise, n)
		}
	}
	return e, nil
}

// Extract scans text for every keyword.
func (e *Extractor) Extract(text string) Result {
	var res Result
	for i, re := range e.patterns {
		kw := e.cfg.Keywords[i]
		locs := re.FindAllStringIndex(text, -1)
		if len(locs) == 0 {
			continue
		}

		hits := 0
		seen := newNearDuplicates(nearDuplicateDistance)
		for _, loc := range locs {
			window := ""
			if e.cfg.CaptureContext || e.cfg.FilterNoise {
				window = contextWindow(text, loc[0], loc[1], e.cfg.ContextWidth)
				if e.cfg.FilterNoise && e.isNoise(window) {
					continue
				}
			}
			hits++
			if !e.cfg.CaptureContext || !seen.add(window) {
				continue
			}
			res.Evidence = append(res.Evidence, models.EvidenceMatch{
				Keyword:  kw,
				Context:  window,
				Position: loc[0],
			})
		}
		if hits == 0 {
			continue
		}

		if !e.cfg.CaptureContext {
			res.Evidence = append(res.Evidence, models.EvidenceMatch{
				Keyword:  kw,
				Position: locs[0][0],
				Count:    hits,
			})
		}
		res.Total += hits
		if e.cfg.ShortCircuit {
			break
		}
	}

	res.HasEvidence = res.Total > 0
	if e.cfg.MaxEvidence > 0 && len(res.Evidence) > e.cfg.MaxEvidence {
		res.Evidence = res.Evidence[:e.cfg.MaxEvidence]
	}
	return res
}

func (e *Extractor) isNoise(window string) bool {
	lower := strings.ToLower(window)
	for _, n := range e.noise {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}

// contextWindow returns up to width runes on each side of text[start:end],
// with newline runs collapsed to one space and the result trimmed.
func contextWindow(text string, start, end, width int) string {
	from := start
	for n := 0; n < width && from > 0; n++ {
		_, size := utf8.DecodeLastRuneInString(text[:from])
		from -= size
	}
	to := end
	for n := 0; n < width && to < len(text); n++ {
		_, size := utf8.DecodeRuneInString(text[to:])
		to += size
	}
	return strings.TrimSpace(collapseNewlines(text[from:to]))
}

func collapseNewlines(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	inBreak := false
	for _, r := range s {
		if r == '\n' || r == '\r' {
			if !inBreak {
				b.WriteByte(' ')
				inBreak = true
			}
			continue
		}
		inBreak = false
		b.WriteRune(r)
	}
	return b.String()
}
