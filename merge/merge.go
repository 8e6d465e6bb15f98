// Package merge reconciles crawl results from several runs into one canonical
// status per project.
package merge

import (
	"strings"
	"unicode/utf8"

	"github.com/use-agent/padcrawl/models"
)

// NoEvidence is the evidence summary of a project without evidence lines.
const NoEvidence = "No PAD evidence found"

const (
	summaryLines = 2
	summaryMax   = 100
)

// Source is one set of results, typically one batch file or one stored batch.
type Source struct {
	ID      string
	Results []models.CrawlResult
}

// Merge folds sources over the original record list. Sources are ordered
// oldest to newest; when a project appears in several, the later source wins.
//
// The output has exactly one record per distinct id of original, in the order
// ids first appear. Projects absent from every source are Unknown. Merge does
// not modify its inputs.
func Merge(original []models.ProjectRecord, sources []Source) []models.CanonicalRecord {
	type winner struct {
		result *models.CrawlResult
		source string
	}
	latest := make(map[string]winner)
	for si := range sources {
		src := &sources[si]
		for ri := range src.Results {
			r := &src.Results[ri]
			latest[r.ProjectID] = winner{result: r, source: src.ID}
		}
	}

	out := make([]models.CanonicalRecord, 0, len(original))
	seen := make(map[string]bool, len(original))
	for _, rec := range original {
		if seen[rec.ID] {
			continue
		}
		seen[rec.ID] = true

		c := models.CanonicalRecord{ProjectID: rec.ID, URL: rec.URL, Status: models.PadUnknown}
		if w, ok := latest[rec.ID]; ok {
			c.Status = models.StatusOf(w.result.HasPAD)
			c.EvidenceSummary = Summary(w.result.EvidenceLines())
			c.Source = w.source
			if c.URL == "" {
				c.URL = w.result.URL
			}
		}
		out = append(out, c)
	}
	return out
}

// Summary condenses evidence lines: the first two joined by "; ", cut to 100
// characters with a trailing "...".
func Summary(lines []string) string {
	if len(lines) == 0 {
		return NoEvidence
	}
	s := strings.Join(lines[:min(len(lines), summaryLines)], "; ")
	if utf8.RuneCountInString(s) <= summaryMax {
		return s
	}
	return string([]rune(s)[:summaryMax]) + "..."
}

// StatusIndex maps project ids to their canonical status.
func StatusIndex(canon []models.CanonicalRecord) map[string]models.PadStatus {
	idx := make(map[string]models.PadStatus, len(canon))
	for _, c := range canon {
		idx[c.ProjectID] = c.Status
	}
	return idx
}

// Links collects harvested document links from all sources. A link is
// identified by (project, url); the later source wins on its text. Order is
// first appearance.
func Links(sources []Source) []models.DocumentLink {
	type key struct{ project, url string }
	pos := make(map[key]int)
	var out []models.DocumentLink
	for _, src := range sources {
		for _, r := range src.Results {
			for _, l := range r.Links {
				k := key{l.ProjectID, l.URL}
				if i, ok := pos[k]; ok {
					out[i] = l
					continue
				}
				pos[k] = len(out)
				out = append(out, l)
			}
		}
	}
	return out
}
