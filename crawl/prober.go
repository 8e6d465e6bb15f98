// Package crawl turns one project record into one crawl result.
package crawl

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/use-agent/padcrawl/engine"
	"github.com/use-agent/padcrawl/evidence"
	"github.com/use-agent/padcrawl/harvest"
	"github.com/use-agent/padcrawl/models"
)

// Evidence sources.
const (
	SourceHTML = "html"
	SourceText = "text"
)

// Prober combines a renderer, the evidence extractor and the link harvester
// into a single per-project probe.
type Prober struct {
	Engine    engine.Engine
	Extractor *evidence.Extractor

	// Harvester is optional; nil disables link harvesting.
	Harvester *harvest.Harvester

	// Timeout bounds the whole probe, including waiting for a tab.
	Timeout time.Duration
	Settle  time.Duration

	// Source selects what the extractor scans: SourceHTML (rendered markup)
	// or SourceText (visible text only).
	Source           string
	BlockedResources []string

	now func() time.Time
}

// Probe fetches rec.URL and reports what it found. It never returns an
// error: every failure, including a panic in extraction, becomes a result
// with Error set and HasPAD false. The renderer tab is released on every path.
func (p *Prober) Probe(ctx context.Context, rec models.ProjectRecord) (result models.CrawlResult) {
	result = models.CrawlResult{ProjectID: rec.ID, URL: rec.URL, Evidence: []models.EvidenceMatch{}}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("probe panicked", "project", rec.ID, "url", rec.URL, "panic", r)
			result = failed(rec, models.NewCrawlError(models.ErrCodeExtraction,
				fmt.Sprintf("panic: %v", r), nil), p.engineName(), p.clock())
		}
		result.FetchedAt = p.clock()
	}()

	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	tab, err := p.Engine.Acquire(ctx)
	if err != nil {
		return failed(rec, engine.CategorizeError(err, "acquire renderer"), p.engineName(), p.clock())
	}
	defer tab.Release()

	page, err := tab.Fetch(ctx, &engine.FetchRequest{
		URL:              rec.URL,
		Timeout:          p.Timeout,
		Settle:           p.Settle,
		BlockedResources: p.BlockedResources,
	})
	if err != nil {
		return failed(rec, engine.CategorizeError(err, "render failed"), p.engineName(), p.clock())
	}
	result.Engine = page.EngineName

	text := page.HTML
	if p.Source == SourceText {
		text = page.Text
	}
	found := p.Extractor.Extract(text)
	result.HasPAD = found.HasEvidence
	if found.HasEvidence {
		result.Evidence = found.Evidence
	}

	if p.Harvester != nil {
		result.Links = p.Harvester.Harvest(p.anchors(page, rec.URL), rec.ID)
	}
	return result
}

// anchors prefers the renderer's own anchor list; a scoped harvester needs
// the markup to apply its selector.
func (p *Prober) anchors(page *engine.FetchResult, pageURL string) []models.Anchor {
	if page.Anchors != nil && !p.Harvester.Scoped() {
		return page.Anchors
	}
	base := page.FinalURL
	if base == "" {
		base = pageURL
	}
	return p.Harvester.AnchorsFromHTML(page.HTML, base)
}

func (p *Prober) engineName() string {
	if p.Engine == nil {
		return ""
	}
	return p.Engine.Name()
}

func (p *Prober) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now().UTC()
}

func failed(rec models.ProjectRecord, err *models.CrawlError, engineName string, at time.Time) models.CrawlResult {
	return models.CrawlResult{
		ProjectID: rec.ID,
		URL:       rec.URL,
		Evidence:  []models.EvidenceMatch{},
		Error:     err.Error(),
		ErrorCode: err.Code,
		Engine:    engineName,
		FetchedAt: at,
	}
}
