// Package harvest picks candidate document links out of a page's anchors.
package harvest

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/use-agent/padcrawl/models"
)

// Config parameterizes a Harvester.
type Config struct {
	// Terms are matched against the lower-cased anchor text.
	Terms []string

	// ScopeSelector, when set, limits AnchorsFromHTML to anchors inside
	// elements matching this CSS selector.
	ScopeSelector string
}

// Harvester filters anchors down to document-like links. It is immutable
// after New and safe for concurrent use.
type Harvester struct {
	terms []string
	scope cascadia.Selector
}

// New validates the scope selector and normalizes the terms.
func New(cfg Config) (*Harvester, error) {
	h := &Harvester{}
	for _, t := range cfg.Terms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			h.terms = append(h.terms, t)
		}
	}
	if cfg.ScopeSelector != "" {
		sel, err := cascadia.Compile(cfg.ScopeSelector)
		if err != nil {
			return nil, fmt.Errorf("harvest: scope selector %q: %w", cfg.ScopeSelector, err)
		}
		h.scope = sel
	}
	return h, nil
}

// Scoped reports whether a scope selector is configured. Renderer-supplied
// anchor lists are unscoped, so callers re-collect anchors from HTML then.
func (h *Harvester) Scoped() bool { return h.scope != nil }

// Harvest returns the qualifying anchors in input order. An anchor that
// cannot be processed is skipped; Harvest never fails.
func (h *Harvester) Harvest(anchors []models.Anchor, projectID string) []models.DocumentLink {
	var links []models.DocumentLink
	for i := range anchors {
		if link, ok := h.qualify(&anchors[i], projectID); ok {
			links = append(links, link)
		}
	}
	return links
}

func (h *Harvester) qualify(a *models.Anchor, projectID string) (link models.DocumentLink, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("harvest: anchor skipped", "project", projectID, "panic", r)
			ok = false
		}
	}()

	href := strings.TrimSpace(a.Href)
	if href == "" {
		return link, false
	}
	text := strings.Join(strings.Fields(a.Text), " ")
	lower := strings.ToLower(text)
	for _, t := range h.terms {
		if strings.Contains(lower, t) {
			return models.DocumentLink{ProjectID: projectID, Text: text, URL: href}, true
		}
	}
	return link, false
}

// AnchorsFromHTML collects every a[href] in document order with hrefs
// resolved against baseURL. Unresolvable hrefs are skipped.
func (h *Harvester) AnchorsFromHTML(rawHTML, baseURL string) []models.Anchor {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil
	}
	base, _ := url.Parse(baseURL)

	sel := doc.Selection
	if h.scope != nil {
		sel = doc.FindMatcher(h.scope)
	}

	var anchors []models.Anchor
	sel.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}
		if base != nil {
			resolved, err := base.Parse(href)
			if err != nil {
				return
			}
			href = resolved.String()
		}
		anchors = append(anchors, models.Anchor{Href: href, Text: strings.TrimSpace(s.Text())})
	})
	return anchors
}
