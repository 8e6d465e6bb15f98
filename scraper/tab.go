package scraper

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/use-agent/padcrawl/engine"
	"github.com/use-agent/padcrawl/models"
)

// Tab is a pooled browser page held by one probe.
type Tab struct {
	s      *Scraper
	page   *rod.Page
	health *pageHealth
	failed bool
	done   bool
}

// Release returns the page to the pool. Safe to call more than once.
func (t *Tab) Release() {
	if t.done {
		return
	}
	t.done = true
	t.s.release(t.page, t.health, !t.failed)
}

// Fetch renders req.URL in the page.
//
// Lifecycle:
//
//  1. Timeout guard     – hard deadline on the whole render
//  2. Extra headers     – custom headers + search Referer
//  3. Hijack mount      – block heavy resource types (before navigation!)
//  4. Context binding   – propagate the deadline to all Rod operations
//  5. Navigate
//  6. Wait              – DOM stable, then the settle time for late scripts
//  7. Extract           – HTML, title, final URL, status, anchors
//
// Cleanup (about:blank + pool return) happens in Release, using the page
// reference without the request context so it succeeds after a timeout.
func (t *Tab) Fetch(ctx context.Context, req *engine.FetchRequest) (res *engine.FetchResult, err error) {
	defer func() {
		if err != nil {
			t.failed = true
		}
	}()

	// ── 1. Timeout guard ──────────────────────────────────────────────
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	// ── 2. Extra headers ──────────────────────────────────────────────
	extraHeaders := make(map[string]string, len(req.Headers)+1)
	if _, hasReferer := req.Headers["Referer"]; !hasReferer {
		if u, parseErr := url.Parse(req.URL); parseErr == nil {
			extraHeaders["Referer"] = "https://www.google.com/search?q=" + url.QueryEscape(u.Hostname())
		}
	}
	for k, v := range req.Headers {
		extraHeaders[k] = v
	}
	_ = proto.NetworkSetExtraHTTPHeaders{Headers: toHeadersMap(extraHeaders)}.Call(t.page)

	// ── 3. Hijack mount ───────────────────────────────────────────────
	if router := setupHijack(t.page, req.BlockedResources); router != nil {
		defer func() { _ = router.Stop() }()
	}

	// ── 4. Bind request context to page ───────────────────────────────
	p := t.page.Context(ctx)

	// ── 5. Navigate ───────────────────────────────────────────────────
	if navErr := p.Navigate(req.URL); navErr != nil {
		return nil, engine.CategorizeError(navErr, "navigation to target URL failed")
	}

	// ── 6. Wait ───────────────────────────────────────────────────────
	if stableErr := p.WaitDOMStable(300*time.Millisecond, 0.1); stableErr != nil {
		slog.Debug("WaitDOMStable did not converge, proceeding with current DOM", "error", stableErr)
	}
	if req.Settle > 0 {
		select {
		case <-ctx.Done():
			return nil, engine.CategorizeError(ctx.Err(), "page did not settle in time")
		case <-time.After(req.Settle):
		}
	}

	// ── 7. Extract ────────────────────────────────────────────────────
	rawHTML, htmlErr := p.HTML()
	if htmlErr != nil {
		return nil, engine.CategorizeError(htmlErr, "failed to extract page HTML")
	}

	finalURL := evalStringOrEmpty(p, `() => window.location.href`)
	if finalURL == "" {
		finalURL = req.URL
	}

	return &engine.FetchResult{
		HTML:       rawHTML,
		Text:       engine.VisibleText(rawHTML),
		Title:      evalStringOrEmpty(p, `() => document.title`),
		StatusCode: navigationStatus(p),
		FinalURL:   finalURL,
		EngineName: "rod",
		Anchors:    collectAnchors(p),
	}, nil
}

// navigationStatus reads the HTTP status from the Navigation Timing API,
// which works without CDP network listeners. Best-effort; 0 when unknown.
func navigationStatus(p *rod.Page) int {
	res, err := p.Eval(`() => {
		try {
			const entries = performance.getEntriesByType("navigation");
			if (entries.length > 0) return entries[0].responseStatus || 0;
		} catch(e) {}
		return 0;
	}`)
	if err != nil {
		return 0
	}
	return res.Value.Int()
}

// collectAnchors returns every a[href] in DOM order. The href property is
// already absolute. Returns nil on failure; callers fall back to parsing HTML.
func collectAnchors(p *rod.Page) []models.Anchor {
	res, err := p.Eval(`() => Array.from(document.querySelectorAll("a[href]"), a => ({
		href: a.href || "",
		text: (a.innerText || a.textContent || "").trim(),
	}))`)
	if err != nil {
		slog.Debug("anchor collection failed", "error", err)
		return nil
	}

	items := res.Value.Arr()
	anchors := make([]models.Anchor, 0, len(items))
	for _, item := range items {
		anchors = append(anchors, models.Anchor{
			Href: item.Get("href").Str(),
			Text: item.Get("text").Str(),
		})
	}
	return anchors
}

// evalStringOrEmpty evaluates a JS expression and returns the string result,
// swallowing any errors (useful for optional metadata extraction).
func evalStringOrEmpty(page *rod.Page, js string) string {
	res, err := page.Eval(js)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}
