// Package scraper owns the headless Chromium process and its page pool.
package scraper

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/use-agent/padcrawl/config"
	"github.com/use-agent/padcrawl/engine"
	"github.com/use-agent/padcrawl/models"
)

// Scraper manages the global browser lifecycle and the page pool.
// It is safe for concurrent use.
type Scraper struct {
	browser     *rod.Browser
	pagePool    rod.Pool[rod.Page]
	browserCfg  config.BrowserConfig
	activePages atomic.Int32

	mu     sync.Mutex
	health map[*rod.Page]*pageHealth
}

// NewScraper launches a headless browser and initialises the reusable page pool.
func NewScraper(browserCfg config.BrowserConfig) (*Scraper, error) {
	l := launcher.New().
		Headless(browserCfg.Headless).
		NoSandbox(browserCfg.NoSandbox)

	if browserCfg.BrowserBin != "" {
		l = l.Bin(browserCfg.BrowserBin)
	}
	if browserCfg.DefaultProxy != "" {
		l = l.Proxy(browserCfg.DefaultProxy)
	}

	// ── Stealth flags ────────────────────────────────────────────────
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("disable-gpu"))
	l.Set(flags.Flag("window-size"), "1920,1080")
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, models.NewCrawlError(models.ErrCodeBrowserCrash, "failed to launch browser", err)
	}
	slog.Info("browser launched", "controlURL", controlURL)

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, models.NewCrawlError(models.ErrCodeBrowserCrash, "failed to connect to browser", err)
	}

	pool := rod.NewPagePool(browserCfg.MaxPages)
	slog.Info("page pool created", "maxPages", browserCfg.MaxPages)

	return &Scraper{
		browser:    browser,
		pagePool:   pool,
		browserCfg: browserCfg,
		health:     make(map[*rod.Page]*pageHealth),
	}, nil
}

// AcquireTab borrows a page from the pool, blocking until one is free or ctx
// is done. The returned Tab must be released.
func (s *Scraper) AcquireTab(ctx context.Context, withStealth bool) (engine.Tab, error) {
	var page *rod.Page
	select {
	case page = <-s.pagePool:
	case <-ctx.Done():
		return nil, engine.CategorizeError(ctx.Err(), "waiting for a browser tab")
	}

	if page == nil {
		created, err := s.browser.Page(proto.TargetCreateTarget{})
		if err != nil {
			s.pagePool.Put(nil)
			return nil, models.NewCrawlError(models.ErrCodeBrowserCrash, "failed to create page", err)
		}
		page = created
	}

	h := s.healthOf(page)
	if withStealth && !h.stealth {
		// Applies to every later navigation of this page.
		if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
			slog.Warn("stealth injection failed, proceeding without stealth", "error", err)
		} else {
			h.stealth = true
		}
	}

	s.activePages.Add(1)
	return &Tab{s: s, page: page, health: h}, nil
}

func (s *Scraper) healthOf(page *rod.Page) *pageHealth {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.health[page]
	if !ok {
		h = newPageHealth()
		s.health[page] = h
	}
	return h
}

// release returns a page to the pool, or closes it and frees its slot when
// it has become unhealthy.
func (s *Scraper) release(page *rod.Page, h *pageHealth, ok bool) {
	defer s.activePages.Add(-1)

	if ok {
		h.recordSuccess()
	} else {
		h.recordFailure()
	}

	if h.shouldRetire() {
		slog.Debug("retiring browser page", "uses", h.uses, "errScore", h.errScore)
		s.mu.Lock()
		delete(s.health, page)
		s.mu.Unlock()
		_ = page.Close()
		s.pagePool.Put(nil)
		return
	}

	// Prevent DOM memory from accumulating across projects.
	if err := page.Navigate("about:blank"); err != nil {
		slog.Warn("cleanup: failed to navigate to about:blank", "error", err)
	}
	s.pagePool.Put(page)
}

// Stats returns a snapshot of the pool's current state.
func (s *Scraper) Stats() models.PoolStats {
	return models.PoolStats{
		MaxTabs:    s.browserCfg.MaxPages,
		ActiveTabs: int(s.activePages.Load()),
	}
}

// Close drains the page pool and kills the browser process.
// Call this on graceful shutdown to prevent zombie Chrome processes.
func (s *Scraper) Close() {
	slog.Info("scraper shutting down: draining page pool")
	s.pagePool.Cleanup(func(p *rod.Page) {
		_ = p.Close()
	})
	slog.Info("scraper shutting down: closing browser")
	if err := s.browser.Close(); err != nil {
		slog.Warn("browser close failed", "error", err)
	}
	slog.Info("scraper shutdown complete")
}
