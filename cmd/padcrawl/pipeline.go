package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/use-agent/padcrawl/api/handler"
	"github.com/use-agent/padcrawl/config"
	"github.com/use-agent/padcrawl/crawl"
	"github.com/use-agent/padcrawl/engine"
	"github.com/use-agent/padcrawl/evidence"
	"github.com/use-agent/padcrawl/harvest"
	"github.com/use-agent/padcrawl/scraper"
)

// domainMemoryTTL is how long the dispatcher remembers which engine worked
// for a host.
const domainMemoryTTL = 24 * time.Hour

// renderer is the engine chosen by the fetch mode plus what it owns.
type renderer struct {
	engine engine.Engine
	stats  handler.PoolStatsFunc
	close  func()
}

// newRenderer builds the engine stack for cfg. The browser is launched only
// when the fetch mode needs it.
func newRenderer(cfg *config.Config) (*renderer, error) {
	httpEngine := engine.NewHTTPEngine(engine.HTTPOptions{
		UserAgent: cfg.Render.UserAgent,
		Proxy:     cfg.Browser.DefaultProxy,
	})

	r := &renderer{close: func() {}}
	switch cfg.Render.FetchMode {
	case config.FetchHTTP:
		r.engine = httpEngine

	case config.FetchBrowser, config.FetchAuto:
		sc, err := scraper.NewScraper(cfg.Browser)
		if err != nil {
			return nil, fmt.Errorf("failed to initialise browser: %w", err)
		}
		r.close = sc.Close
		r.stats = sc.Stats

		rodEngine := engine.NewRodEngine(sc.AcquireTab, cfg.Render.Stealth)
		if cfg.Render.FetchMode == config.FetchBrowser {
			r.engine = rodEngine
			break
		}

		engines := []engine.Engine{httpEngine, rodEngine}
		if !cfg.Render.Stealth {
			engines = append(engines, engine.NewRodEngine(sc.AcquireTab, true))
		}
		r.engine = engine.NewDispatcher(engines, engine.NewDomainMemory(domainMemoryTTL))
		slog.Info("multi-engine dispatcher enabled", "engines", len(engines))

	default:
		return nil, fmt.Errorf("unknown fetch mode %q", cfg.Render.FetchMode)
	}

	if cfg.Render.RespectRobots {
		r.engine = engine.NewRobotsGuard(r.engine, nil, cfg.Render.UserAgent)
	}
	return r, nil
}

// newProber wires the extractor and harvester configured in cfg around eng.
func newProber(cfg *config.Config, eng engine.Engine) (*crawl.Prober, error) {
	ex, err := evidence.New(evidence.Config{
		Keywords:       cfg.Evidence.Keywords,
		NoiseTerms:     cfg.Evidence.NoiseTerms,
		ContextWidth:   cfg.Evidence.ContextWidth,
		MaxEvidence:    cfg.Evidence.MaxEvidence,
		CaptureContext: *cfg.Evidence.CaptureContext,
		FilterNoise:    *cfg.Evidence.FilterNoise,
		ShortCircuit:   *cfg.Evidence.ShortCircuit,
	})
	if err != nil {
		return nil, err
	}

	var hv *harvest.Harvester
	if *cfg.Harvest.Enabled {
		hv, err = harvest.New(harvest.Config{
			Terms:         cfg.Harvest.Terms,
			ScopeSelector: cfg.Harvest.ScopeSelector,
		})
		if err != nil {
			return nil, err
		}
	}

	return &crawl.Prober{
		Engine:           eng,
		Extractor:        ex,
		Harvester:        hv,
		Timeout:          cfg.Render.Timeout,
		Settle:           cfg.Render.Settle,
		Source:           cfg.Evidence.Source,
		BlockedResources: cfg.Render.BlockedResourceTypes,
	}, nil
}
