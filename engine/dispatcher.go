package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
)

// Dispatcher is an Engine that escalates through several engines in order,
// lightest first. A tab from each engine is acquired only when that engine is
// tried. Tabs of engines that failed or were escalated past are released
// before the next engine is tried, so a probe holds at most one tab at a time
// and engines sharing one browser page pool cannot starve each other.
type Dispatcher struct {
	engines []Engine
	memory  *DomainMemory
}

// staticEngine is implemented by engines that return HTML without running
// page scripts.
type staticEngine interface {
	Static() bool
}

// Static reports that the HTTP engine does not execute JavaScript.
func (e *HTTPEngine) Static() bool { return true }

// NewDispatcher creates a Dispatcher. memory may be nil.
func NewDispatcher(engines []Engine, memory *DomainMemory) *Dispatcher {
	return &Dispatcher{engines: engines, memory: memory}
}

func (d *Dispatcher) Name() string { return "auto" }

func (d *Dispatcher) Acquire(ctx context.Context) (Tab, error) {
	if err := ctx.Err(); err != nil {
		return nil, CategorizeError(err, "acquire tab")
	}
	return &dispatchTab{d: d, tabs: make(map[string]Tab)}, nil
}

type dispatchTab struct {
	d    *Dispatcher
	tabs map[string]Tab
}

func (t *dispatchTab) tab(ctx context.Context, eng Engine) (Tab, error) {
	if tab, ok := t.tabs[eng.Name()]; ok {
		return tab, nil
	}
	tab, err := eng.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	t.tabs[eng.Name()] = tab
	return tab, nil
}

// drop releases the tab held for eng, if any.
func (t *dispatchTab) drop(eng Engine) {
	if tab, ok := t.tabs[eng.Name()]; ok {
		tab.Release()
		delete(t.tabs, eng.Name())
	}
}

func (t *dispatchTab) Release() {
	for name, tab := range t.tabs {
		tab.Release()
		delete(t.tabs, name)
	}
}

// order returns the engines to try, with the domain's remembered engine first.
func (t *dispatchTab) order(domain string) (engines []Engine, remembered string) {
	if t.d.memory != nil {
		remembered = t.d.memory.Get(domain)
	}
	if remembered == "" {
		return t.d.engines, ""
	}
	engines = make([]Engine, 0, len(t.d.engines))
	for _, eng := range t.d.engines {
		if eng.Name() == remembered {
			engines = append(engines, eng)
		}
	}
	for _, eng := range t.d.engines {
		if eng.Name() != remembered {
			engines = append(engines, eng)
		}
	}
	return engines, remembered
}

// Fetch tries each engine in turn and returns the first acceptable result.
// A static result that looks like an unrendered JavaScript shell escalates to
// the next engine, but is returned if every heavier engine fails.
func (t *dispatchTab) Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	domain := extractDomain(req.URL)
	engines, remembered := t.order(domain)
	if remembered != "" {
		slog.Debug("domain memory hit", "domain", domain, "engine", remembered)
	}

	var (
		lastErr  error
		fallback *FetchResult
	)
	for i, eng := range engines {
		if err := ctx.Err(); err != nil {
			lastErr = CategorizeError(err, "escalation stopped")
			break
		}

		tab, err := t.tab(ctx, eng)
		if err != nil {
			slog.Debug("engine acquire failed", "engine", eng.Name(), "url", req.URL, "error", err)
			lastErr = err
			continue
		}

		result, err := tab.Fetch(ctx, req)
		if err != nil {
			slog.Debug("engine failed", "engine", eng.Name(), "url", req.URL, "error", err)
			lastErr = err
			if eng.Name() == remembered && t.d.memory != nil {
				t.d.memory.Delete(domain)
			}
			t.drop(eng)
			continue
		}

		if s, ok := eng.(staticEngine); ok && s.Static() && i < len(engines)-1 && NeedsBrowser(result.HTML) {
			slog.Debug("static result needs a browser, escalating", "engine", eng.Name(), "url", req.URL)
			fallback = result
			t.drop(eng)
			continue
		}

		if t.d.memory != nil {
			t.d.memory.Set(domain, eng.Name())
		}
		return result, nil
	}

	if fallback != nil {
		slog.Warn("browser escalation failed, using static result", "url", req.URL, "error", lastErr)
		return fallback, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("dispatcher: no engines configured for %s", req.URL)
	}
	return nil, lastErr
}

// extractDomain parses the hostname from a URL string.
func extractDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Hostname()
}
