package engine

import (
	"context"
	"time"

	"github.com/use-agent/padcrawl/models"
)

// Engine is a page renderer. A probe acquires one Tab, fetches through it
// and releases it on every exit path.
type Engine interface {
	// Name returns the engine identifier (e.g. "http", "rod", "rod-stealth").
	Name() string

	// Acquire reserves a rendering resource. It blocks until one is free or
	// ctx is done.
	Acquire(ctx context.Context) (Tab, error)
}

// Tab is a rendering resource held by a single probe.
type Tab interface {
	// Fetch renders req.URL.
	Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error)

	// Release returns the resource. It is safe to call more than once.
	Release()
}

// FetchRequest contains everything an engine needs to fetch a page.
type FetchRequest struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration

	// Settle is the extra wait after the page is stable.
	Settle time.Duration

	// BlockedResources lists browser resource types not to load.
	BlockedResources []string
}

// FetchResult is the output of a successful engine fetch.
type FetchResult struct {
	HTML       string
	Text       string // visible text, scripts and styles removed
	Title      string
	StatusCode int
	FinalURL   string
	EngineName string

	// Anchors in DOM order, when the engine collects them itself.
	Anchors []models.Anchor
}

// TabFunc adapts a fetch function to a Tab with a release callback.
type TabFunc struct {
	FetchFunc   func(ctx context.Context, req *FetchRequest) (*FetchResult, error)
	ReleaseFunc func()
	released    bool
}

func (t *TabFunc) Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	return t.FetchFunc(ctx, req)
}

func (t *TabFunc) Release() {
	if t.released {
		return
	}
	t.released = true
	if t.ReleaseFunc != nil {
		t.ReleaseFunc()
	}
}
