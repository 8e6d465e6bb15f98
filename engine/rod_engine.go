package engine

import (
	"context"
	"fmt"
)

// RodAcquireFunc borrows a browser tab. It is injected from main to avoid an
// import cycle (engine/ -> scraper/).
type RodAcquireFunc func(ctx context.Context, stealth bool) (Tab, error)

// RodEngine is a browser-based engine that delegates to the rod page pool
// via a callback. The stealth flag distinguishes "rod" from "rod-stealth".
type RodEngine struct {
	acquire RodAcquireFunc
	stealth bool
	name    string
}

// NewRodEngine creates a RodEngine.
func NewRodEngine(acquire RodAcquireFunc, stealth bool) *RodEngine {
	name := "rod"
	if stealth {
		name = "rod-stealth"
	}
	return &RodEngine{acquire: acquire, stealth: stealth, name: name}
}

func (e *RodEngine) Name() string { return e.name }

func (e *RodEngine) Acquire(ctx context.Context) (Tab, error) {
	if e.acquire == nil {
		return nil, fmt.Errorf("%s: acquire not configured", e.name)
	}
	tab, err := e.acquire(ctx, e.stealth)
	if err != nil {
		return nil, err
	}
	return &namedTab{Tab: tab, name: e.name}, nil
}

// namedTab stamps results with the engine name.
type namedTab struct {
	Tab
	name string
}

func (t *namedTab) Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	res, err := t.Tab.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	res.EngineName = t.name
	return res, nil
}
