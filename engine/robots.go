package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"

	"github.com/use-agent/padcrawl/models"
)

// RobotsGuard wraps an Engine and refuses URLs that the host's robots.txt
// disallows for the configured user agent. robots.txt is fetched once per
// host; a host whose robots.txt cannot be loaded allows everything.
type RobotsGuard struct {
	next      Engine
	client    *http.Client
	userAgent string

	mu    sync.Mutex
	hosts map[string]*robotsEntry
}

type robotsEntry struct {
	once  sync.Once
	group *robotstxt.Group
}

// NewRobotsGuard creates a RobotsGuard. client may be nil.
func NewRobotsGuard(next Engine, client *http.Client, userAgent string) *RobotsGuard {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &RobotsGuard{
		next:      next,
		client:    client,
		userAgent: userAgent,
		hosts:     make(map[string]*robotsEntry),
	}
}

func (g *RobotsGuard) Name() string { return g.next.Name() }

// Acquire checks nothing yet; the URL is only known at Fetch time. The
// wrapped engine's tab is acquired lazily so disallowed URLs never hold one.
func (g *RobotsGuard) Acquire(ctx context.Context) (Tab, error) {
	if err := ctx.Err(); err != nil {
		return nil, CategorizeError(err, "acquire tab")
	}
	return &robotsTab{g: g}, nil
}

// Allowed reports whether rawURL may be fetched.
func (g *RobotsGuard) Allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return true
	}
	group := g.group(ctx, u)
	if group == nil {
		return true
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return group.Test(path)
}

func (g *RobotsGuard) group(ctx context.Context, u *url.URL) *robotstxt.Group {
	key := u.Scheme + "://" + u.Host

	g.mu.Lock()
	entry, ok := g.hosts[key]
	if !ok {
		entry = &robotsEntry{}
		g.hosts[key] = entry
	}
	g.mu.Unlock()

	entry.once.Do(func() {
		entry.group = g.load(context.WithoutCancel(ctx), key)
	})
	return entry.group
}

func (g *RobotsGuard) load(ctx context.Context, origin string) *robotstxt.Group {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		slog.Warn("robots.txt unavailable, allowing host", "host", origin, "error", err)
		return nil
	}
	defer resp.Body.Close()

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		slog.Warn("robots.txt unparsable, allowing host", "host", origin, "error", err)
		return nil
	}
	return data.FindGroup(g.userAgent)
}

type robotsTab struct {
	g     *RobotsGuard
	inner Tab
}

func (t *robotsTab) Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	if !t.g.Allowed(ctx, req.URL) {
		return nil, models.NewCrawlError(models.ErrCodeRobotsDisallowed,
			fmt.Sprintf("disallowed by robots.txt: %s", req.URL), nil)
	}
	if t.inner == nil {
		inner, err := t.g.next.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		t.inner = inner
	}
	return t.inner.Fetch(ctx, req)
}

func (t *robotsTab) Release() {
	if t.inner != nil {
		t.inner.Release()
		t.inner = nil
	}
}
