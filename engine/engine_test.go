package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/padcrawl/models"
)

// stubEngine returns canned results and counts tab lifecycle calls.
type stubEngine struct {
	name     string
	static   bool
	fetch    func(url string) (*FetchResult, error)
	acquired atomic.Int32
	released atomic.Int32
	fetched  atomic.Int32
}

func (e *stubEngine) Name() string { return e.name }
func (e *stubEngine) Static() bool { return e.static }

func (e *stubEngine) Acquire(ctx context.Context) (Tab, error) {
	e.acquired.Add(1)
	return &TabFunc{
		FetchFunc: func(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
			e.fetched.Add(1)
			res, err := e.fetch(req.URL)
			if res != nil {
				res.EngineName = e.name
			}
			return res, err
		},
		ReleaseFunc: func() { e.released.Add(1) },
	}, nil
}

var richPage = "<html><body><p>" + strings.Repeat("Plenty of server rendered text. ", 20) + "</p></body></html>"

const shellPage = `<html><body><div id="root"></div><script src="/app.js"></script></body></html>`

func ok(html string) func(string) (*FetchResult, error) {
	return func(string) (*FetchResult, error) { return &FetchResult{HTML: html}, nil }
}

func fail(code string) func(string) (*FetchResult, error) {
	return func(string) (*FetchResult, error) { return nil, models.NewCrawlError(code, "stub", nil) }
}

func fetchOnce(t *testing.T, eng Engine, url string) (*FetchResult, error) {
	t.Helper()
	tab, err := eng.Acquire(context.Background())
	require.NoError(t, err)
	defer tab.Release()
	return tab.Fetch(context.Background(), &FetchRequest{URL: url})
}

func TestDispatcher_StaticResultAccepted(t *testing.T) {
	httpEng := &stubEngine{name: "http", static: true, fetch: ok(richPage)}
	rodEng := &stubEngine{name: "rod", fetch: ok(richPage)}
	d := NewDispatcher([]Engine{httpEng, rodEng}, NewDomainMemory(time.Hour))

	res, err := fetchOnce(t, d, "https://a.example/p/1")
	require.NoError(t, err)
	assert.Equal(t, "http", res.EngineName)
	assert.Zero(t, rodEng.acquired.Load(), "browser tab acquired lazily")
	assert.Equal(t, int32(1), httpEng.released.Load())
}

func TestDispatcher_EscalatesShell(t *testing.T) {
	httpEng := &stubEngine{name: "http", static: true, fetch: ok(shellPage)}
	rodEng := &stubEngine{name: "rod", fetch: ok(richPage)}
	mem := NewDomainMemory(time.Hour)
	d := NewDispatcher([]Engine{httpEng, rodEng}, mem)

	res, err := fetchOnce(t, d, "https://a.example/p/1")
	require.NoError(t, err)
	assert.Equal(t, "rod", res.EngineName)
	assert.Equal(t, "rod", mem.Get("a.example"))
	assert.Equal(t, int32(1), httpEng.released.Load())
	assert.Equal(t, int32(1), rodEng.released.Load())

	// Remembered engine goes first on the next project of the same domain.
	_, err = fetchOnce(t, d, "https://a.example/p/2")
	require.NoError(t, err)
	assert.Equal(t, int32(1), httpEng.fetched.Load())
	assert.Equal(t, int32(2), rodEng.fetched.Load())
}

func TestDispatcher_ShellFallbackWhenBrowserFails(t *testing.T) {
	httpEng := &stubEngine{name: "http", static: true, fetch: ok(shellPage)}
	rodEng := &stubEngine{name: "rod", fetch: fail(models.ErrCodeBrowserCrash)}
	d := NewDispatcher([]Engine{httpEng, rodEng}, nil)

	res, err := fetchOnce(t, d, "https://a.example/")
	require.NoError(t, err)
	assert.Equal(t, "http", res.EngineName)
}

func TestDispatcher_AllFail(t *testing.T) {
	httpEng := &stubEngine{name: "http", static: true, fetch: fail(models.ErrCodeNavigation)}
	rodEng := &stubEngine{name: "rod", fetch: fail(models.ErrCodeTimeout)}
	mem := NewDomainMemory(time.Hour)
	mem.Set("a.example", "rod")
	d := NewDispatcher([]Engine{httpEng, rodEng}, mem)

	_, err := fetchOnce(t, d, "https://a.example/")
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeNavigation, models.ErrorCode(err), "last engine tried reports")
	assert.Empty(t, mem.Get("a.example"), "failed memory entry is dropped")
	assert.Equal(t, int32(1), httpEng.released.Load())
	assert.Equal(t, int32(1), rodEng.released.Load())
}

// pooledEngine draws its tabs from a page pool shared with other engines.
type pooledEngine struct {
	name  string
	pages chan struct{}
	fetch func(ctx context.Context) (*FetchResult, error)
}

func (e *pooledEngine) Name() string { return e.name }

func (e *pooledEngine) Acquire(ctx context.Context) (Tab, error) {
	select {
	case e.pages <- struct{}{}:
	case <-ctx.Done():
		return nil, CategorizeError(ctx.Err(), "waiting for a browser tab")
	}
	return &TabFunc{
		FetchFunc: func(ctx context.Context, _ *FetchRequest) (*FetchResult, error) {
			return e.fetch(ctx)
		},
		ReleaseFunc: func() { <-e.pages },
	}, nil
}

func TestDispatcher_FailedTabReturnedBeforeEscalation(t *testing.T) {
	const workers = 2
	pages := make(chan struct{}, workers)

	// Every worker holds its rod page before any of them fails, so the
	// stealth retry only finds a free page if the failed one was returned.
	var holding sync.WaitGroup
	holding.Add(workers)
	rodEng := &pooledEngine{name: "rod", pages: pages, fetch: func(ctx context.Context) (*FetchResult, error) {
		holding.Done()
		holding.Wait()
		return nil, models.NewCrawlError(models.ErrCodeNavigation, "blocked", nil)
	}}
	stealthEng := &pooledEngine{name: "rod-stealth", pages: pages, fetch: func(context.Context) (*FetchResult, error) {
		return &FetchResult{HTML: richPage, EngineName: "rod-stealth"}, nil
	}}
	d := NewDispatcher([]Engine{rodEng, stealthEng}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tab, err := d.Acquire(ctx)
			if err != nil {
				errs[i] = err
				return
			}
			defer tab.Release()
			res, err := tab.Fetch(ctx, &FetchRequest{URL: "https://a.example/p"})
			if err == nil && res.EngineName != "rod-stealth" {
				err = errors.New("unexpected engine " + res.EngineName)
			}
			errs[i] = err
		}()
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "worker %d", i)
	}
	assert.Empty(t, pages, "every page returned to the pool")
}

func TestDomainMemory_Expiry(t *testing.T) {
	mem := NewDomainMemory(time.Minute)
	now := time.Now()
	mem.now = func() time.Time { return now }
	mem.Set("a.example", "rod")
	assert.Equal(t, "rod", mem.Get("a.example"))

	now = now.Add(2 * time.Minute)
	assert.Empty(t, mem.Get("a.example"))
	assert.Zero(t, mem.Len())
}

func TestHTTPEngine_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/page":
			assert.Contains(t, r.Header.Get("User-Agent"), "Chrome")
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(`<html><head><title> Project P-1 </title><style>.x{color:red}</style></head>
<body><h1>Project Appraisal Report</h1><script>var a = 1;</script></body></html>`))
		case "/latin1":
			w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
			_, _ = w.Write([]byte("<html><body>Cr\xe9dit</body></html>"))
		case "/pdf":
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte("%PDF-1.4"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	eng := NewHTTPEngine(HTTPOptions{})

	res, err := fetchOnce(t, eng, srv.URL+"/page")
	require.NoError(t, err)
	assert.Equal(t, "Project P-1", res.Title)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "http", res.EngineName)
	assert.Equal(t, "Project Appraisal Report", res.Text)
	assert.Contains(t, res.HTML, "<style>")

	res, err = fetchOnce(t, eng, srv.URL+"/latin1")
	require.NoError(t, err)
	assert.Equal(t, "Crédit", res.Text)

	_, err = fetchOnce(t, eng, srv.URL+"/pdf")
	assert.Equal(t, models.ErrCodeNavigation, models.ErrorCode(err))

	_, err = fetchOnce(t, eng, srv.URL+"/missing")
	assert.Equal(t, models.ErrCodeNavigation, models.ErrorCode(err))
}

func TestHTTPEngine_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	eng := NewHTTPEngine(HTTPOptions{})
	tab, err := eng.Acquire(context.Background())
	require.NoError(t, err)
	defer tab.Release()

	_, err = tab.Fetch(context.Background(), &FetchRequest{URL: srv.URL, Timeout: 50 * time.Millisecond})
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeTimeout, models.ErrorCode(err))
}

func TestNeedsBrowser(t *testing.T) {
	assert.True(t, NeedsBrowser(shellPage))
	assert.False(t, NeedsBrowser(richPage))
	assert.True(t, NeedsBrowser(`<html><body>`+strings.Repeat("<p>Some real text here.</p>", 20)+
		`<noscript>Please enable JavaScript to continue</noscript></body></html>`))
}

func TestVisibleText(t *testing.T) {
	html := `<html><head><title>T</title></head><body>
<p>One</p><script>ignored()</script><style>p{}</style><noscript>hidden</noscript><p>Two</p></body></html>`
	assert.Equal(t, "One Two", VisibleText(html))
}

func TestCategorizeError(t *testing.T) {
	assert.Equal(t, models.ErrCodeTimeout, CategorizeError(context.DeadlineExceeded, "x").Code)
	assert.Equal(t, models.ErrCodeNavigation, CategorizeError(errors.New("boom"), "x").Code)

	robots := models.NewCrawlError(models.ErrCodeRobotsDisallowed, "no", nil)
	assert.Same(t, robots, CategorizeError(robots, "x"))
}
