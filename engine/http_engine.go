package engine

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	tls "github.com/refraction-networking/utls"
	"golang.org/x/net/html/charset"

	"github.com/use-agent/padcrawl/models"
)

// DefaultUserAgent is sent when no user agent is configured.
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// maxBody caps how much of a response body is read.
const maxBody = 10 << 20

// HTTPEngine fetches pages without a browser. It is the fastest option,
// suitable for static pages that don't need JavaScript rendering.
type HTTPEngine struct {
	client    *http.Client
	userAgent string
}

// chromeH1Spec is a Chrome-like TLS ClientHello with ALPN forced to http/1.1
// only. Computed once at init time and reused for every connection.
var chromeH1Spec tls.ClientHelloSpec

func init() {
	spec, err := tls.UTLSIdToSpec(tls.HelloChrome_Auto)
	if err != nil {
		return
	}
	// Go's http.Transport cannot speak h2 over a utls connection.
	for i, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			spec.Extensions[i] = alpn
			break
		}
	}
	chromeH1Spec = spec
}

// HTTPOptions configures an HTTPEngine.
type HTTPOptions struct {
	UserAgent string
	Proxy     string // http(s) proxy URL; empty for direct connections
}

// NewHTTPEngine creates an HTTPEngine with a Chrome-like TLS fingerprint.
func NewHTTPEngine(opts HTTPOptions) *HTTPEngine {
	transport := &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{Timeout: 10 * time.Second}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			host, _, _ := net.SplitHostPort(addr)
			tlsConn := tls.UClient(conn, &tls.Config{ServerName: host}, tls.HelloCustom)
			if err := tlsConn.ApplyPreset(&chromeH1Spec); err != nil {
				conn.Close()
				return nil, fmt.Errorf("http_engine: apply tls spec: %w", err)
			}
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				conn.Close()
				return nil, err
			}
			return tlsConn, nil
		},
		ForceAttemptHTTP2:   false,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	if opts.Proxy != "" {
		if proxyURL, err := url.Parse(opts.Proxy); err == nil && (proxyURL.Scheme == "http" || proxyURL.Scheme == "https") {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	return &HTTPEngine{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		userAgent: ua,
	}
}

func (e *HTTPEngine) Name() string { return "http" }

// Acquire returns a Tab backed by the shared client. Nothing is reserved, so
// it only fails when ctx is already done.
func (e *HTTPEngine) Acquire(ctx context.Context) (Tab, error) {
	if err := ctx.Err(); err != nil {
		return nil, CategorizeError(err, "acquire http tab")
	}
	return &TabFunc{FetchFunc: e.Fetch}, nil
}

// Fetch retrieves and decodes req.URL. Non-HTML responses and error statuses
// are failures so a dispatcher can escalate to a browser engine.
func (e *HTTPEngine) Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, models.NewCrawlError(models.ErrCodeNavigation, "invalid url", err)
	}

	// Simulate browser-like headers.
	httpReq.Header.Set("User-Agent", e.userAgent)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", "en-US,en;q=0.9")
	httpReq.Header.Set("Accept-Encoding", "identity")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, CategorizeError(err, "http request failed")
	}
	defer resp.Body.Close()

	ct := resp.Header.Get("Content-Type")
	if resp.StatusCode >= 400 || !isHTMLContentType(ct) {
		return nil, models.NewCrawlError(models.ErrCodeNavigation,
			fmt.Sprintf("non-html or error status %d (content-type: %s)", resp.StatusCode, ct), nil)
	}

	body, err := charset.NewReader(io.LimitReader(resp.Body, maxBody), ct)
	if err != nil {
		return nil, models.NewCrawlError(models.ErrCodeExtraction, "unsupported charset", err)
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, CategorizeError(err, "read body")
	}

	htmlStr := string(raw)
	return &FetchResult{
		HTML:       htmlStr,
		Text:       VisibleText(htmlStr),
		Title:      Title(htmlStr),
		StatusCode: resp.StatusCode,
		FinalURL:   resp.Request.URL.String(),
		EngineName: e.Name(),
	}, nil
}

// isHTMLContentType returns true if the content-type header looks like HTML.
func isHTMLContentType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml+xml")
}
