// Package fetch acquires page markup from a local file, a plain HTTP GET or
// a headless Chrome driven by rod.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/antchfx/htmlquery"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/kobzarvs/multifind/internal/config"
)

const (
	ModeHTTP    = "http"
	ModeBrowser = "browser"
	// ModeAuto fetches over HTTP and falls back to the browser when the
	// response looks like a script-rendered shell.
	ModeAuto = "auto"
)

// maxBody caps HTTP downloads.
const maxBody = 10 << 20

type Fetcher struct {
	mode      string
	stealth   bool
	timeout   time.Duration
	ua        string
	remoteURL string
	client    *http.Client
	logger    *zap.Logger

	// browser is swappable in tests.
	browser func(ctx context.Context, pageURL string) ([]byte, error)
}

type Option func(*Fetcher)

func WithClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

func New(cfg config.FetchOptions, opts ...Option) *Fetcher {
	f := &Fetcher{
		mode:      strings.ToLower(cfg.Mode),
		stealth:   cfg.Stealth,
		timeout:   cfg.Timeout,
		ua:        cfg.UserAgent,
		remoteURL: cfg.RemoteURL,
		logger:    zap.NewNop(),
	}
	if f.mode == "" {
		f.mode = ModeHTTP
	}
	if f.timeout <= 0 {
		f.timeout = 30 * time.Second
	}
	if f.ua == "" {
		f.ua = "Mozilla/5.0 (compatible; multifind/1.0)"
	}
	for _, o := range opts {
		o(f)
	}
	if f.client == nil {
		f.client = &http.Client{Timeout: f.timeout}
	}
	f.browser = f.fetchBrowser
	return f
}

// IsURL reports whether target should be fetched rather than read from disk.
func IsURL(target string) bool {
	return strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://")
}

// Load returns the markup of target, a URL or a file path.
func (f *Fetcher) Load(ctx context.Context, target string) ([]byte, error) {
	if !IsURL(target) {
		data, err := os.ReadFile(target)
		if err != nil {
			return nil, fmt.Errorf("fetch: read %s: %w", target, err)
		}
		return data, nil
	}
	return f.Fetch(ctx, target)
}

func (f *Fetcher) Fetch(ctx context.Context, pageURL string) ([]byte, error) {
	switch f.mode {
	case ModeBrowser:
		return f.browser(ctx, pageURL)
	case ModeAuto:
		body, err := f.fetchHTTP(ctx, pageURL)
		if err == nil && Sufficient(body) {
			return body, nil
		}
		f.logger.Debug("escalating to browser", zap.String("url", pageURL), zap.Error(err))
		return f.browser(ctx, pageURL)
	case ModeHTTP:
		return f.fetchHTTP(ctx, pageURL)
	}
	return nil, fmt.Errorf("fetch: unknown mode %q", f.mode)
}

func (f *Fetcher) fetchHTTP(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: new request: %w", err)
	}
	req.Header.Set("User-Agent", f.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch: %s: status %d", pageURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("fetch: read body: %w", err)
	}
	f.logger.Debug("fetched", zap.String("url", pageURL), zap.Int("status", resp.StatusCode), zap.Int("size", len(body)))
	return body, nil
}

// fetchBrowser renders pageURL in Chrome and returns the live DOM as
// markup, so content produced by scripts is searchable too.
func (f *Fetcher) fetchBrowser(ctx context.Context, pageURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	wsURL := f.remoteURL
	if wsURL == "" {
		l := launcher.New().Headless(true).
			Set("disable-blink-features", "AutomationControlled")
		defer l.Cleanup()
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("fetch: launch chrome: %w", err)
		}
		wsURL = u
	}

	b := rod.New().ControlURL(wsURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("fetch: connect chrome: %w", err)
	}
	defer b.Close()

	var (
		page *rod.Page
		err  error
	)
	if f.stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("fetch: open tab: %w", err)
	}
	defer page.Close()

	if err := page.Navigate(pageURL); err != nil {
		return nil, fmt.Errorf("fetch: navigate %s: %w", pageURL, err)
	}
	if err := page.WaitLoad(); err != nil {
		f.logger.Warn("wait load", zap.String("url", pageURL), zap.Error(err))
	}
	res, err := page.Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return nil, fmt.Errorf("fetch: read DOM: %w", err)
	}
	return []byte(res.Value.Str()), nil
}

// Sufficient reports whether a static response carries enough visible text
// to be worth searching without running its scripts.
func Sufficient(body []byte) bool {
	if len(body) < 256 {
		return false
	}
	lower := bytes.ToLower(body)
	for _, shell := range []string{
		`<div id="root"></div>`,
		`<div id="app"></div>`,
		`<div id="__next"></div>`,
		"<noscript>you need to enable javascript",
	} {
		if bytes.Contains(lower, []byte(shell)) {
			return false
		}
	}
	root, err := htmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return false
	}
	text := strings.Join(strings.Fields(visibleText(root)), "")
	return len(text) >= 200
}

func visibleText(root *html.Node) string {
	nodes, err := htmlquery.QueryAll(root, textQuery)
	if err != nil {
		return ""
	}
	var b strings.Builder
	for _, n := range nodes {
		b.WriteString(n.Data)
		b.WriteByte(' ')
	}
	return b.String()
}

const textQuery = "//body//text()[not(ancestor::script) and not(ancestor::style) and not(ancestor::noscript)]"
