package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	analyst "github.com/Protocol-Lattice/duo-analyst"
	"github.com/Protocol-Lattice/duo-analyst/pkg/sandbox"
)

const (
	defaultScrapeFile  = "scraped_content.html"
	maxScrapeBodyBytes = 20 << 20
	userAgent          = "Mozilla/5.0 (compatible; duo-analyst/1.0)"
)

// PageFetcher returns the rendered HTML of a URL.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
}

// HTTPFetcher fetches pages with a plain GET. Client-side rendering is not executed.
type HTTPFetcher struct {
	Client *http.Client
}

// NewHTTPFetcher wraps client, defaulting to one with a 60s timeout.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPFetcher{Client: client}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	resp, err := f.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxScrapeBodyBytes))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// RodOptions configures the headless browser fetcher.
type RodOptions struct {
	// ControlURL attaches to a running Chrome; empty launches one.
	ControlURL string
	Timeout    time.Duration
	Logger     *slog.Logger
}

// RodFetcher renders pages in headless Chrome. The browser is started on
// first use and shared until Close.
type RodFetcher struct {
	mu      sync.Mutex
	opts    RodOptions
	browser *rod.Browser
}

func NewRodFetcher(opts RodOptions) *RodFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &RodFetcher{opts: opts}
}

func (f *RodFetcher) connect() (*rod.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browser != nil {
		return f.browser, nil
	}
	controlURL := f.opts.ControlURL
	if controlURL == "" {
		l := launcher.New().
			Headless(true).
			Set("no-sandbox").
			Set("disable-gpu").
			Set("disable-dev-shm-usage").
			Set("no-first-run")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch Chrome: %w", err)
		}
		controlURL = u
		f.opts.Logger.Info("Chrome launched", "cdp", controlURL)
	}
	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connect to Chrome: %w", err)
	}
	f.browser = b
	return b, nil
}

func (f *RodFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	b, err := f.connect()
	if err != nil {
		return "", err
	}
	page, err := b.Context(ctx).Timeout(f.opts.Timeout).Page(proto.TargetCreateTarget{URL: rawURL})
	if err != nil {
		return "", err
	}
	defer func() { _ = page.Close() }()
	if err := page.WaitLoad(); err != nil {
		return "", err
	}
	_ = page.WaitStable(300 * time.Millisecond)
	return page.HTML()
}

// Close shuts the browser down if it was started.
func (f *RodFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browser == nil {
		return nil
	}
	err := f.browser.Close()
	f.browser = nil
	return err
}

// FallbackFetcher tries Primary and falls back to Secondary on error.
type FallbackFetcher struct {
	Primary   PageFetcher
	Secondary PageFetcher
	Logger    *slog.Logger
}

func (f FallbackFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	body, err := f.Primary.Fetch(ctx, rawURL)
	if err == nil || f.Secondary == nil || ctx.Err() != nil {
		return body, err
	}
	if f.Logger != nil {
		f.Logger.Warn("browser fetch failed, using plain HTTP", "url", rawURL, "error", err)
	}
	return f.Secondary.Fetch(ctx, rawURL)
}

// ScrapeArgs selects the page and output name.
type ScrapeArgs struct {
	URL        string `json:"url" jsonschema_description:"Absolute http(s) URL."`
	OutputFile string `json:"output_file,omitempty" jsonschema_description:"HTML file name to write. Defaults to scraped_content.html."`
}

type scrapeResult struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	HTMLFile string `json:"html_file"`
	DOMFile  string `json:"dom_file"`
}

// ScrapeWebpage saves a page's HTML and DOM outline into outputs.
func ScrapeWebpage(sb *sandbox.Sandbox, fetcher PageFetcher, logger *slog.Logger) analyst.Tool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Definition[ScrapeArgs]{
		Name:        "scrape_webpage",
		Description: "Loads a webpage in a headless browser and saves its HTML and a compact DOM outline to outputs.",
		Run: func(ctx context.Context, in ScrapeArgs) (analyst.ToolResponse, error) {
			u, err := url.Parse(strings.TrimSpace(in.URL))
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return failf("invalid URL %q: only absolute http(s) URLs are supported", in.URL)
			}
			name := in.OutputFile
			if strings.TrimSpace(name) == "" {
				name = defaultScrapeFile
			}
			name, err = sandbox.SafeFileName(name)
			if err != nil {
				return failf("%v", err)
			}
			if !strings.HasSuffix(strings.ToLower(name), ".html") {
				name += ".html"
			}
			domName := strings.TrimSuffix(name, filepath.Ext(name)) + "_dom.txt"

			htmlPath, err := sb.Resolve(sandbox.Outputs, name)
			if err != nil {
				return failf("%v", err)
			}
			domPath, err := sb.Resolve(sandbox.Outputs, domName)
			if err != nil {
				return failf("%v", err)
			}

			started := time.Now()
			page, err := fetcher.Fetch(ctx, u.String())
			if err != nil {
				return failf("Failed to load page: %v", err)
			}
			if err := writeOutput(htmlPath, []byte(page)); err != nil {
				return failf("%v", err)
			}
			if err := writeOutput(domPath, []byte(DOMOutline(page, defaultDOMDepth))); err != nil {
				return failf("%v", err)
			}
			logger.Debug("page scraped", "url", u.String(), "bytes", len(page), "elapsed", time.Since(started))

			out, _ := json.Marshal(scrapeResult{
				Status:   "success",
				Message:  "Scraping completed and saved to " + name,
				HTMLFile: name,
				DOMFile:  domName,
			})
			return reply(string(out))
		},
	}
}
