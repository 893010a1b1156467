package fetch

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/naozine/nz-html-fetch/pkg/htmlfetch"

	"github.com/MimeLyc/rulebook-translator/pkg/log"
)

type PageOptions struct {
	BrowserPath string
	Stealth     bool
	// Timeout bounds the wait for the page body.
	Timeout time.Duration
}

// PageFetcher renders rules published as web pages with a headless browser
// and returns the page HTML. Links to files go straight to HTTP.
type PageFetcher struct {
	http *HTTPFetcher
	opts PageOptions

	mu      sync.Mutex
	fetcher *htmlfetch.Fetcher
}

func NewPageFetcher(httpf *HTTPFetcher, opts PageOptions) *PageFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &PageFetcher{http: httpf, opts: opts}
}

func (f *PageFetcher) Fetch(ctx context.Context, url string) (*Document, error) {
	if looksLikeFile(url) {
		return f.http.Fetch(ctx, url)
	}

	fetcher, err := f.start()
	if err != nil {
		return nil, err
	}

	result, err := fetcher.Fetch(ctx, url,
		htmlfetch.WithBlocking(htmlfetch.BlockingOptions{Ads: true, Image: true}),
		htmlfetch.WithSelector("body", f.opts.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", url, err)
	}
	log.Debug("Rendered %s in %s", result.FinalURL, result.Duration)

	return &Document{
		Data:        []byte(result.HTML),
		ContentType: "text/html; charset=utf-8",
		FinalURL:    result.FinalURL,
	}, nil
}

// Restart closes the headless browser; the next Fetch starts a new one.
func (f *PageFetcher) Restart(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetcher == nil {
		return nil
	}
	err := f.fetcher.Close()
	f.fetcher = nil
	return err
}

func (f *PageFetcher) Close() error {
	return f.Restart(context.Background())
}

func (f *PageFetcher) start() (*htmlfetch.Fetcher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetcher != nil {
		return f.fetcher, nil
	}

	var opts []htmlfetch.Option
	if f.opts.BrowserPath != "" {
		opts = append(opts, htmlfetch.WithBrowserPath(f.opts.BrowserPath))
	}
	opts = append(opts, htmlfetch.WithStealth(f.opts.Stealth))

	fetcher := htmlfetch.New(opts...)
	if err := fetcher.Start(); err != nil {
		return nil, fmt.Errorf("start page renderer: %w", err)
	}
	f.fetcher = fetcher
	return fetcher, nil
}

func looksLikeFile(url string) bool {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	switch strings.ToLower(path.Ext(url)) {
	case ".pdf", ".docx", ".txt", ".md":
		return true
	}
	return false
}
