package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/MimeLyc/rulebook-translator/internal/browser"
	"github.com/MimeLyc/rulebook-translator/pkg/log"
)

const (
	bggLoginURL = "https://boardgamegeek.com/login"
	// Download links on a BGG file page, newest layout first.
	bggDownloadSelector = `a[href*='/file/download_redirect/'], a[href*='/filepage/download/'], a.btn-primary`
)

type Credentials struct {
	Username string
	Password string
}

// BrowserFetcher resolves BoardGameGeek file pages in the shared browser and
// downloads the file with the browser's cookies, so login walls and
// Cloudflare checks apply to the download too.
type BrowserFetcher struct {
	session *browser.Session
	http    *HTTPFetcher
	creds   Credentials

	login func(ctx context.Context, b *rod.Browser) error

	mu sync.Mutex
	// loggedIn is the session generation the login happened in.
	loggedIn int64
}

func NewBrowserFetcher(session *browser.Session, httpf *HTTPFetcher, creds Credentials) *BrowserFetcher {
	f := &BrowserFetcher{
		session: session,
		http:    httpf,
		creds:   creds,
	}
	f.login = f.loginBGG
	return f
}

func (f *BrowserFetcher) Fetch(ctx context.Context, rawURL string) (*Document, error) {
	var target, cookies string
	err := f.session.Do(ctx, func(ctx context.Context, b *rod.Browser) error {
		if err := f.ensureLogin(ctx, b); err != nil {
			log.Warn("BGG login failed, continuing anonymously: %v", err)
		}

		page, err := stealth.Page(b)
		if err != nil {
			return fmt.Errorf("open page: %w", err)
		}
		defer page.Close()

		target = rawURL
		if isFilePage(rawURL) {
			if target, err = resolveDownload(page, rawURL); err != nil {
				return err
			}
		}

		cookies, err = cookieHeader(page, target)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Debug("Downloading %s with browser cookies", target)
	return f.http.fetchWithCookies(ctx, target, cookies)
}

// ensureLogin logs in once per browser instance. It runs inside session.Do,
// so it must not call anything that takes the session lock.
func (f *BrowserFetcher) ensureLogin(ctx context.Context, b *rod.Browser) error {
	if f.creds.Username == "" || f.creds.Password == "" {
		return nil
	}
	gen := f.session.Generation()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loggedIn == gen {
		return nil
	}
	if err := f.login(ctx, b); err != nil {
		return err
	}
	f.loggedIn = gen
	log.Info("Logged in to BGG as %s", f.creds.Username)
	return nil
}

func (f *BrowserFetcher) loginBGG(ctx context.Context, b *rod.Browser) error {
	page, err := stealth.Page(b.Context(ctx))
	if err != nil {
		return err
	}
	defer page.Close()

	if err := page.Navigate(bggLoginURL); err != nil {
		return err
	}
	if err := page.WaitLoad(); err != nil {
		return err
	}
	user, err := page.Element("input[name='username']")
	if err != nil {
		return err
	}
	if err := user.Input(f.creds.Username); err != nil {
		return err
	}
	pass, err := page.Element("input[name='password']")
	if err != nil {
		return err
	}
	if err := pass.Input(f.creds.Password); err != nil {
		return err
	}
	submit, err := page.Element("button[type='submit'], input[type='submit'], .btn-primary")
	if err != nil {
		return err
	}
	wait := page.WaitNavigation(proto.PageLifecycleEventNameNetworkAlmostIdle)
	if err := submit.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return err
	}
	wait()
	return nil
}

func isFilePage(u string) bool {
	return strings.Contains(u, "/filepage/") && !strings.Contains(u, "/download/")
}

// resolveDownload opens a file page and returns the absolute download link.
func resolveDownload(page *rod.Page, pageURL string) (string, error) {
	if err := page.Navigate(pageURL); err != nil {
		return "", fmt.Errorf("navigate to %s: %w", pageURL, err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("wait for %s: %w", pageURL, err)
	}

	link, err := page.Element(bggDownloadSelector)
	if err != nil {
		return "", fmt.Errorf("no download link on %s: %w", pageURL, err)
	}
	href, err := link.Attribute("href")
	if err != nil {
		return "", err
	}
	if href == nil || *href == "" {
		return "", fmt.Errorf("download link on %s has no href", pageURL)
	}
	return resolveURL(pageURL, *href)
}

func resolveURL(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}

func cookieHeader(page *rod.Page, target string) (string, error) {
	cookies, err := page.Cookies([]string{target})
	if err != nil {
		return "", fmt.Errorf("read cookies: %w", err)
	}
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; "), nil
}
