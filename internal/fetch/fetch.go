// Package fetch acquires rulebook documents from their remote source.
package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/MimeLyc/rulebook-translator/internal/apperr"
	"github.com/MimeLyc/rulebook-translator/internal/browser"
	"github.com/MimeLyc/rulebook-translator/internal/config"
	"github.com/MimeLyc/rulebook-translator/pkg/log"
)

// Document is a downloaded file.
type Document struct {
	Data        []byte
	ContentType string
	// FileName is the server-suggested name, if any.
	FileName string
	FinalURL string
}

type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Document, error)
}

// Restarter recreates the resource behind a fetcher, e.g. a browser session.
type Restarter interface {
	Restart(ctx context.Context) error
}

// Supervised retries a failed fetch once after restarting the underlying
// session. It never restarts more than once per call.
type Supervised struct {
	fetcher   Fetcher
	restarter Restarter
}

func NewSupervised(f Fetcher, r Restarter) *Supervised {
	return &Supervised{fetcher: f, restarter: r}
}

func (s *Supervised) Fetch(ctx context.Context, url string) (*Document, error) {
	start := time.Now()
	doc, err := s.fetcher.Fetch(ctx, url)
	if err != nil && s.restarter != nil && ctx.Err() == nil {
		log.Warn("Fetch of %s failed, restarting session and retrying once: %v", url, err)
		if rerr := s.restarter.Restart(ctx); rerr != nil {
			return nil, apperr.Wrap(rerr, apperr.KindAcquisition, "restart session").
				WithContext("url", url).
				WithContext("first_error", err.Error())
		}
		doc, err = s.fetcher.Fetch(ctx, url)
	}
	if err != nil {
		return nil, apperr.Ensure(err, apperr.KindAcquisition, "fetch "+url)
	}
	if len(doc.Data) == 0 {
		return nil, apperr.New(apperr.KindAcquisition, "empty download").WithContext("url", url)
	}

	log.Info("Fetched %s (%s) in %s", url, humanize.Bytes(uint64(len(doc.Data))), time.Since(start).Round(time.Millisecond))
	return doc, nil
}

// New builds the fetcher for FETCH_MODE. Browser backed modes are supervised
// by the shared session.
func New(cfg *config.Config, session *browser.Session) (Fetcher, error) {
	httpf := NewHTTPFetcher(cfg.Fetch.UserAgent, cfg.Fetch.Timeout)

	switch cfg.Fetch.Mode {
	case config.FetchModeHTTP:
		return NewSupervised(httpf, nil), nil
	case config.FetchModeBrowser:
		if session == nil {
			return nil, fmt.Errorf("fetch mode %q needs a browser session", cfg.Fetch.Mode)
		}
		bf := NewBrowserFetcher(session, httpf, Credentials{
			Username: cfg.BGG.Username,
			Password: cfg.BGG.Password,
		})
		return NewSupervised(bf, session), nil
	case config.FetchModePage:
		pf := NewPageFetcher(httpf, PageOptions{
			BrowserPath: cfg.Browser.Bin,
			Stealth:     true,
			Timeout:     cfg.Fetch.Timeout,
		})
		return NewSupervised(pf, pf), nil
	default:
		return nil, fmt.Errorf("unsupported fetch mode %q", cfg.Fetch.Mode)
	}
}
