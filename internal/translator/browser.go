package translator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/MimeLyc/rulebook-translator/internal/browser"
	"github.com/MimeLyc/rulebook-translator/pkg/log"
)

const (
	geminiInputSelector    = `div[role="textbox"]`
	geminiResponseSelector = `model-response message-content`
)

// BrowserProvider drives the Gemini web app in the shared browser session.
// Each chunk is sent in a fresh conversation.
type BrowserProvider struct {
	session *browser.Session
	url     string
	// poll is how often the answer is checked while it streams in.
	poll time.Duration
}

func NewBrowserProvider(session *browser.Session, url string) *BrowserProvider {
	if url == "" {
		url = "https://gemini.google.com/app"
	}
	return &BrowserProvider{
		session: session,
		url:     url,
		poll:    time.Second,
	}
}

func (p *BrowserProvider) Name() string               { return "browser_gemini" }
func (p *BrowserProvider) Budget() int                { return 3000 }
func (p *BrowserProvider) MinInterval() time.Duration { return 5 * time.Second }

// Load opens Gemini once and waits for the input box, which only shows up for
// a logged-in profile.
func (p *BrowserProvider) Load(ctx context.Context) error {
	return p.session.Do(ctx, func(ctx context.Context, b *rod.Browser) error {
		page, err := p.open(b)
		if err != nil {
			return err
		}
		defer page.Close()
		if _, err := page.Element(geminiInputSelector); err != nil {
			return fmt.Errorf("gemini input not found, is the browser profile logged in: %w", err)
		}
		log.Info("Gemini web session is ready")
		return nil
	})
}

func (p *BrowserProvider) TranslateChunk(ctx context.Context, req ChunkRequest) (string, error) {
	var answer string
	err := p.session.Do(ctx, func(ctx context.Context, b *rod.Browser) error {
		page, err := p.open(b)
		if err != nil {
			return err
		}
		defer page.Close()

		before, err := page.Elements(geminiResponseSelector)
		if err != nil {
			return err
		}

		box, err := page.Element(geminiInputSelector)
		if err != nil {
			return fmt.Errorf("find input: %w", err)
		}
		if err := box.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return fmt.Errorf("focus input: %w", err)
		}
		if err := box.Input(browserPrompt(req)); err != nil {
			return fmt.Errorf("type prompt: %w", err)
		}
		if err := page.Keyboard.Press(input.Enter); err != nil {
			return fmt.Errorf("submit prompt: %w", err)
		}

		answer, err = p.waitAnswer(ctx, page, len(before))
		return err
	})
	return answer, err
}

func (p *BrowserProvider) open(b *rod.Browser) (*rod.Page, error) {
	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	if err := page.Navigate(p.url); err != nil {
		page.Close()
		return nil, fmt.Errorf("navigate to %s: %w", p.url, err)
	}
	if err := page.WaitLoad(); err != nil {
		page.Close()
		return nil, fmt.Errorf("wait for %s: %w", p.url, err)
	}
	return page, nil
}

// waitAnswer polls until a new response appears and its text stops changing.
func (p *BrowserProvider) waitAnswer(ctx context.Context, page *rod.Page, seen int) (string, error) {
	return waitStable(ctx, p.poll, func() (string, bool) {
		els, err := page.Elements(geminiResponseSelector)
		if err != nil || len(els) <= seen {
			return "", false
		}
		text, err := els[len(els)-1].Text()
		if err != nil {
			return "", false
		}
		return strings.TrimSpace(text), true
	})
}

// waitStable returns the text read once it is unchanged for two polls. A
// deadline hit while the text is still changing is an error, never a partial
// answer.
func waitStable(ctx context.Context, poll time.Duration, read func() (string, bool)) (string, error) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var last string
	stable := 0
	for {
		select {
		case <-ctx.Done():
			if last != "" {
				return "", fmt.Errorf("answer still streaming after %d chars: %w", len(last), ctx.Err())
			}
			return "", ctx.Err()
		case <-ticker.C:
		}

		text, ok := read()
		if !ok {
			continue
		}
		if text != "" && text == last {
			stable++
			if stable >= 2 {
				return text, nil
			}
			continue
		}
		last = text
		stable = 0
	}
}
