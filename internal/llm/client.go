package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/MimeLyc/rulebook-translator/pkg/log"
)

// Client sends single-turn translation prompts to an OpenAI compatible
// /chat/completions endpoint. It is safe for concurrent use.
type Client struct {
	cfg        Config
	endpoint   string
	httpClient *http.Client
	backoff    func() backoff.BackOff
}

func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	return &Client{
		cfg:        cfg,
		endpoint:   strings.TrimRight(cfg.APIURL, "/") + "/chat/completions",
		httpClient: &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second},
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			return b
		},
	}, nil
}

func (c *Client) Model() string {
	return c.cfg.Model
}

// Translate sends text as the user turn after the system prompt and returns
// the first choice. Overload answers are retried with backoff; everything
// else fails at once.
func (c *Client) Translate(ctx context.Context, text, system string) (string, error) {
	req := chatRequest{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}
	if system != "" {
		req.Messages = append(req.Messages, message{Role: "system", Content: system})
	}
	req.Messages = append(req.Messages, message{Role: "user", Content: text})
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	attempt := 0
	op := func() (string, error) {
		attempt++
		out, err := c.send(ctx, body)
		if err == nil {
			return out, nil
		}
		var se *StatusError
		if errors.As(err, &se) && se.Temporary() {
			log.Warn("%s attempt %d: %v", c.cfg.Model, attempt, err)
			return "", err
		}
		return "", backoff.Permanent(err)
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(c.backoff()),
		backoff.WithMaxTries(c.cfg.Attempts),
	)
}

func (c *Client) send(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// Local servers usually ignore the key, some proxies require it.
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var parsed chatResponse
	jsonErr := json.Unmarshal(raw, &parsed)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := truncate(raw, 200)
		if jsonErr == nil && parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		return "", &StatusError{Code: resp.StatusCode, Message: msg}
	}
	if jsonErr != nil {
		return "", fmt.Errorf("parse response: %w", jsonErr)
	}
	if parsed.Error != nil && parsed.Error.Message != "" {
		return "", fmt.Errorf("inference server error (%s): %s", parsed.Error.Type, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	choice := parsed.Choices[0]
	if choice.FinishReason == "length" {
		return "", ErrTruncated
	}
	return strings.TrimSpace(choice.Message.Content), nil
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
