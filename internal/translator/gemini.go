package translator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/genai"
)

type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// GeminiProvider calls the hosted Gemini API.
type GeminiProvider struct {
	cfg GeminiConfig

	mu     sync.Mutex
	client *genai.Client
}

func NewGeminiProvider(cfg GeminiConfig) *GeminiProvider {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	return &GeminiProvider{cfg: cfg}
}

func (p *GeminiProvider) Name() string               { return "gemini" }
func (p *GeminiProvider) Budget() int                { return 5000 }
func (p *GeminiProvider) MinInterval() time.Duration { return 2 * time.Second }

func (p *GeminiProvider) Load(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return nil
	}
	if p.cfg.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  p.cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if p.cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: p.cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return fmt.Errorf("create gemini client: %w", err)
	}
	p.client = client
	return nil
}

func (p *GeminiProvider) TranslateChunk(ctx context.Context, req ChunkRequest) (string, error) {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		return "", fmt.Errorf("gemini provider not loaded")
	}

	resp, err := client.Models.GenerateContent(ctx, p.cfg.Model, genai.Text(req.Text), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt(req), genai.RoleUser),
		Temperature:       genai.Ptr[float32](0.1),
		MaxOutputTokens:   8192,
	})
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return resp.Text(), nil
}
