package translator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
)

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAIProvider calls a hosted OpenAI compatible chat API.
type OpenAIProvider struct {
	cfg OpenAIConfig

	mu     sync.Mutex
	client *openai.Client
}

func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	return &OpenAIProvider{cfg: cfg}
}

func (p *OpenAIProvider) Name() string               { return "openai" }
func (p *OpenAIProvider) Budget() int                { return 5000 }
func (p *OpenAIProvider) MinInterval() time.Duration { return 2 * time.Second }

func (p *OpenAIProvider) Load(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return nil
	}
	if p.cfg.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	cc := openai.DefaultConfig(p.cfg.APIKey)
	if p.cfg.BaseURL != "" {
		cc.BaseURL = p.cfg.BaseURL
	}
	p.client = openai.NewClientWithConfig(cc)
	return nil
}

func (p *OpenAIProvider) TranslateChunk(ctx context.Context, req ChunkRequest) (string, error) {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		return "", fmt.Errorf("openai provider not loaded")
	}

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt(req),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: req.Text,
			},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no translation returned")
	}
	return resp.Choices[0].Message.Content, nil
}
