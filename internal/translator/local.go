package translator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MimeLyc/rulebook-translator/internal/llm"
)

// LocalProvider runs the offline model through an inference server on the
// same host. Small models have short context windows, hence the small
// budget.
type LocalProvider struct {
	cfg llm.Config

	mu     sync.Mutex
	client *llm.Client
}

func NewLocalProvider(cfg llm.Config) *LocalProvider {
	return &LocalProvider{cfg: cfg}
}

func (p *LocalProvider) Name() string               { return "local" }
func (p *LocalProvider) Budget() int                { return 400 }
func (p *LocalProvider) MinInterval() time.Duration { return 0 }

// Model is the model name the inference server was asked for.
func (p *LocalProvider) Model() string { return p.cfg.Model }

func (p *LocalProvider) Load(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return nil
	}
	client, err := llm.NewClient(p.cfg)
	if err != nil {
		return err
	}
	p.client = client
	return nil
}

func (p *LocalProvider) TranslateChunk(ctx context.Context, req ChunkRequest) (string, error) {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		return "", fmt.Errorf("local provider not loaded")
	}
	return client.Translate(ctx, req.Text, systemPrompt(req))
}
