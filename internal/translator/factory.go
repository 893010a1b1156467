package translator

import (
	"fmt"
	"time"

	"github.com/MimeLyc/rulebook-translator/internal/browser"
	"github.com/MimeLyc/rulebook-translator/internal/config"
	"github.com/MimeLyc/rulebook-translator/internal/glossary"
	"github.com/MimeLyc/rulebook-translator/internal/llm"
	"github.com/MimeLyc/rulebook-translator/pkg/log"
)

// NewProvider builds the provider selected by TRANSLATION_PROVIDER. Hosted
// providers are wrapped in a circuit breaker.
func NewProvider(cfg *config.Config, session *browser.Session) (Provider, error) {
	switch cfg.Translate.Provider {
	case config.ProviderLocal:
		return NewLocalProvider(llm.Config{
			APIKey:      cfg.Local.APIKey,
			APIURL:      cfg.Local.URL,
			Model:       cfg.Local.Model,
			MaxTokens:   cfg.Local.MaxTokens,
			Temperature: 0.1,
			Timeout:     cfg.Local.Timeout,
		}), nil
	case config.ProviderGemini:
		return WithBreaker(NewGeminiProvider(GeminiConfig{
			APIKey: cfg.Gemini.APIKey,
			Model:  cfg.Gemini.Model,
		}), 5, time.Minute), nil
	case config.ProviderOpenAI:
		return WithBreaker(NewOpenAIProvider(OpenAIConfig{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
		}), 5, time.Minute), nil
	case config.ProviderBrowserGemini:
		if session == nil {
			return nil, fmt.Errorf("browser_gemini needs a browser session")
		}
		return NewBrowserProvider(session, cfg.Browser.GeminiURL), nil
	default:
		return nil, fmt.Errorf("unknown translation provider %q", cfg.Translate.Provider)
	}
}

// New builds the chunked translator for cfg, loading the glossary file on top
// of the built-in terms.
func New(cfg *config.Config, session *browser.Session) (*Chunked, error) {
	provider, err := NewProvider(cfg, session)
	if err != nil {
		return nil, err
	}

	terms := glossary.Default()
	if cfg.Translate.GlossaryFile != "" {
		extra, err := glossary.Load(cfg.Translate.GlossaryFile)
		if err != nil {
			return nil, fmt.Errorf("load glossary: %w", err)
		}
		terms = terms.Merge(extra)
		log.Info("Loaded %d glossary terms from %s", len(extra), cfg.Translate.GlossaryFile)
	}

	return NewChunked(provider,
		WithFallback(Fallback(cfg.Translate.Fallback)),
		WithMinDelay(cfg.Translate.ChunkDelay),
		WithTimeout(cfg.Translate.Timeout),
		WithGlossary(terms),
	), nil
}
