// Package oracle wraps the external language-model completion service used
// for intent classification and free-form field extraction.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TranscriptMarker prefixes the quoted user utterance at the end of every prompt.
const TranscriptMarker = "Transcript:"

// ErrEmptyCompletion is returned when the service answers with no text.
var ErrEmptyCompletion = errors.New("oracle returned an empty completion")

// Oracle completes a text prompt.
type Oracle interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Func adapts a function to Oracle.
type Func func(ctx context.Context, prompt string) (string, error)

func (f Func) Complete(ctx context.Context, prompt string) (string, error) { return f(ctx, prompt) }

// Config controls oracle construction.
type Config struct {
	Mode    string
	APIKey  string
	Model   string
	BaseURL string
	HTTPURL string
	Timeout time.Duration
}

// New builds an Oracle for cfg.Mode: auto, anthropic, http or mock.
func New(cfg Config) (Oracle, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		return newAuto(cfg), nil
	case "anthropic":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("oracle API key is required for anthropic mode")
		}
		return NewAnthropic(cfg.APIKey, cfg.Model, cfg.BaseURL), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("oracle HTTP url is required for http mode")
		}
		return NewHTTP(cfg.HTTPURL), nil
	case "mock":
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("unsupported oracle mode %q", cfg.Mode)
	}
}

func newAuto(cfg Config) Oracle {
	var secondary Oracle
	if url := strings.TrimSpace(cfg.HTTPURL); url != "" {
		secondary = NewHTTP(url)
	}

	if strings.TrimSpace(cfg.APIKey) != "" {
		primary := NewAnthropic(cfg.APIKey, cfg.Model, cfg.BaseURL)
		if secondary == nil {
			return primary
		}
		return NewFallback(primary, secondary)
	}
	if secondary != nil {
		return secondary
	}
	return NewMock()
}

// Describe names the backend behind o for logs.
func Describe(o Oracle) string {
	switch v := o.(type) {
	case *Anthropic:
		return "anthropic"
	case *HTTP:
		return "http"
	case *Mock:
		return "mock"
	case *Fallback:
		return Describe(v.Primary()) + "+" + Describe(v.Secondary())
	case nil:
		return "none"
	default:
		return fmt.Sprintf("%T", o)
	}
}
