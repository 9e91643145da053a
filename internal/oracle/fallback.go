package oracle

import (
	"context"
	"errors"
	"fmt"
)

// Fallback tries a primary oracle first and the secondary on error.
type Fallback struct {
	primary  Oracle
	fallback Oracle
}

func NewFallback(primary, fallback Oracle) *Fallback {
	return &Fallback{primary: primary, fallback: fallback}
}

// Primary returns the preferred oracle.
func (f *Fallback) Primary() Oracle {
	if f == nil {
		return nil
	}
	return f.primary
}

// Secondary returns the oracle used after a primary failure.
func (f *Fallback) Secondary() Oracle {
	if f == nil {
		return nil
	}
	return f.fallback
}

func (f *Fallback) Complete(ctx context.Context, prompt string) (string, error) {
	if f == nil || f.primary == nil {
		if f != nil && f.fallback != nil {
			return f.fallback.Complete(ctx, prompt)
		}
		return "", errors.New("fallback oracle misconfigured")
	}

	text, err := f.primary.Complete(ctx, prompt)
	if err == nil {
		return text, nil
	}
	// The caller's deadline covers both attempts.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return "", err
	}
	if f.fallback == nil {
		return "", err
	}

	text, fallbackErr := f.fallback.Complete(ctx, prompt)
	if fallbackErr != nil {
		return "", fmt.Errorf("primary oracle error: %w; fallback oracle error: %v", err, fallbackErr)
	}
	return text, nil
}
