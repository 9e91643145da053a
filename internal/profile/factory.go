package profile

import (
	"context"
	"fmt"
	"strings"
)

// StoreConfig selects a Store backend.
type StoreConfig struct {
	// Kind is auto, memory, file or postgres. auto picks postgres when a
	// database URL is set and memory otherwise.
	Kind        string
	Path        string
	DatabaseURL string
}

func NewStore(ctx context.Context, cfg StoreConfig) (Store, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Kind))
	if kind == "" || kind == "auto" {
		if strings.TrimSpace(cfg.DatabaseURL) != "" {
			kind = "postgres"
		} else {
			kind = "memory"
		}
	}

	switch kind {
	case "memory":
		return NewInMemoryStore(), nil
	case "file":
		return NewFileStore(cfg.Path)
	case "postgres":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return nil, fmt.Errorf("postgres profile store needs a database url")
		}
		return NewPostgresStore(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unsupported profile store %q", cfg.Kind)
	}
}
