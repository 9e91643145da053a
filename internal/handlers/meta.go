// Package handlers provides the command handler and order submitter
// implementations the intent router and checkout dispatch to.
package handlers

import "context"

// Meta identifies the conversation a command came from.
type Meta struct {
	SessionID string
	UserID    string
	Locale    string
}

type metaKey struct{}

func WithMeta(ctx context.Context, m Meta) context.Context {
	return context.WithValue(ctx, metaKey{}, m)
}

func MetaFrom(ctx context.Context) Meta {
	m, _ := ctx.Value(metaKey{}).(Meta)
	return m
}
