package handlers

import (
	"context"
	"errors"

	"github.com/ent0n29/voicecart/internal/intent"
	"github.com/ent0n29/voicecart/internal/speech"
)

// CommandSender delivers a storefront command to the client page of a session.
type CommandSender interface {
	SendCommand(ctx context.Context, sessionID string, label intent.Label, transcript string) error
}

// Relay hands commands to the connected browser, which performs them in the
// storefront page. A session without a connected client does not handle it.
type Relay struct {
	sender CommandSender
}

func NewRelay(sender CommandSender) *Relay {
	return &Relay{sender: sender}
}

func (r *Relay) For(label intent.Label) intent.Handler {
	return intent.HandlerFunc(func(ctx context.Context, transcript string) (bool, error) {
		meta := MetaFrom(ctx)
		if meta.SessionID == "" {
			return false, nil
		}
		err := r.sender.SendCommand(ctx, meta.SessionID, label, transcript)
		if errors.Is(err, speech.ErrNotConnected) {
			return false, nil
		}
		return err == nil, err
	})
}
