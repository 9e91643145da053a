package voice

import (
	"context"

	"github.com/ent0n29/voicecart/internal/extract"
	"github.com/ent0n29/voicecart/internal/profile"
	"github.com/ent0n29/voicecart/internal/session"
	"github.com/ent0n29/voicecart/internal/speech"
)

// OrderSubmitter places a confirmed order. The conversation only triggers it.
type OrderSubmitter interface {
	SubmitOrder(ctx context.Context, userID string, p profile.Profile) error
}

// InfoExtractor pulls profile fields out of free speech.
type InfoExtractor interface {
	ExtractUserInfo(ctx context.Context, transcript string) (map[extract.Field]string, error)
}

// SpeechFactory returns the speech session a conversation runs on.
type SpeechFactory func(s *session.Session) (speech.Session, error)

// TurnMode tells which path a transcript took.
type TurnMode string

const (
	TurnSuppressed TurnMode = "suppressed"
	TurnCheckout   TurnMode = "checkout"
	TurnCommand    TurnMode = "command"
)

// TurnResult summarizes how one transcript was handled.
type TurnResult struct {
	Mode      TurnMode `json:"mode"`
	Accepted  bool     `json:"accepted"`
	Reason    string   `json:"reason"`
	Step      string   `json:"step,omitempty"`
	Label     string   `json:"label,omitempty"`
	Source    string   `json:"source,omitempty"`
	HandledBy string   `json:"handled_by,omitempty"`
	Handled   bool     `json:"handled"`
	Reply     string   `json:"reply,omitempty"`
	Finalized bool     `json:"finalized,omitempty"`
	EntryID   string   `json:"entry_id,omitempty"`
}
