package handlers

import (
	"context"
	"strings"
)

// LocaleSetter records the interface language of a session.
type LocaleSetter interface {
	SetLocale(sessionID, locale string) error
}

var localeWords = map[string]string{
	"english":    "en",
	"spanish":    "es",
	"español":    "es",
	"espanol":    "es",
	"french":     "fr",
	"français":   "fr",
	"german":     "de",
	"deutsch":    "de",
	"italian":    "it",
	"italiano":   "it",
	"portuguese": "pt",
	"dutch":      "nl",
	"japanese":   "ja",
}

// LocaleFromTranscript finds the requested language in a command such as
// "switch to spanish".
func LocaleFromTranscript(transcript string) (string, bool) {
	for _, w := range strings.FieldsFunc(strings.ToLower(transcript), func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == '!' || r == '?'
	}) {
		if code, ok := localeWords[w]; ok {
			return code, true
		}
	}
	return "", false
}

// LocaleSwitch handles locale_switch commands.
type LocaleSwitch struct {
	sessions LocaleSetter
}

func NewLocaleSwitch(sessions LocaleSetter) *LocaleSwitch {
	return &LocaleSwitch{sessions: sessions}
}

func (h *LocaleSwitch) Handle(ctx context.Context, transcript string) (bool, error) {
	code, ok := LocaleFromTranscript(transcript)
	if !ok {
		return false, nil
	}
	meta := MetaFrom(ctx)
	if meta.SessionID == "" {
		return false, nil
	}
	if err := h.sessions.SetLocale(meta.SessionID, code); err != nil {
		return false, err
	}
	return true, nil
}
