package app

import (
	"fmt"
	"strings"

	"github.com/ent0n29/voicecart/internal/config"
	"github.com/ent0n29/voicecart/internal/session"
	"github.com/ent0n29/voicecart/internal/speech"
	"github.com/ent0n29/voicecart/internal/voice"
)

// speechFactory picks the speech session of a voice session by its transport.
func speechFactory(cfg config.Config) voice.SpeechFactory {
	return func(s *session.Session) (speech.Session, error) {
		switch strings.ToLower(strings.TrimSpace(s.Transport)) {
		case "", "bridge":
			return speech.NewBridge(), nil
		case "provider":
			if cfg.SpeechWSURL == "" {
				return nil, fmt.Errorf("transport provider needs SPEECH_WS_URL")
			}
			lang := s.Locale
			if lang == "" {
				lang = cfg.SpeechLanguage
			}
			return speech.NewWSSession(speech.WSConfig{
				URL:      cfg.SpeechWSURL,
				APIKey:   cfg.SpeechAPIKey,
				Language: lang,
			}), nil
		case "mock":
			return speech.NewMock(), nil
		default:
			return nil, fmt.Errorf("unsupported transport %q (expected bridge|provider|mock)", s.Transport)
		}
	}
}
