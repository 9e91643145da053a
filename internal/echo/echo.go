// Package echo filters raw transcripts before interpretation: too-short
// noise, anything captured while or just after the system spoke, and
// captures of the system's own prompts.
package echo

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Reason labels why a transcript was accepted or dropped.
type Reason string

const (
	ReasonAccepted       Reason = "accepted"
	ReasonTooShort       Reason = "too_short"
	ReasonSystemSpeaking Reason = "system_speaking"
	ReasonAmbientWindow  Reason = "ambient_window"
	ReasonEcho           Reason = "echo"
	ReasonFiller         Reason = "filler"
)

const (
	minTranscriptRunes = 2
	// A spoken phrase must be longer than this to count as contained in a transcript.
	spokenContainMinLen = 5
	// A transcript must be longer than this to count as contained in a spoken phrase.
	transcriptContainMinLen = 10
)

// Windows are the two suppression windows measured from the end of system speech.
type Windows struct {
	// Ambient drops every transcript, whatever its text.
	Ambient time.Duration
	// Echo bounds the text comparison against the last spoken phrase.
	// Zero or negative compares regardless of elapsed time.
	Echo time.Duration
}

// Context is the system-speech state a transcript is judged against.
type Context struct {
	Speaking      bool
	LastSpeechEnd time.Time
	LastSpoken    string
	Now           time.Time
}

// Decision is the outcome of ShouldAccept.
type Decision struct {
	Accept bool
	Reason Reason
}

// SpokenPrompt records the most recent system utterance.
type SpokenPrompt struct {
	Text string
	At   time.Time
}

// ShouldAccept applies the suppression rules in order and rejects on the first match.
func ShouldAccept(transcript string, ctx Context, w Windows) Decision {
	text := strings.TrimSpace(transcript)
	if utf8.RuneCountInString(text) < minTranscriptRunes {
		return Decision{Reason: ReasonTooShort}
	}
	if ctx.Speaking {
		return Decision{Reason: ReasonSystemSpeaking}
	}

	elapsed := time.Duration(-1)
	if !ctx.LastSpeechEnd.IsZero() {
		now := ctx.Now
		if now.IsZero() {
			now = time.Now()
		}
		elapsed = now.Sub(ctx.LastSpeechEnd)
		if elapsed < w.Ambient {
			return Decision{Reason: ReasonAmbientWindow}
		}
	}

	if ctx.LastSpoken != "" {
		inWindow := w.Echo <= 0 || elapsed < 0 || elapsed < w.Echo
		if inWindow && IsEcho(text, ctx.LastSpoken) {
			return Decision{Reason: ReasonEcho}
		}
	}

	return Decision{Accept: true, Reason: ReasonAccepted}
}

// IsEcho reports whether transcript looks like a capture of spoken.
// The asymmetric length floors keep short answers like "yes" from matching short prompts.
func IsEcho(transcript, spoken string) bool {
	t := Normalize(transcript)
	s := Normalize(spoken)
	if t == "" || s == "" {
		return false
	}
	if t == s {
		return true
	}
	if utf8.RuneCountInString(s) > spokenContainMinLen && strings.Contains(t, s) {
		return true
	}
	if utf8.RuneCountInString(t) > transcriptContainMinLen && strings.Contains(s, t) {
		return true
	}
	return false
}

// IsFiller reports whether transcript is nothing but one of the acknowledgment phrases.
func IsFiller(transcript string, fillers []string) bool {
	t := Normalize(transcript)
	if t == "" {
		return false
	}
	for _, f := range fillers {
		if t == Normalize(f) {
			return true
		}
	}
	return false
}

// Normalize lower-cases s and strips everything that is not a letter or digit.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
