package intent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/ent0n29/voicecart/internal/config"
	"github.com/ent0n29/voicecart/internal/oracle"
	"github.com/ent0n29/voicecart/internal/reliability"
)

// Source tells where a classification came from.
type Source string

const (
	SourceOverride Source = "override"
	SourceOracle   Source = "oracle"
	SourceDegraded Source = "degraded"
)

// DefaultTimeout bounds a single oracle classification call.
const DefaultTimeout = 4 * time.Second

// Classification is the result of Classify.
type Classification struct {
	Label  Label
	Source Source
	// Err is set for degraded classifications and wraps
	// reliability.ErrClassificationDegraded.
	Err error
}

// ClassifierOptions configures a Classifier.
type ClassifierOptions struct {
	Oracle    oracle.Oracle
	Overrides []config.Override
	Timeout   time.Duration
	Logger    *slog.Logger
}

type override struct {
	phrase string
	label  Label
}

// Classifier maps a transcript to exactly one Label. It never fails: oracle
// problems degrade to LabelGeneralCommand.
type Classifier struct {
	oracle    oracle.Oracle
	overrides []override
	timeout   time.Duration
	logger    *slog.Logger
	prompt    string
}

func NewClassifier(opts ClassifierOptions) (*Classifier, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &Classifier{
		oracle:  opts.Oracle,
		timeout: opts.Timeout,
		logger:  opts.Logger,
		prompt:  classificationInstructions(),
	}
	for _, o := range opts.Overrides {
		label, ok := ParseLabel(o.Label)
		if !ok {
			return nil, fmt.Errorf("override %q: unknown label %q", o.Phrase, o.Label)
		}
		phrase := normalizeWords(o.Phrase)
		if phrase == "" {
			continue
		}
		c.overrides = append(c.overrides, override{phrase: phrase, label: label})
	}
	// Longer phrases win over phrases they contain.
	sort.SliceStable(c.overrides, func(i, j int) bool {
		return len(c.overrides[i].phrase) > len(c.overrides[j].phrase)
	})
	return c, nil
}

// Classify returns the label for transcript. Overrides are checked before the
// oracle is consulted.
func (c *Classifier) Classify(ctx context.Context, transcript string) Classification {
	if label, ok := c.Override(transcript); ok {
		return Classification{Label: label, Source: SourceOverride}
	}
	if c.oracle == nil {
		return degraded(fmt.Errorf("%w: no oracle configured", reliability.ErrClassificationDegraded))
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	reply, err := c.oracle.Complete(callCtx, c.prompt+quoteTranscript(transcript))
	if err != nil {
		c.logger.Warn("intent oracle failed", "error", err, "elapsed", time.Since(start))
		return degraded(fmt.Errorf("%w: %v", reliability.ErrClassificationDegraded, err))
	}
	label, ok := labelFromReply(reply)
	if !ok {
		c.logger.Warn("intent oracle returned unknown label", "reply", truncate(reply, 80))
		return degraded(fmt.Errorf("%w: unknown label %q", reliability.ErrClassificationDegraded, truncate(reply, 40)))
	}
	return Classification{Label: label, Source: SourceOracle}
}

// Override returns the label pinned to a phrase contained in transcript.
func (c *Classifier) Override(transcript string) (Label, bool) {
	words := " " + normalizeWords(transcript) + " "
	for _, o := range c.overrides {
		if strings.Contains(words, " "+o.phrase+" ") {
			return o.label, true
		}
	}
	return "", false
}

func degraded(err error) Classification {
	return Classification{Label: LabelGeneralCommand, Source: SourceDegraded, Err: err}
}

func classificationInstructions() string {
	var b strings.Builder
	b.WriteString("You classify short voice commands spoken to an online store assistant.\n")
	b.WriteString("Answer with exactly one label from the list below and nothing else.\n\n")
	for _, l := range Labels {
		fmt.Fprintf(&b, "- %s: %s\n", l, labelDescriptions[l])
	}
	b.WriteString("\n")
	b.WriteString(oracle.TranscriptMarker)
	b.WriteString(" ")
	return b.String()
}

func quoteTranscript(transcript string) string {
	return `"` + strings.ReplaceAll(strings.TrimSpace(transcript), `"`, `'`) + `"`
}

// labelFromReply accepts a bare label or the first label named in a short answer.
func labelFromReply(reply string) (Label, bool) {
	reply = strings.ToLower(strings.TrimSpace(reply))
	first := strings.TrimFunc(strings.SplitN(reply, "\n", 2)[0], func(r rune) bool {
		return !unicode.IsLetter(r) && r != '_'
	})
	if l, ok := ParseLabel(first); ok {
		return l, true
	}
	tokens := strings.FieldsFunc(reply, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '_'
	})
	for i, tok := range tokens {
		if i+1 < len(tokens) {
			if l, ok := ParseLabel(tok + "_" + tokens[i+1]); ok {
				return l, true
			}
		}
		if l, ok := ParseLabel(tok); ok {
			return l, true
		}
	}
	return "", false
}

func normalizeWords(s string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	}), " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
