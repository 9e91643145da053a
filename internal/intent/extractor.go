package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ent0n29/voicecart/internal/extract"
	"github.com/ent0n29/voicecart/internal/oracle"
)

// Extractor pulls profile fields out of free speech with the oracle and keeps
// only the values that pass field validation.
type Extractor struct {
	oracle  oracle.Oracle
	parser  *extract.Parser
	timeout time.Duration
	logger  *slog.Logger
}

func NewExtractor(o oracle.Oracle, parser *extract.Parser, timeout time.Duration, logger *slog.Logger) *Extractor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{oracle: o, parser: parser, timeout: timeout, logger: logger}
}

// ExtractUserInfo returns the valid fields mentioned in transcript. An empty
// map with a nil error means nothing usable was said.
func (e *Extractor) ExtractUserInfo(ctx context.Context, transcript string) (map[extract.Field]string, error) {
	if e.oracle == nil {
		return nil, fmt.Errorf("user info extraction: no oracle configured")
	}
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	reply, err := e.oracle.Complete(callCtx, extractionInstructions()+quoteTranscript(transcript))
	if err != nil {
		return nil, fmt.Errorf("user info extraction: %w", err)
	}

	var raw map[string]json.RawMessage
	if !oracle.DecodeJSON(reply, &raw) {
		e.logger.Debug("user info reply had no structured data")
		return map[extract.Field]string{}, nil
	}

	out := make(map[extract.Field]string, len(raw))
	for key, v := range raw {
		field, ok := extract.ParseField(key)
		if !ok {
			continue
		}
		value := stringValue(v)
		if value == "" {
			continue
		}
		res := e.parser.Parse(field, value)
		if !res.Valid {
			e.logger.Debug("user info value rejected", "field", field)
			continue
		}
		out[field] = res.Value
	}
	return out, nil
}

func extractionInstructions() string {
	var b strings.Builder
	b.WriteString("Extract the personal details the shopper states in the transcript below.\n")
	b.WriteString("Reply with a single JSON object using only these keys: ")
	for i, f := range extract.Fields {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(string(f))
	}
	b.WriteString(".\nCopy each value as spoken and omit keys that were not mentioned.\n\n")
	b.WriteString(oracle.TranscriptMarker)
	b.WriteString(" ")
	return b.String()
}

// stringValue keeps numbers as their literal digits; card numbers do not
// survive a round trip through float64.
func stringValue(raw json.RawMessage) string {
	var str string
	if json.Unmarshal(raw, &str) == nil {
		return strings.TrimSpace(str)
	}
	var num json.Number
	if json.Unmarshal(raw, &num) == nil {
		return num.String()
	}
	return ""
}
