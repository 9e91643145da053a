package oracle

import (
	"context"
	"encoding/json"
	"strings"
)

// Mock answers prompts with deterministic keyword heuristics when no
// completion service is configured.
type Mock struct {
	respond func(prompt string) string
}

func NewMock() *Mock { return &Mock{respond: mockReply} }

// NewMockWith returns a Mock that answers every prompt with respond.
func NewMockWith(respond func(prompt string) string) *Mock {
	return &Mock{respond: respond}
}

func (m *Mock) Complete(ctx context.Context, prompt string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	text := strings.TrimSpace(m.respond(prompt))
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

// TranscriptOf returns the quoted utterance following the last TranscriptMarker.
func TranscriptOf(prompt string) string {
	i := strings.LastIndex(prompt, TranscriptMarker)
	if i < 0 {
		return strings.TrimSpace(prompt)
	}
	s := strings.TrimSpace(prompt[i+len(TranscriptMarker):])
	return strings.Trim(s, "\"")
}

var mockLabelRules = []struct {
	label    string
	keywords []string
}{
	{"clear_filters", []string{"clear filter", "clear all filter", "reset filter"}},
	{"remove_filter", []string{"remove filter", "remove the filter", "without filter", "drop the filter"}},
	{"apply_filter", []string{"filter", "only show", "under $", "cheaper than", "sort by"}},
	{"order_completion", []string{"checkout", "check out", "place order", "place my order", "buy now"}},
	{"cart", []string{"cart", "basket"}},
	{"user_info", []string{"my name is", "my email", "my address", "my phone", "i live at"}},
	{"locale_switch", []string{"language", "spanish", "french", "german", "english"}},
	{"product_action", []string{"add this", "add it", "select size", "choose size", "pick the", "size"}},
	{"category_navigation", []string{"category", "categories", "browse", "show me"}},
	{"product_navigation", []string{"open the", "product", "item", "details"}},
	{"navigation", []string{"go to", "go back", "home page", "homepage", "scroll", "next page", "previous page"}},
}

var mockFieldPrefixes = []struct {
	field  string
	prefix string
}{
	{"name", "my name is "},
	{"email", "my email is "},
	{"email", "my email address is "},
	{"address", "my address is "},
	{"address", "i live at "},
	{"phone", "my phone number is "},
	{"phone", "my phone is "},
	{"phone", "my number is "},
}

func mockReply(prompt string) string {
	transcript := strings.ToLower(TranscriptOf(prompt))
	if strings.Contains(prompt, "JSON") {
		return mockExtract(transcript)
	}
	for _, rule := range mockLabelRules {
		for _, kw := range rule.keywords {
			if strings.Contains(transcript, kw) {
				return rule.label
			}
		}
	}
	return "general_command"
}

func mockExtract(transcript string) string {
	out := map[string]string{}
	for _, clause := range strings.Split(transcript, " and ") {
		clause = strings.TrimSpace(clause)
		for _, fp := range mockFieldPrefixes {
			if i := strings.Index(clause, fp.prefix); i >= 0 {
				if _, seen := out[fp.field]; !seen {
					out[fp.field] = strings.TrimSpace(clause[i+len(fp.prefix):])
				}
				break
			}
		}
	}
	raw, _ := json.Marshal(out)
	return string(raw)
}
