package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Override pins a phrase to an intent label ahead of the oracle.
type Override struct {
	Phrase string `yaml:"phrase"`
	Label  string `yaml:"label"`
}

// Phrases holds the literal word lists the interpreter matches against.
// Every list is lower-case; matching normalizes the transcript first.
type Phrases struct {
	OrderCompletion    []string   `yaml:"order_completion"`
	Overrides          []Override `yaml:"overrides"`
	Acknowledgments    []string   `yaml:"acknowledgments"`
	Affirmative        []string   `yaml:"affirmative"`
	Negative           []string   `yaml:"negative"`
	CorrectionCommands []string   `yaml:"correction_commands"`
	MetaWords          []string   `yaml:"meta_words"`
}

// DefaultPhrases returns the built-in English phrase set.
func DefaultPhrases() Phrases {
	order := []string{
		"place order",
		"place my order",
		"place the order",
		"checkout",
		"check out",
		"buy now",
		"complete order",
		"complete my order",
		"complete purchase",
		"proceed to checkout",
		"finish order",
	}
	overrides := make([]Override, 0, len(order)+4)
	for _, p := range order {
		overrides = append(overrides, Override{Phrase: p, Label: "order_completion"})
	}
	overrides = append(overrides,
		Override{Phrase: "clear all filters", Label: "clear_filters"},
		Override{Phrase: "clear filters", Label: "clear_filters"},
		Override{Phrase: "reset filters", Label: "clear_filters"},
		Override{Phrase: "switch language", Label: "locale_switch"},
	)

	return Phrases{
		OrderCompletion: order,
		Overrides:       overrides,
		Acknowledgments: []string{
			"ok", "okay", "yes", "yeah", "yep", "sure", "alright", "all right",
			"got it", "thanks", "thank you", "hmm", "uh huh", "mm hmm", "right",
			"hello", "hi", "hey",
		},
		Affirmative: []string{
			"yes", "yeah", "yep", "yup", "sure", "correct", "confirm", "confirmed",
			"place it", "go ahead", "do it", "absolutely", "that's right", "sounds good",
		},
		Negative: []string{
			"no", "nope", "cancel", "stop", "don't", "do not", "never mind", "nevermind", "abort",
		},
		CorrectionCommands: []string{
			"go back", "previous step", "that's wrong", "that is wrong", "back up", "undo",
		},
		MetaWords: []string{
			"what", "why", "how", "where", "when", "who", "which", "repeat", "again",
			"sorry", "pardon", "huh", "help", "question", "mean",
		},
	}
}

// LoadPhrases returns DefaultPhrases with any non-empty list from the YAML
// file at path replacing the built-in one. An empty path yields the defaults.
func LoadPhrases(path string) (Phrases, error) {
	out := DefaultPhrases()
	path = strings.TrimSpace(path)
	if path == "" {
		return out, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Phrases{}, fmt.Errorf("reading phrases file: %w", err)
	}

	var overlay Phrases
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return Phrases{}, fmt.Errorf("parsing phrases file: %w", err)
	}

	mergeList(&out.OrderCompletion, overlay.OrderCompletion)
	mergeList(&out.Acknowledgments, overlay.Acknowledgments)
	mergeList(&out.Affirmative, overlay.Affirmative)
	mergeList(&out.Negative, overlay.Negative)
	mergeList(&out.CorrectionCommands, overlay.CorrectionCommands)
	mergeList(&out.MetaWords, overlay.MetaWords)
	if len(overlay.Overrides) > 0 {
		out.Overrides = make([]Override, 0, len(overlay.Overrides))
		for _, o := range overlay.Overrides {
			phrase := strings.ToLower(strings.TrimSpace(o.Phrase))
			label := strings.TrimSpace(o.Label)
			if phrase == "" || label == "" {
				return Phrases{}, fmt.Errorf("parsing phrases file: override needs phrase and label")
			}
			out.Overrides = append(out.Overrides, Override{Phrase: phrase, Label: label})
		}
	}
	return out, nil
}

func mergeList(dst *[]string, src []string) {
	if len(src) == 0 {
		return
	}
	cleaned := make([]string, 0, len(src))
	for _, s := range src {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			cleaned = append(cleaned, s)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
