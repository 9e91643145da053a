package intent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/voicecart/internal/config"
	"github.com/ent0n29/voicecart/internal/extract"
	"github.com/ent0n29/voicecart/internal/oracle"
	"github.com/ent0n29/voicecart/internal/reliability"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestClassifier(t *testing.T, o oracle.Oracle, timeout time.Duration) *Classifier {
	t.Helper()
	c, err := NewClassifier(ClassifierOptions{
		Oracle:    o,
		Overrides: config.DefaultPhrases().Overrides,
		Timeout:   timeout,
		Logger:    quietLogger(),
	})
	require.NoError(t, err)
	return c
}

func fixedOracle(reply string, err error) oracle.Oracle {
	return oracle.Func(func(context.Context, string) (string, error) { return reply, err })
}

func TestBuyNowAlwaysCompletesOrder(t *testing.T) {
	oracles := map[string]oracle.Oracle{
		"disagreeing": fixedOracle("cart", nil),
		"failing":     fixedOracle("", errors.New("down")),
		"missing":     nil,
	}
	for name, o := range oracles {
		t.Run(name, func(t *testing.T) {
			c := newTestClassifier(t, o, time.Second)
			for _, transcript := range []string{"buy now", "OK, buy now please!", "I want to buy now"} {
				got := c.Classify(context.Background(), transcript)
				assert.Equal(t, LabelOrderCompletion, got.Label, transcript)
				assert.Equal(t, SourceOverride, got.Source)
			}
		})
	}
}

func TestOverridesMatchWholeWords(t *testing.T) {
	c := newTestClassifier(t, fixedOracle("navigation", nil), time.Second)

	got := c.Classify(context.Background(), "please clear all filters")
	assert.Equal(t, LabelClearFilters, got.Label)

	// "checkouts" is not "checkout".
	got = c.Classify(context.Background(), "how many checkouts are open")
	assert.Equal(t, SourceOracle, got.Source)
	assert.Equal(t, LabelNavigation, got.Label)
}

func TestClassifyUsesOracleLabel(t *testing.T) {
	cases := map[string]Label{
		"cart":                          LabelCart,
		"  Apply_Filter \n":             LabelApplyFilter,
		"Label: product navigation.":    LabelProductNavigation,
		"category-navigation":           LabelCategoryNavigation,
		"The answer is `remove_filter`": LabelRemoveFilter,
	}
	for reply, want := range cases {
		c := newTestClassifier(t, fixedOracle(reply, nil), time.Second)
		got := c.Classify(context.Background(), "something")
		assert.Equal(t, want, got.Label, reply)
		assert.Equal(t, SourceOracle, got.Source, reply)
		assert.NoError(t, got.Err)
	}
}

func TestClassifyDegrades(t *testing.T) {
	blocking := oracle.Func(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	cases := map[string]oracle.Oracle{
		"error":         fixedOracle("", errors.New("boom")),
		"unknown label": fixedOracle("purchase_flow", nil),
		"timeout":       blocking,
		"no oracle":     nil,
	}
	for name, o := range cases {
		t.Run(name, func(t *testing.T) {
			c := newTestClassifier(t, o, 20*time.Millisecond)
			got := c.Classify(context.Background(), "tell me something")
			assert.Equal(t, LabelGeneralCommand, got.Label)
			assert.Equal(t, SourceDegraded, got.Source)
			assert.ErrorIs(t, got.Err, reliability.ErrClassificationDegraded)
		})
	}
}

func TestClassifierPromptCarriesTranscript(t *testing.T) {
	var prompt string
	o := oracle.Func(func(_ context.Context, p string) (string, error) {
		prompt = p
		return "cart", nil
	})
	c := newTestClassifier(t, o, time.Second)
	c.Classify(context.Background(), `add the "blue" one`)

	assert.Equal(t, `add the 'blue' one`, oracle.TranscriptOf(prompt))
	for _, l := range Labels {
		assert.Contains(t, prompt, string(l))
	}
}

func TestNewClassifierRejectsUnknownOverrideLabel(t *testing.T) {
	_, err := NewClassifier(ClassifierOptions{
		Overrides: []config.Override{{Phrase: "beam me up", Label: "teleport"}},
	})
	assert.Error(t, err)
}

func TestRouterFallbackChain(t *testing.T) {
	var calls []Label
	declining := func(l Label) Handler {
		return HandlerFunc(func(context.Context, string) (bool, error) {
			calls = append(calls, l)
			return false, nil
		})
	}
	accepting := func(l Label) Handler {
		return HandlerFunc(func(context.Context, string) (bool, error) {
			calls = append(calls, l)
			return true, nil
		})
	}

	r := NewRouter(quietLogger())
	r.Register(LabelGeneralCommand, declining(LabelGeneralCommand))
	r.Register(LabelNavigation, declining(LabelNavigation))
	r.Register(LabelCart, accepting(LabelCart))

	out := r.Route(context.Background(), LabelGeneralCommand, "show my basket")
	assert.True(t, out.Handled)
	assert.Equal(t, LabelCart, out.HandledBy)
	assert.Equal(t, []Label{LabelGeneralCommand, LabelNavigation, LabelCart}, calls)
}

func TestRouterUnhandled(t *testing.T) {
	r := NewRouter(quietLogger())
	r.Register(LabelNavigation, HandlerFunc(func(context.Context, string) (bool, error) {
		return false, errors.New("page not found")
	}))

	out := r.Route(context.Background(), LabelProductNavigation, "open the red dress")
	assert.False(t, out.Handled)
	assert.Len(t, out.Errs, 1)

	out = r.Route(context.Background(), LabelApplyFilter, "under fifty dollars")
	assert.False(t, out.Handled)
	assert.Empty(t, out.Errs)
}

func TestRouterSetFallbacks(t *testing.T) {
	r := NewRouter(quietLogger())
	r.Register(LabelCart, HandlerFunc(func(context.Context, string) (bool, error) { return true, nil }))

	r.SetFallbacks(LabelProductAction)
	assert.False(t, r.Route(context.Background(), LabelProductAction, "pick size m").Handled)

	r.SetFallbacks(LabelApplyFilter, LabelCart)
	assert.True(t, r.Route(context.Background(), LabelApplyFilter, "anything").Handled)
	assert.True(t, r.Has(LabelCart))
	assert.False(t, r.Has(LabelLocaleSwitch))
}

func TestExtractUserInfo(t *testing.T) {
	parser := extract.NewParser(extract.OptionsFromPhrases(config.DefaultPhrases()))
	e := NewExtractor(oracle.NewMock(), parser, time.Second, quietLogger())

	got, err := e.ExtractUserInfo(context.Background(), "my name is john smith and my email is john at gmail dot com")
	require.NoError(t, err)
	assert.Equal(t, map[extract.Field]string{
		extract.FieldName:  "John Smith",
		extract.FieldEmail: "john@gmail.com",
	}, got)
}

func TestExtractUserInfoDropsInvalidValues(t *testing.T) {
	parser := extract.NewParser(extract.OptionsFromPhrases(config.DefaultPhrases()))
	o := fixedOracle("```json\n{\"phone\": \"555 12\", \"cvv\": 123, \"favorite\": \"blue\"}\n```", nil)
	e := NewExtractor(o, parser, time.Second, quietLogger())

	got, err := e.ExtractUserInfo(context.Background(), "whatever")
	require.NoError(t, err)
	assert.Equal(t, map[extract.Field]string{extract.FieldCVV: "123"}, got)

	e = NewExtractor(fixedOracle("no details here", nil), parser, time.Second, quietLogger())
	got, err = e.ExtractUserInfo(context.Background(), "whatever")
	require.NoError(t, err)
	assert.Empty(t, got)

	e = NewExtractor(fixedOracle("", errors.New("down")), parser, time.Second, quietLogger())
	_, err = e.ExtractUserInfo(context.Background(), "whatever")
	assert.Error(t, err)
}

func TestExtractUserInfoKeepsLongNumbersExact(t *testing.T) {
	parser := extract.NewParser(extract.OptionsFromPhrases(config.DefaultPhrases()))
	o := fixedOracle(`{"card_number": 6011000990139424123, "cvv": 4321}`, nil)
	e := NewExtractor(o, parser, time.Second, quietLogger())

	got, err := e.ExtractUserInfo(context.Background(), "whatever")
	require.NoError(t, err)
	assert.Equal(t, map[extract.Field]string{
		extract.FieldCardNumber: "6011 0009 9013 9424 123",
		extract.FieldCVV:        "4321",
	}, got)
}
