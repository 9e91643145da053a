package voice

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/voicecart/internal/checkout"
	"github.com/ent0n29/voicecart/internal/config"
	"github.com/ent0n29/voicecart/internal/extract"
	"github.com/ent0n29/voicecart/internal/handlers"
	"github.com/ent0n29/voicecart/internal/intent"
	"github.com/ent0n29/voicecart/internal/oracle"
	"github.com/ent0n29/voicecart/internal/profile"
	"github.com/ent0n29/voicecart/internal/protocol"
	"github.com/ent0n29/voicecart/internal/session"
	"github.com/ent0n29/voicecart/internal/speech"
)

const (
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingOrders struct {
	mu     sync.Mutex
	err    error
	orders []profile.Profile
}

func (r *recordingOrders) SubmitOrder(_ context.Context, _ string, p profile.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = append(r.orders, p)
	return r.err
}

type harness struct {
	orch     *Orchestrator
	speech   *speech.Mock
	clock    *fakeClock
	orders   *recordingOrders
	profiles *profile.InMemoryStore
	router   *intent.Router
	sessions *session.Manager
}

// newHarness builds an orchestrator whose oracle answers with reply.
func newHarness(t *testing.T, reply func(prompt string) string) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	phrases := config.DefaultPhrases()
	o := oracle.NewMockWith(reply)

	classifier, err := intent.NewClassifier(intent.ClassifierOptions{Oracle: o, Overrides: phrases.Overrides, Logger: logger})
	require.NoError(t, err)

	h := &harness{
		speech:   speech.NewMock(),
		clock:    &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		orders:   &recordingOrders{},
		profiles: profile.NewInMemoryStore(),
		router:   intent.NewRouter(logger),
		sessions: session.NewManager(time.Minute),
	}
	parser := extract.NewParser(extract.OptionsFromPhrases(phrases))
	h.orch = NewOrchestrator(Options{
		Sessions:   h.sessions,
		Speech:     func(*session.Session) (speech.Session, error) { return h.speech, nil },
		Classifier: classifier,
		Router:     h.router,
		Extractor:  intent.NewExtractor(o, parser, time.Second, logger),
		Profiles:   h.profiles,
		Orders:     h.orders,
		Logger:     logger,
		Phrases:    phrases,
		Reconnect:  ReconnectPolicy{EndBackoff: 5 * time.Millisecond, ErrorBackoff: 5 * time.Millisecond, MaxAttempts: 3},
		Now:        h.clock.Now,
	})
	t.Cleanup(h.orch.CloseAll)
	return h
}

func (h *harness) open(t *testing.T) *Conversation {
	t.Helper()
	s := h.sessions.Create("u1", "en", "mock")
	c, err := h.orch.Open(context.Background(), s)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return c.Connection().State == session.ConnActive }, waitFor, tick)
	return c
}

// typed waits out the checkout grace period and sends a typed command.
func (h *harness) typed(c *Conversation, text string) TurnResult {
	h.clock.Advance(2 * time.Second)
	return c.HandleText(context.Background(), text)
}

func replyLabel(label string) func(string) string {
	return func(string) string { return label }
}

func fillProfile(t *testing.T, store profile.Store) {
	t.Helper()
	_, err := store.Update(context.Background(), "u1", map[extract.Field]string{
		extract.FieldName:       "John Smith",
		extract.FieldEmail:      "john@gmail.com",
		extract.FieldAddress:    "123 Main Street Springfield",
		extract.FieldPhone:      "(555) 123-4567",
		extract.FieldCardName:   "John Smith",
		extract.FieldCardNumber: "4242 4242 4242 4242",
		extract.FieldExpiryDate: "09/29",
		extract.FieldCVV:        "123",
	})
	require.NoError(t, err)
}

func TestOpenReusesConversationAndCloseStopsSpeech(t *testing.T) {
	h := newHarness(t, replyLabel("general_command"))
	c := h.open(t)

	s, err := h.sessions.Get(c.ID())
	require.NoError(t, err)
	again, err := h.orch.Open(context.Background(), s)
	require.NoError(t, err)
	assert.Same(t, c, again)
	assert.Equal(t, 1, h.orch.Count())
	assert.Equal(t, 1, h.speech.Starts())

	h.orch.Close(c.ID())
	h.orch.Close(c.ID())
	assert.Equal(t, 0, h.orch.Count())
	_, err = h.orch.Get(c.ID())
	assert.ErrorIs(t, err, ErrConversationNotFound)
	assert.Equal(t, session.ConnIdle, c.Connection().State)
}

func TestBuyNowStartsCheckoutWhateverTheOracleSays(t *testing.T) {
	h := newHarness(t, replyLabel("cart"))
	c := h.open(t)

	res := h.typed(c, "ok buy now please")
	assert.Equal(t, TurnCommand, res.Mode)
	assert.Equal(t, string(intent.LabelOrderCompletion), res.Label)
	assert.Equal(t, string(intent.SourceOverride), res.Source)
	assert.Equal(t, checkout.StepName.Prompt(), res.Reply)
	assert.Equal(t, string(checkout.StepName), res.Step)
	assert.Contains(t, h.speech.Utterances(), checkout.StepName.Prompt())
}

func TestGuidedCheckoutPlacesOrder(t *testing.T) {
	h := newHarness(t, replyLabel("general_command"))
	c := h.open(t)
	h.typed(c, "checkout")

	answers := []string{
		"My name is John Smith",
		"my email is john at gmail dot com",
		"123 main street springfield",
		"555 123 4567",
		"John Smith",
		"4242 4242 4242 4242",
		"twelve twenty nine",
		"123",
	}
	for _, a := range answers {
		res := h.typed(c, a)
		require.True(t, res.Accepted, "answer %q: %+v", a, res)
		require.Equal(t, TurnCheckout, res.Mode)
	}
	assert.Equal(t, checkout.StepConfirm, c.Checkout().Step)

	res := h.typed(c, "yes")
	assert.True(t, res.Finalized)
	assert.Equal(t, string(checkout.ReasonConfirmed), res.Reason)

	require.Len(t, h.orders.orders, 1)
	order := h.orders.orders[0]
	assert.True(t, order.Complete())
	assert.Equal(t, "john@gmail.com", order.Email)
	assert.Equal(t, "12/29", order.ExpiryDate)

	stored, err := h.profiles.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "(555) 123-4567", stored.Phone)

	actions := c.Actions()
	require.NotEmpty(t, actions)
	last := actions[len(actions)-1]
	assert.Equal(t, "order placed", last.Description)
	assert.True(t, last.Success)

	// The next command goes back through classification.
	assert.Equal(t, TurnCommand, h.typed(c, "show me jackets").Mode)
}

func TestCompleteProfileSkipsToConfirmation(t *testing.T) {
	h := newHarness(t, replyLabel("general_command"))
	fillProfile(t, h.profiles)
	c := h.open(t)

	res := h.typed(c, "complete my order")
	assert.Equal(t, string(checkout.StepConfirm), res.Step)
	assert.Contains(t, res.Reply, "ending in 4242")

	res = h.typed(c, "go ahead")
	assert.True(t, res.Finalized)
	require.Len(t, h.orders.orders, 1)
	assert.Equal(t, "John Smith", h.orders.orders[0].Name)
}

func TestOrderFailureIsSpokenAndLogged(t *testing.T) {
	h := newHarness(t, replyLabel("general_command"))
	h.orders.err = errors.New("payment gateway down")
	fillProfile(t, h.profiles)
	c := h.open(t)

	h.typed(c, "checkout")
	res := h.typed(c, "yes")
	assert.False(t, res.Finalized)
	assert.Contains(t, h.speech.Utterances(), orderFailedPrompt)

	actions := c.Actions()
	last := actions[len(actions)-1]
	assert.False(t, last.Success)
	assert.Equal(t, "order submission failed", last.Description)
}

func TestEchoOfOwnPromptIsSuppressed(t *testing.T) {
	h := newHarness(t, replyLabel("general_command"))
	c := h.open(t)
	ctx := context.Background()

	c.StartCheckout(ctx)

	c.HandleEvent(ctx, speech.Event{Type: speech.EventSpeechStarted})
	res := c.HandleTranscript(ctx, "John Smith")
	assert.Equal(t, "system_speaking", res.Reason)

	c.HandleEvent(ctx, speech.Event{Type: speech.EventSpeechEnded, At: h.clock.Now()})
	res = c.HandleTranscript(ctx, "John Smith")
	assert.Equal(t, "ambient_window", res.Reason)

	h.clock.Advance(time.Second)
	res = c.HandleTranscript(ctx, "what is your full name")
	assert.Equal(t, TurnSuppressed, res.Mode)
	assert.Equal(t, "echo", res.Reason)

	res = c.HandleTranscript(ctx, "x")
	assert.Equal(t, "too_short", res.Reason)

	h.clock.Advance(time.Second)
	res = c.HandleTranscript(ctx, "John Smith")
	assert.True(t, res.Accepted)
	assert.Equal(t, string(checkout.StepEmail), res.Step)
}

func TestRoutedCommandsCarrySessionMeta(t *testing.T) {
	h := newHarness(t, replyLabel("cart"))
	c := h.open(t)

	var gotSession, gotTranscript string
	h.router.Register(intent.LabelCart, intent.HandlerFunc(func(ctx context.Context, transcript string) (bool, error) {
		gotSession = handlers.MetaFrom(ctx).SessionID
		gotTranscript = transcript
		return true, nil
	}))

	res := h.typed(c, "add the blue shoes to my cart")
	assert.True(t, res.Handled)
	assert.Equal(t, "cart", res.HandledBy)
	assert.Equal(t, string(intent.SourceOracle), res.Source)
	assert.Equal(t, c.ID(), gotSession)
	assert.Equal(t, "add the blue shoes to my cart", gotTranscript)
	assert.NotEmpty(t, res.EntryID)

	s, err := h.sessions.Get(c.ID())
	require.NoError(t, err)
	assert.Equal(t, 1, s.CommandCount)
}

func TestGeneralCommandFallsBackToNavigation(t *testing.T) {
	h := newHarness(t, replyLabel("general_command"))
	c := h.open(t)
	h.router.Register(intent.LabelNavigation, intent.HandlerFunc(func(context.Context, string) (bool, error) {
		return true, nil
	}))

	res := h.typed(c, "take me to the top")
	assert.True(t, res.Handled)
	assert.Equal(t, "general_command", res.Label)
	assert.Equal(t, "navigation", res.HandledBy)
}

func TestUnrecognizedCommandIsRecordedAsFailure(t *testing.T) {
	h := newHarness(t, replyLabel("apply_filter"))
	c := h.open(t)

	res := h.typed(c, "only the cheap ones with my card 4242 4242 4242 4242")
	assert.False(t, res.Handled)

	actions := c.Actions()
	require.Len(t, actions, 1)
	assert.False(t, actions[0].Success)
	assert.Contains(t, actions[0].Description, "apply_filter")
	assert.NotContains(t, actions[0].Description, "4242")
}

func TestDegradedClassificationStillRoutes(t *testing.T) {
	h := newHarness(t, replyLabel("no idea"))
	c := h.open(t)

	res := h.typed(c, "something odd")
	assert.Equal(t, string(intent.LabelGeneralCommand), res.Label)
	assert.Equal(t, string(intent.SourceDegraded), res.Source)
}

func TestUserInfoIsExtractedIntoProfile(t *testing.T) {
	h := newHarness(t, func(prompt string) string {
		if strings.Contains(prompt, "JSON") {
			return "```json\n{\"name\": \"jane doe\", \"email\": \"jane at example dot com\", \"phone\": \"12\"}\n```"
		}
		return "user_info"
	})
	c := h.open(t)

	res := h.typed(c, "I'm Jane Doe and my email is jane at example dot com")
	assert.True(t, res.Handled)
	assert.Equal(t, "Got it, I saved your name and email.", res.Reply)

	stored, err := h.profiles.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", stored.Name)
	assert.Equal(t, "jane@example.com", stored.Email)
	assert.Empty(t, stored.Phone)
}

func TestUserInfoWithNothingUsable(t *testing.T) {
	h := newHarness(t, func(prompt string) string {
		if strings.Contains(prompt, "JSON") {
			return "I could not find anything."
		}
		return "user_info"
	})
	c := h.open(t)

	res := h.typed(c, "tell you later")
	assert.False(t, res.Handled)
	assert.Equal(t, infoNotUnderstoodReply, res.Reply)
}

func TestTranscriptsFromSpeechSessionAreHandled(t *testing.T) {
	h := newHarness(t, replyLabel("cart"))
	var calls atomic.Int32
	h.router.Register(intent.LabelCart, intent.HandlerFunc(func(context.Context, string) (bool, error) {
		calls.Add(1)
		return true, nil
	}))
	c := h.open(t)

	h.speech.Emit(speech.Event{Type: speech.EventTranscript, Text: "add to ca", IsFinal: false})
	h.speech.Say("add this to my cart")
	require.Eventually(t, func() bool { return len(c.Actions()) == 1 }, waitFor, tick)
	assert.Equal(t, int32(1), calls.Load())
}

func TestTranscriptsAreHandledOneAtATime(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	h := newHarness(t, func(string) string {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return "cart"
	})
	c := h.open(t)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.HandleText(context.Background(), "add socks to the cart")
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInFlight.Load())
	assert.Len(t, c.Actions(), 5)
}

func TestOutboundMessages(t *testing.T) {
	h := newHarness(t, replyLabel("general_command"))
	c := h.open(t)
	out := make(chan any, 32)
	c.Attach(out)

	first := (<-out).(protocol.CheckoutState)
	assert.Equal(t, string(checkout.StepIdle), first.Step)

	h.typed(c, "checkout")
	var state protocol.CheckoutState
	var cmd protocol.CommandEvent
	for state.Step == "" || cmd.Label == "" {
		select {
		case msg := <-out:
			switch m := msg.(type) {
			case protocol.CheckoutState:
				state = m
			case protocol.CommandEvent:
				cmd = m
			}
		case <-time.After(waitFor):
			t.Fatalf("timed out waiting for outbound messages")
		}
	}
	assert.Equal(t, string(checkout.StepName), state.Step)
	assert.True(t, state.Active)
	assert.Equal(t, "order_completion", cmd.Label)
	assert.True(t, cmd.Handled)

	c.HandleEvent(context.Background(), speech.Event{Type: speech.EventError, Kind: "unauthorized", Message: "token expired"})
	for {
		select {
		case msg := <-out:
			if ev, ok := msg.(protocol.ErrorEvent); ok {
				assert.Equal(t, "unauthorized", ev.Code)
				assert.False(t, ev.Retryable)
				return
			}
		case <-time.After(waitFor):
			t.Fatalf("timed out waiting for error event")
		}
	}
}

func TestStopCheckoutIsIdempotent(t *testing.T) {
	h := newHarness(t, replyLabel("general_command"))
	c := h.open(t)

	c.StartCheckout(context.Background())
	require.True(t, c.Checkout().Active)
	c.StopCheckout()
	c.StopCheckout()
	assert.False(t, c.Checkout().Active)
	assert.Equal(t, checkout.StepIdle, c.Checkout().Step)

	var stopped int
	for _, a := range c.Actions() {
		if a.Description == "checkout stopped" {
			stopped++
		}
	}
	assert.Equal(t, 1, stopped)
}

func TestSpeechReconnectsAfterUnexpectedEnd(t *testing.T) {
	h := newHarness(t, replyLabel("general_command"))
	c := h.open(t)

	h.speech.End()
	require.Eventually(t, func() bool { return h.speech.Starts() == 2 }, waitFor, tick)
	require.Eventually(t, func() bool { return c.Connection().State == session.ConnActive }, waitFor, tick)
	assert.Equal(t, 0, c.Connection().Attempts)
}
