package voice

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/voicecart/internal/actionlog"
	"github.com/ent0n29/voicecart/internal/checkout"
	"github.com/ent0n29/voicecart/internal/echo"
	"github.com/ent0n29/voicecart/internal/extract"
	"github.com/ent0n29/voicecart/internal/handlers"
	"github.com/ent0n29/voicecart/internal/intent"
	"github.com/ent0n29/voicecart/internal/observability"
	"github.com/ent0n29/voicecart/internal/policy"
	"github.com/ent0n29/voicecart/internal/profile"
	"github.com/ent0n29/voicecart/internal/protocol"
	"github.com/ent0n29/voicecart/internal/reliability"
	"github.com/ent0n29/voicecart/internal/session"
	"github.com/ent0n29/voicecart/internal/speech"
)

const (
	orderFailedPrompt      = "Sorry, I couldn't place your order. Please try again in a moment."
	infoNotUnderstoodReply = "Sorry, I didn't catch any details I could save."
	infoSaveFailedReply    = "Sorry, I couldn't save your details right now."
)

var fieldNames = map[extract.Field]string{
	extract.FieldName:       "name",
	extract.FieldEmail:      "email",
	extract.FieldAddress:    "address",
	extract.FieldPhone:      "phone number",
	extract.FieldCardName:   "name on the card",
	extract.FieldCardNumber: "card number",
	extract.FieldExpiryDate: "expiry date",
	extract.FieldCVV:        "security code",
}

// Conversation is the interpreter of one voice session. Transcripts are
// handled one at a time; a second transcript waits for the first.
type Conversation struct {
	o      *Orchestrator
	id     string
	userID string
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	speech     speech.Session
	supervisor *session.Supervisor
	machine    *checkout.Machine
	actions    *actionlog.Log

	// turnMu is held for the whole of a turn, oracle call included.
	turnMu sync.Mutex

	stateMu       sync.Mutex
	speaking      bool
	lastSpeechEnd time.Time
	lastSpoken    echo.SpokenPrompt
	outbound      chan<- any
	connState     string
	closed        bool
}

func newConversation(parent context.Context, o *Orchestrator, s *session.Session, sp speech.Session) *Conversation {
	ctx, cancel := context.WithCancel(parent)
	logger := o.logger.With("session_id", s.ID)
	c := &Conversation{
		o:       o,
		id:      s.ID,
		userID:  s.UserID,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		speech:  sp,
		actions: actionlog.New(o.opts.ActionLogSize),
	}
	c.machine = checkout.NewMachine(checkout.Options{
		Parser:      o.parser,
		Writer:      profile.FieldWriter{Store: o.opts.Profiles, UserID: s.UserID},
		Logger:      logger,
		GracePeriod: o.opts.GracePeriod,
		Phrases:     o.opts.Phrases,
		Now:         o.opts.Now,
	})
	c.supervisor = session.NewSupervisor(session.SupervisorOptions{
		Session:       sp,
		SessionID:     s.ID,
		EndBackoff:    o.opts.Reconnect.EndBackoff,
		ErrorBackoff:  o.opts.Reconnect.ErrorBackoff,
		MaxAttempts:   o.opts.Reconnect.MaxAttempts,
		Logger:        logger,
		Consumer:      c.HandleEvent,
		OnStateChange: c.connectionChanged,
		OnReconnect: func(cause string, _ int) {
			o.opts.Metrics.ObserveReconnect(cause)
		},
	})
	return c
}

func (c *Conversation) ID() string     { return c.id }
func (c *Conversation) UserID() string { return c.userID }

// Speech returns the session the conversation listens on.
func (c *Conversation) Speech() speech.Session { return c.speech }

func (c *Conversation) Connection() session.SupervisorStatus { return c.supervisor.Status() }

func (c *Conversation) Checkout() checkout.Snapshot { return c.machine.Snapshot() }

// Actions returns the action log, oldest first.
func (c *Conversation) Actions() []actionlog.Entry { return c.actions.Entries() }

// Attach routes server messages to outbound until Detach.
func (c *Conversation) Attach(outbound chan<- any) {
	c.stateMu.Lock()
	c.outbound = outbound
	c.stateMu.Unlock()
	c.emitCheckoutState("")
}

func (c *Conversation) Detach() {
	c.stateMu.Lock()
	c.outbound = nil
	c.stateMu.Unlock()
}

// Reconnect restarts a speech session stopped by a fatal error.
func (c *Conversation) Reconnect() error {
	return c.supervisor.Start(c.ctx)
}

// HandleEvent consumes one speech session event.
func (c *Conversation) HandleEvent(ctx context.Context, ev speech.Event) {
	switch ev.Type {
	case speech.EventSpeechStarted:
		c.stateMu.Lock()
		c.speaking = true
		c.stateMu.Unlock()
	case speech.EventSpeechEnded:
		at := ev.At
		if at.IsZero() {
			at = c.o.opts.Now()
		}
		c.stateMu.Lock()
		c.speaking = false
		c.lastSpeechEnd = at
		c.stateMu.Unlock()
	case speech.EventTranscript:
		if ev.IsFinal {
			c.HandleTranscript(ctx, ev.Text)
		}
	case speech.EventError:
		serr := reliability.ClassifySessionError(ev.Kind, ev.Message)
		c.emit(protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: c.id,
			Code:      serr.Kind,
			Source:    "speech",
			Retryable: !serr.Fatal,
			Detail:    serr.Message,
		})
	}
}

// HandleTranscript interprets a recognized utterance, after echo suppression.
func (c *Conversation) HandleTranscript(ctx context.Context, transcript string) TurnResult {
	return c.turn(ctx, transcript, true)
}

// HandleText interprets a typed command. Only the too-short rule applies.
func (c *Conversation) HandleText(ctx context.Context, text string) TurnResult {
	return c.turn(ctx, text, false)
}

func (c *Conversation) turn(ctx context.Context, transcript string, acoustic bool) TurnResult {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()

	start := time.Now()
	metrics := c.o.opts.Metrics
	transcript = strings.TrimSpace(transcript)

	gate := echo.Context{Now: c.o.opts.Now()}
	windows := echo.Windows{}
	if acoustic {
		c.stateMu.Lock()
		gate.Speaking = c.speaking
		gate.LastSpeechEnd = c.lastSpeechEnd
		gate.LastSpoken = c.lastSpoken.Text
		c.stateMu.Unlock()
		windows = c.o.opts.Echo
	}
	decision := echo.ShouldAccept(transcript, gate, windows)
	metrics.ObserveTranscript(string(decision.Reason))
	if !decision.Accept {
		c.logger.Debug("transcript suppressed", "reason", decision.Reason, "transcript", policy.Redact(transcript))
		return TurnResult{Mode: TurnSuppressed, Reason: string(decision.Reason)}
	}
	_ = c.o.opts.Sessions.Touch(c.id)
	defer func() { metrics.ObserveStage(observability.StageTurn, time.Since(start)) }()

	if c.machine.Active() {
		return c.checkoutTurn(ctx, transcript)
	}
	return c.commandTurn(ctx, transcript)
}

func (c *Conversation) checkoutTurn(ctx context.Context, transcript string) TurnResult {
	start := time.Now()
	out := c.machine.ProcessAnswer(ctx, transcript)
	c.o.opts.Metrics.ObserveStage(observability.StageCheckout, time.Since(start))
	c.o.opts.Metrics.ObserveCheckout(string(out.Step), string(out.Reason))

	res := TurnResult{
		Mode:     TurnCheckout,
		Accepted: out.Accepted,
		Reason:   string(out.Reason),
		Step:     string(out.Step),
	}
	if out.Silent {
		c.logger.Debug("checkout answer dropped", "reason", out.Reason, "step", out.Step)
		return res
	}

	if out.NextPrompt != "" {
		c.speak(ctx, out.NextPrompt)
		res.Reply = out.NextPrompt
	}
	c.emitCheckoutState(out.NextPrompt)

	switch out.Reason {
	case checkout.ReasonCancelled:
		c.record(intent.LabelOrderCompletion, "checkout cancelled", true)
	case checkout.ReasonConfirmed:
		res.Finalized = c.finalize(ctx)
	}
	return res
}

func (c *Conversation) commandTurn(ctx context.Context, transcript string) TurnResult {
	_ = c.o.opts.Sessions.RecordCommand(c.id)

	start := time.Now()
	cls := c.o.opts.Classifier.Classify(ctx, transcript)
	c.o.opts.Metrics.ObserveStage(observability.StageClassify, time.Since(start))
	c.o.opts.Metrics.ObserveIntent(string(cls.Label), string(cls.Source))
	if cls.Err != nil {
		c.o.opts.Metrics.ObserveIndicator("classification_degraded")
		c.logger.Warn("classification degraded", "error", cls.Err)
	}

	res := TurnResult{
		Mode:     TurnCommand,
		Accepted: true,
		Reason:   string(echo.ReasonAccepted),
		Label:    string(cls.Label),
		Source:   string(cls.Source),
	}

	switch cls.Label {
	case intent.LabelOrderCompletion:
		res.Reply = c.beginCheckout(ctx)
		res.Handled = true
		res.HandledBy = string(intent.LabelOrderCompletion)
		res.Step = string(c.machine.Step())
	case intent.LabelUserInfo:
		res.Reply, res.Handled = c.saveUserInfo(ctx, transcript)
		if res.Handled {
			res.HandledBy = string(intent.LabelUserInfo)
		}
	default:
		start := time.Now()
		out := c.o.opts.Router.Route(c.handlerContext(ctx), cls.Label, transcript)
		c.o.opts.Metrics.ObserveStage(observability.StageRoute, time.Since(start))
		res.Handled = out.Handled
		res.HandledBy = string(out.HandledBy)
		if !out.Handled {
			c.logger.Info("command not recognized", "label", cls.Label, "transcript", policy.Redact(transcript))
		}
	}

	metricLabel := res.HandledBy
	if metricLabel == "" {
		metricLabel = res.Label
	}
	c.o.opts.Metrics.ObserveHandler(metricLabel, res.Handled)

	entry := c.record(cls.Label, string(cls.Label)+": "+transcript, res.Handled)
	res.EntryID = entry.ID
	c.emit(protocol.CommandEvent{
		Type:        protocol.TypeCommandEvent,
		SessionID:   c.id,
		EntryID:     entry.ID,
		Label:       res.Label,
		Source:      res.Source,
		HandledBy:   res.HandledBy,
		Handled:     res.Handled,
		Description: entry.Description,
	})
	return res
}

// StartCheckout begins guided checkout, or jumps to confirmation when the
// profile already holds every field. It returns the prompt spoken.
func (c *Conversation) StartCheckout(ctx context.Context) string {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()
	prompt := c.beginCheckout(ctx)
	c.record(intent.LabelOrderCompletion, "checkout started", true)
	return prompt
}

// StopCheckout abandons guided checkout. It is idempotent.
func (c *Conversation) StopCheckout() {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()
	active := c.machine.Active()
	c.machine.StopFlow()
	if !active {
		return
	}
	c.record(intent.LabelOrderCompletion, "checkout stopped", true)
	c.emitCheckoutState("")
}

func (c *Conversation) beginCheckout(ctx context.Context) string {
	p, err := c.o.opts.Profiles.Get(ctx, c.userID)
	if err != nil && !errors.Is(err, profile.ErrNotFound) {
		c.logger.Warn("profile lookup failed", "error", err)
	}

	var prompt string
	if err == nil && p.Complete() {
		prompt = c.machine.StartConfirm(ctx, p.Values())
	} else {
		prompt = c.machine.StartFlow(ctx)
	}
	c.speak(ctx, prompt)
	c.emitCheckoutState(prompt)
	return prompt
}

func (c *Conversation) finalize(ctx context.Context) bool {
	p, err := c.o.opts.Profiles.Get(ctx, c.userID)
	if err != nil {
		if !errors.Is(err, profile.ErrNotFound) {
			c.logger.Warn("profile lookup failed before order", "error", err)
		}
		p = profile.Profile{UserID: c.userID}
	}
	p.Apply(c.machine.Collected())

	err = c.o.opts.Orders.SubmitOrder(ctx, c.userID, p)
	c.o.opts.Metrics.ObserveOrder(err)
	if err != nil {
		c.logger.Error("order submission failed", "error", err)
		c.record(intent.LabelOrderCompletion, "order submission failed", false)
		c.speak(ctx, orderFailedPrompt)
		return false
	}
	c.record(intent.LabelOrderCompletion, "order placed", true)
	return true
}

func (c *Conversation) saveUserInfo(ctx context.Context, transcript string) (string, bool) {
	if c.o.opts.Extractor == nil {
		return "", false
	}
	start := time.Now()
	fields, err := c.o.opts.Extractor.ExtractUserInfo(ctx, transcript)
	c.o.opts.Metrics.ObserveStage(observability.StageExtract, time.Since(start))
	if err != nil {
		c.logger.Warn("user info extraction failed", "error", err)
		c.speak(ctx, infoSaveFailedReply)
		return infoSaveFailedReply, false
	}
	if len(fields) == 0 {
		c.speak(ctx, infoNotUnderstoodReply)
		return infoNotUnderstoodReply, false
	}
	if _, err := c.o.opts.Profiles.Update(ctx, c.userID, fields); err != nil {
		c.logger.Warn("profile update failed", "error", err)
		c.speak(ctx, infoSaveFailedReply)
		return infoSaveFailedReply, false
	}

	var names []string
	for _, f := range extract.Fields {
		if _, ok := fields[f]; ok {
			names = append(names, fieldNames[f])
		}
	}
	reply := "Got it, I saved your " + joinWords(names) + "."
	c.speak(ctx, reply)
	return reply, true
}

// Speak says text on the speech session and records it for echo suppression.
func (c *Conversation) Speak(ctx context.Context, text string) error {
	return c.speak(ctx, text)
}

func (c *Conversation) speak(ctx context.Context, text string) error {
	text = spokenText(text)
	if text == "" {
		return nil
	}
	c.stateMu.Lock()
	c.lastSpoken = echo.SpokenPrompt{Text: text, At: c.o.opts.Now()}
	c.stateMu.Unlock()

	if err := c.speech.SendSystemUtterance(ctx, text); err != nil {
		c.logger.Warn("system utterance not delivered", "error", err)
		return err
	}
	return nil
}

func (c *Conversation) handlerContext(ctx context.Context) context.Context {
	meta := handlers.Meta{SessionID: c.id, UserID: c.userID}
	if s, err := c.o.opts.Sessions.Get(c.id); err == nil {
		meta.Locale = s.Locale
	}
	return handlers.WithMeta(ctx, meta)
}

func (c *Conversation) record(label intent.Label, description string, success bool) actionlog.Entry {
	return c.actions.Append(string(label), description, success)
}

func (c *Conversation) emitCheckoutState(prompt string) {
	snap := c.machine.Snapshot()
	collected := make([]string, 0, len(snap.Collected))
	for _, f := range snap.Collected {
		collected = append(collected, string(f))
	}
	c.emit(protocol.CheckoutState{
		Type:      protocol.TypeCheckoutState,
		SessionID: c.id,
		Step:      string(snap.Step),
		Active:    snap.Active,
		Collected: collected,
		Prompt:    prompt,
	})
}

// connectionChanged runs under the supervisor lock.
func (c *Conversation) connectionChanged(st session.SupervisorStatus) {
	c.stateMu.Lock()
	prev := c.connState
	c.connState = string(st.State)
	closed := c.closed
	c.stateMu.Unlock()
	if closed {
		return
	}
	c.o.opts.Metrics.MoveSupervisor(prev, string(st.State))
	c.emit(protocol.ConnectionState{
		Type:      protocol.TypeConnectionState,
		SessionID: c.id,
		State:     string(st.State),
		Mode:      string(st.Mode),
		Attempts:  st.Attempts,
	})
}

func (c *Conversation) emit(msg any) {
	c.stateMu.Lock()
	out := c.outbound
	c.stateMu.Unlock()
	c.o.send(out, msg)
}

func (c *Conversation) close() {
	_ = c.supervisor.Stop()
	c.machine.StopFlow()
	c.stateMu.Lock()
	prev := c.connState
	c.closed = true
	c.outbound = nil
	c.stateMu.Unlock()
	c.o.opts.Metrics.MoveSupervisor(prev, "")
	c.cancel()
}

func joinWords(words []string) string {
	switch len(words) {
	case 0:
		return "details"
	case 1:
		return words[0]
	default:
		return strings.Join(words[:len(words)-1], ", ") + " and " + words[len(words)-1]
	}
}
