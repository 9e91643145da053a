// Package voice runs conversations: it gates transcripts, drives the checkout
// dialogue or routes commands, and speaks the replies.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ent0n29/voicecart/internal/actionlog"
	"github.com/ent0n29/voicecart/internal/checkout"
	"github.com/ent0n29/voicecart/internal/config"
	"github.com/ent0n29/voicecart/internal/echo"
	"github.com/ent0n29/voicecart/internal/extract"
	"github.com/ent0n29/voicecart/internal/intent"
	"github.com/ent0n29/voicecart/internal/observability"
	"github.com/ent0n29/voicecart/internal/profile"
	"github.com/ent0n29/voicecart/internal/protocol"
	"github.com/ent0n29/voicecart/internal/session"
)

var ErrConversationNotFound = errors.New("conversation not found")

const (
	criticalSendTimeout = 600 * time.Millisecond
	defaultEchoAmbient  = 800 * time.Millisecond
	defaultEchoCompare  = 6 * time.Second
)

// ReconnectPolicy configures the speech session supervisor of every conversation.
type ReconnectPolicy struct {
	EndBackoff   time.Duration
	ErrorBackoff time.Duration
	MaxAttempts  int
}

// Options configures an Orchestrator.
type Options struct {
	Sessions   *session.Manager
	Speech     SpeechFactory
	Classifier *intent.Classifier
	Router     *intent.Router
	Extractor  InfoExtractor
	Profiles   profile.Store
	Orders     OrderSubmitter
	Metrics    *observability.Metrics
	Logger     *slog.Logger

	Phrases config.Phrases
	Echo    echo.Windows
	// GracePeriod zero selects the default; negative disables it.
	GracePeriod   time.Duration
	ActionLogSize int
	Reconnect     ReconnectPolicy
	Now           func() time.Time
}

// Orchestrator owns the live conversations, one per voice session.
type Orchestrator struct {
	opts   Options
	parser *extract.Parser
	logger *slog.Logger

	mu            sync.Mutex
	conversations map[string]*Conversation
}

func NewOrchestrator(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sessions == nil {
		opts.Sessions = session.NewManager(0)
	}
	if opts.Classifier == nil {
		cls, err := intent.NewClassifier(intent.ClassifierOptions{Overrides: opts.Phrases.Overrides, Logger: opts.Logger})
		if err != nil {
			opts.Logger.Warn("ignoring invalid intent overrides", "error", err)
			cls, _ = intent.NewClassifier(intent.ClassifierOptions{Logger: opts.Logger})
		}
		opts.Classifier = cls
	}
	if opts.Router == nil {
		opts.Router = intent.NewRouter(opts.Logger)
	}
	if opts.Profiles == nil {
		opts.Profiles = profile.NewInMemoryStore()
	}
	if opts.Orders == nil {
		opts.Orders = noopOrders{logger: opts.Logger}
	}
	if opts.Echo == (echo.Windows{}) {
		opts.Echo = echo.Windows{Ambient: defaultEchoAmbient, Echo: defaultEchoCompare}
	}
	if opts.GracePeriod == 0 {
		opts.GracePeriod = checkout.DefaultGracePeriod
	}
	if opts.ActionLogSize <= 0 {
		opts.ActionLogSize = actionlog.DefaultSize
	}
	return &Orchestrator{
		opts:          opts,
		parser:        extract.NewParser(extract.OptionsFromPhrases(opts.Phrases)),
		logger:        opts.Logger,
		conversations: make(map[string]*Conversation),
	}
}

// Open returns the conversation of s, creating it and starting its speech
// session on first use. The conversation outlives ctx; end it with Close.
func (o *Orchestrator) Open(ctx context.Context, s *session.Session) (*Conversation, error) {
	o.mu.Lock()
	if c, ok := o.conversations[s.ID]; ok {
		o.mu.Unlock()
		return c, nil
	}
	if o.opts.Speech == nil {
		o.mu.Unlock()
		return nil, fmt.Errorf("open conversation %s: no speech factory", s.ID)
	}
	sp, err := o.opts.Speech(s)
	if err != nil {
		o.mu.Unlock()
		return nil, fmt.Errorf("open conversation %s: %w", s.ID, err)
	}
	c := newConversation(context.WithoutCancel(ctx), o, s, sp)
	o.conversations[s.ID] = c
	o.mu.Unlock()

	o.opts.Metrics.SessionOpened()
	if err := c.supervisor.Start(c.ctx); err != nil {
		// The supervisor keeps retrying transient failures on its own.
		o.logger.Warn("speech session start failed", "session_id", s.ID, "error", err)
	}
	return c, nil
}

func (o *Orchestrator) Get(sessionID string) (*Conversation, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	c, ok := o.conversations[sessionID]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return c, nil
}

// Close stops and forgets the conversation of sessionID. It is idempotent.
func (o *Orchestrator) Close(sessionID string) {
	o.mu.Lock()
	c, ok := o.conversations[sessionID]
	delete(o.conversations, sessionID)
	o.mu.Unlock()
	if !ok {
		return
	}
	c.close()
	o.opts.Metrics.SessionClosed()
}

// CloseAll ends every conversation, for shutdown.
func (o *Orchestrator) CloseAll() {
	o.mu.Lock()
	ids := make([]string, 0, len(o.conversations))
	for id := range o.conversations {
		ids = append(ids, id)
	}
	o.mu.Unlock()
	for _, id := range ids {
		o.Close(id)
	}
}

func (o *Orchestrator) Count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.conversations)
}

// send delivers msg to outbound. Critical messages wait briefly for a slow
// client; the rest are dropped when the buffer is full.
func (o *Orchestrator) send(outbound chan<- any, msg any) {
	if outbound == nil {
		return
	}
	msgType, critical := outboundMessageMeta(msg)
	if !critical {
		select {
		case outbound <- msg:
			o.opts.Metrics.ObserveWSMessage("outbound", msgType)
		default:
			o.opts.Metrics.ObserveWSMessage("outbound_dropped", msgType)
		}
		return
	}

	timer := time.NewTimer(criticalSendTimeout)
	defer timer.Stop()
	select {
	case outbound <- msg:
		o.opts.Metrics.ObserveWSMessage("outbound", msgType)
	case <-timer.C:
		o.opts.Metrics.ObserveWSMessage("outbound_dropped", msgType)
	}
}

func outboundMessageMeta(msg any) (msgType string, critical bool) {
	switch m := msg.(type) {
	case protocol.SystemUtterance:
		return string(m.Type), true
	case protocol.CheckoutState:
		return string(m.Type), true
	case protocol.ErrorEvent:
		return string(m.Type), true
	case protocol.CommandEvent:
		return string(m.Type), false
	case protocol.ConnectionState:
		return string(m.Type), false
	default:
		return "unknown", false
	}
}

type noopOrders struct {
	logger *slog.Logger
}

func (n noopOrders) SubmitOrder(_ context.Context, userID string, _ profile.Profile) error {
	n.logger.Info("order confirmed without an order service", "user_id", userID)
	return nil
}
