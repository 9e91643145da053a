package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ent0n29/voicecart/internal/reliability"
	"github.com/ent0n29/voicecart/internal/speech"
)

// ConnState is the connectivity of a supervised speech session.
type ConnState string

const (
	ConnIdle       ConnState = "idle"
	ConnConnecting ConnState = "connecting"
	ConnActive     ConnState = "active"
	ConnErroring   ConnState = "erroring"
)

// ReconnectMode replaces a sentinel attempt count: a supervisor is either
// ready (no failures since the last success), backing off (counting
// consecutive attempts) or disabled until the next manual Start.
type ReconnectMode string

const (
	ReconnectReady    ReconnectMode = "ready"
	ReconnectBackoff  ReconnectMode = "backoff"
	ReconnectDisabled ReconnectMode = "disabled"
)

const (
	DefaultEndBackoff   = time.Second
	DefaultErrorBackoff = 3 * time.Second
	DefaultMaxAttempts  = 3
)

// ErrStopped is returned by Start when the supervisor was stopped while connecting.
var ErrStopped = errors.New("supervisor stopped")

// SupervisorOptions configures a Supervisor.
type SupervisorOptions struct {
	Session      speech.Session
	SessionID    string
	EndBackoff   time.Duration
	ErrorBackoff time.Duration
	MaxAttempts  int
	Logger       *slog.Logger
	// Consumer receives every event of the current connection, in order.
	Consumer func(ctx context.Context, ev speech.Event)
	// OnStateChange reports connectivity changes. Hooks run under the
	// supervisor lock and must not call back into it.
	OnStateChange func(SupervisorStatus)
	// OnReconnect is called when a reconnect is scheduled, with the cause.
	OnReconnect func(cause string, attempt int)
}

// SupervisorStatus is a point-in-time view of a Supervisor.
type SupervisorStatus struct {
	State     ConnState     `json:"state"`
	Mode      ReconnectMode `json:"mode"`
	Attempts  int           `json:"attempts"`
	WasActive bool          `json:"was_active"`
	LastError string        `json:"last_error,omitempty"`
}

// Supervisor owns the lifecycle of one speech session: it starts it,
// resubscribes the consumer on every connection and reconnects after drops
// under a bounded policy.
type Supervisor struct {
	opts SupervisorOptions

	mu        sync.Mutex
	ctx       context.Context
	running   bool
	gen       uint64
	state     ConnState
	mode      ReconnectMode
	attempts  int
	wasActive bool
	closedGen uint64
	lastErr   string
	timer     *time.Timer
}

func NewSupervisor(opts SupervisorOptions) *Supervisor {
	if opts.EndBackoff <= 0 {
		opts.EndBackoff = DefaultEndBackoff
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = DefaultErrorBackoff
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Supervisor{
		opts:  opts,
		state: ConnIdle,
		mode:  ReconnectReady,
	}
}

// Start connects the session. It is a no-op on a running supervisor and
// restarts one disabled by a fatal error.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running && s.mode != ReconnectDisabled {
		s.mu.Unlock()
		return nil
	}
	s.cancelTimerLocked()
	s.running = true
	s.ctx = ctx
	s.mode = ReconnectReady
	s.attempts = 0
	s.wasActive = false
	s.lastErr = ""
	s.mu.Unlock()
	return s.connect()
}

// Stop disables reconnection, cancels any pending reconnect and stops the
// session. It is idempotent.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if !s.running && s.mode == ReconnectDisabled {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mode = ReconnectDisabled
	s.gen++
	s.cancelTimerLocked()
	s.setStateLocked(ConnIdle)
	s.mu.Unlock()
	return s.opts.Session.Stop()
}

func (s *Supervisor) Status() SupervisorStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Supervisor) statusLocked() SupervisorStatus {
	return SupervisorStatus{
		State:     s.state,
		Mode:      s.mode,
		Attempts:  s.attempts,
		WasActive: s.wasActive,
		LastError: s.lastErr,
	}
}

func (s *Supervisor) connect() error {
	s.mu.Lock()
	if !s.running || s.mode == ReconnectDisabled {
		s.mu.Unlock()
		return ErrStopped
	}
	s.gen++
	gen := s.gen
	ctx := s.ctx
	s.setStateLocked(ConnConnecting)
	s.mu.Unlock()

	events, err := s.opts.Session.Start(ctx, s.opts.SessionID)

	s.mu.Lock()
	if gen != s.gen || !s.running {
		s.mu.Unlock()
		if err == nil {
			_ = s.opts.Session.Stop()
		}
		return ErrStopped
	}
	if err != nil {
		s.failLocked(gen, reliability.ClassifySessionError("connect", err.Error()))
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	go s.pump(ctx, gen, events)
	return nil
}

func (s *Supervisor) pump(ctx context.Context, gen uint64, events <-chan speech.Event) {
	for ev := range events {
		if !s.handle(gen, ev) {
			s.opts.Logger.Debug("dropping event from stale session", "type", ev.Type)
			continue
		}
		if s.opts.Consumer != nil {
			s.opts.Consumer(ctx, ev)
		}
	}

	// A channel closed without session_ended or error is an unexpected end.
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen == s.gen && s.closedGen != gen && s.running {
		s.endedLocked(gen)
	}
}

// handle applies lifecycle events and reports whether ev belongs to the
// current connection.
func (s *Supervisor) handle(gen uint64, ev speech.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return false
	}
	switch ev.Type {
	case speech.EventSessionStarted:
		s.cancelTimerLocked()
		s.attempts = 0
		s.mode = ReconnectReady
		s.wasActive = true
		s.lastErr = ""
		s.setStateLocked(ConnActive)
	case speech.EventSessionEnded:
		s.endedLocked(gen)
	case speech.EventError:
		s.failLocked(gen, reliability.ClassifySessionError(ev.Kind, ev.Message))
	}
	return true
}

// endedLocked and failLocked schedule at most one reconnect per connection:
// transports often report a drop as both error and session_ended.
func (s *Supervisor) endedLocked(gen uint64) {
	if s.closedGen == gen {
		return
	}
	s.closedGen = gen
	s.setStateLocked(ConnIdle)
	if !s.wasActive {
		return
	}
	s.scheduleLocked(gen, s.opts.EndBackoff, "session_ended")
}

func (s *Supervisor) failLocked(gen uint64, serr *reliability.SessionError) {
	if s.closedGen == gen && !serr.Fatal {
		return
	}
	s.closedGen = gen
	s.lastErr = serr.Error()
	if serr.Fatal {
		s.opts.Logger.Error("speech session failed permanently", "kind", serr.Kind, "error", serr.Message)
		s.mode = ReconnectDisabled
		s.cancelTimerLocked()
		s.setStateLocked(ConnErroring)
		return
	}
	s.setStateLocked(ConnErroring)
	s.opts.Logger.Warn("speech session error", "kind", serr.Kind, "error", serr.Message)
	s.scheduleLocked(gen, s.opts.ErrorBackoff, "error")
}

func (s *Supervisor) scheduleLocked(gen uint64, backoff time.Duration, cause string) {
	if s.mode == ReconnectDisabled || !s.running {
		return
	}
	if s.attempts >= s.opts.MaxAttempts {
		s.opts.Logger.Warn("speech session reconnect budget exhausted", "attempts", s.attempts)
		return
	}
	s.attempts++
	s.mode = ReconnectBackoff
	attempt := s.attempts
	s.cancelTimerLocked()
	s.timer = time.AfterFunc(backoff, func() { s.fire(gen) })
	s.opts.Logger.Info("speech session reconnect scheduled", "cause", cause, "attempt", attempt, "backoff", backoff)
	if s.opts.OnReconnect != nil {
		s.opts.OnReconnect(cause, attempt)
	}
}

func (s *Supervisor) fire(gen uint64) {
	s.mu.Lock()
	stale := gen != s.gen || !s.running || s.mode == ReconnectDisabled
	if !stale {
		s.timer = nil
		if s.ctx != nil && s.ctx.Err() != nil {
			stale = true
		}
	}
	s.mu.Unlock()
	if stale {
		return
	}
	if err := s.connect(); err != nil && !errors.Is(err, ErrStopped) {
		s.opts.Logger.Warn("speech session reconnect failed", "error", err)
	}
}

func (s *Supervisor) cancelTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Supervisor) setStateLocked(state ConnState) {
	if s.state == state {
		return
	}
	s.state = state
	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange(s.statusLocked())
	}
}
