package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/voicecart/internal/speech"
)

const (
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond
)

type recorder struct {
	mu     sync.Mutex
	states []ConnState
	events []speech.Event
}

func (r *recorder) state(st SupervisorStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, st.State)
}

func (r *recorder) consume(_ context.Context, ev speech.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) transcripts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if ev.Type == speech.EventTranscript {
			out = append(out, ev.Text)
		}
	}
	return out
}

func (r *recorder) sawState(s ConnState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range r.states {
		if st == s {
			return true
		}
	}
	return false
}

func newTestSupervisor(t *testing.T, m *speech.Mock, backoff time.Duration) (*Supervisor, *recorder) {
	t.Helper()
	rec := &recorder{}
	sup := NewSupervisor(SupervisorOptions{
		Session:       m,
		SessionID:     "s1",
		EndBackoff:    backoff,
		ErrorBackoff:  backoff,
		MaxAttempts:   3,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		Consumer:      rec.consume,
		OnStateChange: rec.state,
	})
	t.Cleanup(func() { _ = sup.Stop() })
	return sup, rec
}

func waitActive(t *testing.T, sup *Supervisor) {
	t.Helper()
	require.Eventually(t, func() bool { return sup.Status().State == ConnActive }, waitFor, tick)
}

func TestSupervisorConnects(t *testing.T) {
	m := speech.NewMock()
	sup, rec := newTestSupervisor(t, m, 5*time.Millisecond)

	require.NoError(t, sup.Start(context.Background()))
	waitActive(t, sup)
	assert.True(t, rec.sawState(ConnConnecting))

	require.NoError(t, sup.Start(context.Background()))
	assert.Equal(t, 1, m.Starts())

	status := sup.Status()
	assert.Equal(t, ReconnectReady, status.Mode)
	assert.True(t, status.WasActive)
}

func TestSupervisorStopsAfterThreeFailedReconnects(t *testing.T) {
	m := speech.NewMock()
	sup, _ := newTestSupervisor(t, m, 5*time.Millisecond)
	require.NoError(t, sup.Start(context.Background()))
	waitActive(t, sup)

	// Reconnects connect but never report session_started.
	m.SetAutoStart(false)
	for i := 1; i <= 3; i++ {
		m.End()
		want := 1 + i
		require.Eventually(t, func() bool { return m.Starts() == want }, waitFor, tick, "reconnect %d", i)
	}

	m.End()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 4, m.Starts())
	status := sup.Status()
	assert.Equal(t, 3, status.Attempts)
	assert.Equal(t, ConnIdle, status.State)
}

func TestSupervisorSuccessResetsAttempts(t *testing.T) {
	m := speech.NewMock()
	sup, rec := newTestSupervisor(t, m, 5*time.Millisecond)
	require.NoError(t, sup.Start(context.Background()))
	waitActive(t, sup)
	require.True(t, m.Say("first"))

	for i := 1; i <= 5; i++ {
		m.End()
		want := 1 + i
		require.Eventually(t, func() bool { return m.Starts() == want && sup.Status().State == ConnActive }, waitFor, tick)
		assert.Equal(t, 0, sup.Status().Attempts)
	}

	// The consumer follows every new connection.
	require.True(t, m.Say("after reconnect"))
	require.Eventually(t, func() bool { return len(rec.transcripts()) == 2 }, waitFor, tick)
	assert.Equal(t, []string{"first", "after reconnect"}, rec.transcripts())
}

func TestSupervisorFatalErrorDisablesReconnect(t *testing.T) {
	m := speech.NewMock()
	sup, rec := newTestSupervisor(t, m, 5*time.Millisecond)
	require.NoError(t, sup.Start(context.Background()))
	waitActive(t, sup)

	m.Fail("auth", "401 unauthorized")
	require.Eventually(t, func() bool { return sup.Status().Mode == ReconnectDisabled }, waitFor, tick)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 1, m.Starts())
	assert.Equal(t, ConnErroring, sup.Status().State)
	assert.Contains(t, sup.Status().LastError, "unauthorized")
	assert.True(t, rec.sawState(ConnErroring))

	// A manual Start recovers.
	require.NoError(t, sup.Start(context.Background()))
	waitActive(t, sup)
	assert.Equal(t, 2, m.Starts())
}

func TestSupervisorTransientErrorReconnects(t *testing.T) {
	m := speech.NewMock()
	sup, _ := newTestSupervisor(t, m, 5*time.Millisecond)
	require.NoError(t, sup.Start(context.Background()))
	waitActive(t, sup)

	m.Fail("network", "connection reset by peer")
	require.Eventually(t, func() bool { return m.Starts() == 2 && sup.Status().State == ConnActive }, waitFor, tick)
}

func TestSupervisorStopCancelsPendingReconnect(t *testing.T) {
	m := speech.NewMock()
	sup, _ := newTestSupervisor(t, m, 80*time.Millisecond)
	require.NoError(t, sup.Start(context.Background()))
	waitActive(t, sup)

	m.End()
	require.Eventually(t, func() bool { return sup.Status().Mode == ReconnectBackoff }, waitFor, tick)
	require.NoError(t, sup.Stop())
	require.NoError(t, sup.Stop())

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, m.Starts())
	status := sup.Status()
	assert.Equal(t, ReconnectDisabled, status.Mode)
	assert.Equal(t, ConnIdle, status.State)
}

func TestSupervisorConnectFailures(t *testing.T) {
	t.Run("transient dial errors are bounded", func(t *testing.T) {
		m := speech.NewMock()
		m.SetStartErr(errors.New("dial speech websocket: 503 Service Unavailable"))
		sup, _ := newTestSupervisor(t, m, 5*time.Millisecond)

		assert.Error(t, sup.Start(context.Background()))
		require.Eventually(t, func() bool { return m.Starts() == 4 }, waitFor, tick)
		time.Sleep(40 * time.Millisecond)
		assert.Equal(t, 4, m.Starts())
	})

	t.Run("auth dial errors are fatal", func(t *testing.T) {
		m := speech.NewMock()
		m.SetStartErr(errors.New("dial speech websocket: 401 Unauthorized"))
		sup, _ := newTestSupervisor(t, m, 5*time.Millisecond)

		assert.Error(t, sup.Start(context.Background()))
		time.Sleep(40 * time.Millisecond)
		assert.Equal(t, 1, m.Starts())
		assert.Equal(t, ReconnectDisabled, sup.Status().Mode)
	})
}

func (r *recorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestSupervisorOneDropSchedulesOneReconnect(t *testing.T) {
	cases := []struct {
		name  string
		first speech.Event
	}{
		{"error then end", speech.Event{Type: speech.EventError, Kind: "network", Message: "connection reset by peer"}},
		{"end then end", speech.Event{Type: speech.EventSessionEnded}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := speech.NewMock()
			sup, rec := newTestSupervisor(t, m, time.Hour)
			require.NoError(t, sup.Start(context.Background()))
			waitActive(t, sup)

			require.True(t, m.Emit(tc.first))
			m.End()
			// session_started plus both drop reports reached the consumer.
			require.Eventually(t, func() bool { return rec.total() == 3 }, waitFor, tick)

			status := sup.Status()
			assert.Equal(t, ReconnectBackoff, status.Mode)
			assert.Equal(t, 1, status.Attempts)
		})
	}
}

func TestSupervisorFatalErrorAfterDropCancelsReconnect(t *testing.T) {
	m := speech.NewMock()
	sup, _ := newTestSupervisor(t, m, 50*time.Millisecond)
	require.NoError(t, sup.Start(context.Background()))
	waitActive(t, sup)

	require.True(t, m.Emit(speech.Event{Type: speech.EventError, Kind: "network", Message: "connection reset by peer"}))
	m.Fail("auth", "401 unauthorized")
	require.Eventually(t, func() bool { return sup.Status().Mode == ReconnectDisabled }, waitFor, tick)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, m.Starts())
	assert.Contains(t, sup.Status().LastError, "unauthorized")
}
