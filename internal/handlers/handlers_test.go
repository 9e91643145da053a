package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/voicecart/internal/intent"
	"github.com/ent0n29/voicecart/internal/profile"
	"github.com/ent0n29/voicecart/internal/speech"
)

func fastWebhook(url string) *Webhook {
	w := NewWebhook(url)
	w.retry.InitialDelay = 0
	return w
}

func TestWebhookPostsCommandWithMeta(t *testing.T) {
	got := make(chan commandRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body commandRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		got <- body
		_, _ = w.Write([]byte(`{"handled":true}`))
	}))
	defer srv.Close()

	ctx := WithMeta(context.Background(), Meta{SessionID: "s1", UserID: "u1", Locale: "en"})
	handled, err := fastWebhook(srv.URL).For(intent.LabelCart).Handle(ctx, "add shoes to cart")
	require.NoError(t, err)
	assert.True(t, handled)

	body := <-got
	assert.Equal(t, "cart", body.Label)
	assert.Equal(t, "add shoes to cart", body.Transcript)
	assert.Equal(t, "s1", body.SessionID)
	assert.Equal(t, "u1", body.UserID)
}

func TestWebhookResponses(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		handled bool
		wantErr bool
	}{
		{"declined", http.StatusOK, `{"handled":false}`, false, false},
		{"empty body", http.StatusNoContent, ``, true, false},
		{"no handled field", http.StatusOK, `{"ok":1}`, true, false},
		{"not found", http.StatusNotFound, ``, false, false},
		{"bad request", http.StatusBadRequest, `nope`, false, true},
		{"invalid json", http.StatusOK, `{`, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			handled, err := fastWebhook(srv.URL).For(intent.LabelNavigation).Handle(context.Background(), "go home")
			assert.Equal(t, tc.handled, handled)
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestWebhookRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"handled":true}`))
	}))
	defer srv.Close()

	handled, err := fastWebhook(srv.URL).For(intent.LabelCart).Handle(context.Background(), "add it")
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, int32(3), calls.Load())
}

type fakeSender struct {
	err   error
	calls []string
}

func (f *fakeSender) SendCommand(_ context.Context, sessionID string, label intent.Label, transcript string) error {
	f.calls = append(f.calls, sessionID+"|"+string(label)+"|"+transcript)
	return f.err
}

func TestRelay(t *testing.T) {
	sender := &fakeSender{}
	h := NewRelay(sender).For(intent.LabelApplyFilter)

	handled, err := h.Handle(context.Background(), "only red ones")
	require.NoError(t, err)
	assert.False(t, handled, "no session in context")

	ctx := WithMeta(context.Background(), Meta{SessionID: "s1"})
	handled, err = h.Handle(ctx, "only red ones")
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, []string{"s1|apply_filter|only red ones"}, sender.calls)

	sender.err = speech.ErrNotConnected
	handled, err = h.Handle(ctx, "only red ones")
	require.NoError(t, err)
	assert.False(t, handled)

	sender.err = errors.New("write failed")
	_, err = h.Handle(ctx, "only red ones")
	require.Error(t, err)
}

type fakeLocales struct {
	set map[string]string
}

func (f *fakeLocales) SetLocale(sessionID, locale string) error {
	if f.set == nil {
		f.set = make(map[string]string)
	}
	f.set[sessionID] = locale
	return nil
}

func TestLocaleSwitch(t *testing.T) {
	locales := &fakeLocales{}
	h := NewLocaleSwitch(locales)
	ctx := WithMeta(context.Background(), Meta{SessionID: "s1"})

	handled, err := h.Handle(ctx, "Switch to Spanish, please.")
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, "es", locales.set["s1"])

	handled, err = h.Handle(ctx, "switch the language")
	require.NoError(t, err)
	assert.False(t, handled)

	code, ok := LocaleFromTranscript("en français s'il vous plaît")
	assert.True(t, ok)
	assert.Equal(t, "fr", code)
}

func TestOrderWebhook(t *testing.T) {
	got := make(chan orderRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body orderRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		got <- body
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	o := NewOrderWebhook(srv.URL)
	err := o.SubmitOrder(context.Background(), "u1", profile.Profile{UserID: "u1", Name: "John Smith", CVV: "123"})
	require.NoError(t, err)

	body := <-got
	assert.Equal(t, "u1", body.UserID)
	assert.NotEmpty(t, body.IdempotencyKey)
	assert.Equal(t, "John Smith", body.Profile.Name)
}

func TestOrderWebhookRejection(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "card declined", http.StatusPaymentRequired)
	}))
	defer srv.Close()

	err := NewOrderWebhook(srv.URL).SubmitOrder(context.Background(), "u1", profile.Profile{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "card declined")
	assert.Equal(t, int32(1), calls.Load())
}

func TestLogOrdersAlwaysSucceeds(t *testing.T) {
	o := NewLogOrders(slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.NoError(t, o.SubmitOrder(context.Background(), "u1", profile.Profile{CardNumber: "4242 4242 4242 4242"}))
}
