package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/voicecart/internal/intent"
	"github.com/ent0n29/voicecart/internal/reliability"
)

// Webhook forwards commands to a storefront endpoint that executes them.
// The endpoint answers {"handled": bool}; 404 means "not recognized".
type Webhook struct {
	url    string
	client *http.Client
	retry  reliability.RetryConfig
}

func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  reliability.DefaultRetryConfig(),
	}
}

type commandRequest struct {
	Label      string `json:"label"`
	Transcript string `json:"transcript"`
	SessionID  string `json:"session_id,omitempty"`
	UserID     string `json:"user_id,omitempty"`
	Locale     string `json:"locale,omitempty"`
}

type commandResponse struct {
	Handled *bool `json:"handled"`
}

// For returns a handler that posts commands under label.
func (w *Webhook) For(label intent.Label) intent.Handler {
	return intent.HandlerFunc(func(ctx context.Context, transcript string) (bool, error) {
		meta := MetaFrom(ctx)
		return w.post(ctx, commandRequest{
			Label:      string(label),
			Transcript: transcript,
			SessionID:  meta.SessionID,
			UserID:     meta.UserID,
			Locale:     meta.Locale,
		})
	})
}

func (w *Webhook) post(ctx context.Context, body commandRequest) (bool, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return false, fmt.Errorf("marshal command: %w", err)
	}

	var handled bool
	err = reliability.WithRetry(ctx, w.retry, func() error {
		var postErr error
		handled, postErr = w.postOnce(ctx, payload)
		return postErr
	})
	return handled, err
}

func (w *Webhook) postOnce(ctx context.Context, payload []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return false, reliability.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := w.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("send command: %w", err)
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	switch {
	case res.StatusCode == http.StatusNotFound:
		return false, nil
	case res.StatusCode < 200 || res.StatusCode >= 300:
		err := fmt.Errorf("storefront webhook status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
		if reliability.IsRetryableHTTPStatus(res.StatusCode) {
			return false, err
		}
		return false, reliability.Permanent(err)
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return true, nil
	}
	var out commandResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return false, reliability.Permanent(errors.New("storefront webhook returned invalid json"))
	}
	if out.Handled == nil {
		return true, nil
	}
	return *out.Handled, nil
}
