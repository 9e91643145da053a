package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/voicecart/internal/policy"
	"github.com/ent0n29/voicecart/internal/profile"
	"github.com/ent0n29/voicecart/internal/reliability"
)

// OrderWebhook submits confirmed orders to an order service.
type OrderWebhook struct {
	url    string
	client *http.Client
	retry  reliability.RetryConfig
}

func NewOrderWebhook(url string) *OrderWebhook {
	return &OrderWebhook{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: 15 * time.Second},
		retry:  reliability.DefaultRetryConfig(),
	}
}

type orderRequest struct {
	IdempotencyKey string          `json:"idempotency_key"`
	UserID         string          `json:"user_id"`
	Profile        profile.Profile `json:"profile"`
}

func (o *OrderWebhook) SubmitOrder(ctx context.Context, userID string, p profile.Profile) error {
	payload, err := json.Marshal(orderRequest{
		IdempotencyKey: uuid.NewString(),
		UserID:         userID,
		Profile:        p,
	})
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}

	return reliability.WithRetry(ctx, o.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(payload))
		if err != nil {
			return reliability.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		res, err := o.client.Do(req)
		if err != nil {
			return fmt.Errorf("send order: %w", err)
		}
		defer res.Body.Close()

		if res.StatusCode >= 200 && res.StatusCode < 300 {
			return nil
		}
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		err = fmt.Errorf("order webhook status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
		if reliability.IsRetryableHTTPStatus(res.StatusCode) {
			return err
		}
		return reliability.Permanent(err)
	})
}

// LogOrders accepts every order and only logs it. Used when no order
// service is configured.
type LogOrders struct {
	logger *slog.Logger
}

func NewLogOrders(logger *slog.Logger) *LogOrders {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogOrders{logger: logger}
}

func (o *LogOrders) SubmitOrder(_ context.Context, userID string, p profile.Profile) error {
	o.logger.Info("order submitted",
		"user_id", userID,
		"name", policy.MaskValue("name", p.Name),
		"card", policy.MaskValue("cardNumber", p.CardNumber),
	)
	return nil
}
