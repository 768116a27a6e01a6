// Package notify отвечает за формирование и отправку уведомлений участникам
// через внешний сервис доставки.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Client инкапсулирует HTTP-взаимодействие с сервисом доставки уведомлений.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Message описывает уведомление, передаваемое сервису доставки.
type Message struct {
	ID        uuid.UUID `json:"id"`
	EventID   int64     `json:"event_id"`
	Recipient string    `json:"recipient"`
	Kind      string    `json:"kind"`
	Text      string    `json:"text"`
}

// NewClient создаёт HTTP-клиент для сервиса доставки по указанному адресу.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Send передаёт уведомление сервису доставки. Идентификатор сообщения
// отправляется в заголовке Idempotency-Key, чтобы повторы не дублировали доставку.
//
// При ответе 429 ошибка не возвращается: вызывающий получает код и паузу из Retry-After.
func (c *Client) Send(ctx context.Context, msg Message) (int, time.Duration, error) {
	if c == nil || c.baseURL == "" {
		return 0, 0, fmt.Errorf("notification client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return 0, 0, fmt.Errorf("encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/notifications", bytes.NewReader(body))
	if err != nil {
		return 0, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", msg.ID.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return resp.StatusCode, retryAfter, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, 0, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return resp.StatusCode, 0, nil
}
