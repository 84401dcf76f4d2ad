// Package notifier предоставляет клиент внешнего сервиса уведомлений.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client инкапсулирует HTTP-взаимодействие с сервисом уведомлений.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type dueDateNotification struct {
	UserName  string `json:"user_name"`
	UserEmail string `json:"user_email"`
	BookTitle string `json:"book_title"`
	DueDate   string `json:"due_date"`
}

// NewClient создаёт HTTP-клиент для отправки уведомлений по указанному адресу.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// NotifyDueDate отправляет читателю уведомление о сроке возврата книги.
// Доставка не гарантируется и не повторяется.
func (c *Client) NotifyDueDate(ctx context.Context, userName, userEmail, bookTitle string, dueDate time.Time) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("notifier client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	payload := dueDateNotification{
		UserName:  userName,
		UserEmail: userEmail,
		BookTitle: bookTitle,
		DueDate:   dueDate.Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	url := base + "/api/notifications"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return nil
}
