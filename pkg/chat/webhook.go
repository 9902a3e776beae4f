package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"paybot/pkg/logx"
)

// WebhookSender delivers outbound messages by POSTing them to the transport
// adapter's webhook. The adapter owns the actual messaging protocol.
type WebhookSender struct {
	url    string
	client *http.Client
	logger *logx.Logger
}

// NewWebhookSender builds a Sender that POSTs {userHandle, text} to url.
func NewWebhookSender(url string, timeout time.Duration) *WebhookSender {
	return &WebhookSender{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logx.NewLogger("chat"),
	}
}

func (s *WebhookSender) Send(userHandle, text string) error {
	body, err := json.Marshal(map[string]string{
		"userHandle": userHandle,
		"text":       text,
	})
	if err != nil {
		return fmt.Errorf("encode outbound message: %w", err)
	}
	resp, err := s.client.Post(s.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("deliver to %s: %w", userHandle, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("deliver to %s: transport returned %d", userHandle, resp.StatusCode)
	}
	return nil
}

// LogSender is the fallback Sender when no transport webhook is configured.
// Messages are logged instead of delivered; useful in development.
type LogSender struct {
	logger *logx.Logger
}

func NewLogSender() *LogSender {
	return &LogSender{logger: logx.NewLogger("chat")}
}

func (s *LogSender) Send(userHandle, text string) error {
	s.logger.Info("outbound to %s: %s", userHandle, text)
	return nil
}
