package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ChatSender posts messages to a chat-bot webhook.
type ChatSender struct {
	client *http.Client
	logger *zap.Logger
}

type ChatConfig struct {
	DefaultTimeout time.Duration
}

// NewChatSender creates a new chat webhook sender
func NewChatSender(cfg ChatConfig, logger *zap.Logger) *ChatSender {
	timeout := cfg.DefaultTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &ChatSender{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Send posts one message to the webhook URL. Any non-2xx response is an error.
func (s *ChatSender) Send(ctx context.Context, webhookURL, text string) error {
	if webhookURL == "" {
		return fmt.Errorf("chat webhook url is not configured")
	}

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("marshal chat message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create chat request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "AccountMaintain/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("chat webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	respBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("chat webhook returned non-2xx status: %d, body: %s", resp.StatusCode, string(respBytes))
	}

	s.logger.Info("chat message delivered",
		zap.Int("status_code", resp.StatusCode),
	)

	return nil
}
