package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	telegramAPIURL = "https://api.telegram.org"

	// Telegram rejects messages over 4096 characters; stay under with room
	// for the marker.
	telegramMessageLimit   = 4000
	telegramTruncateMarker = "... (truncated)"
)

// TelegramSink posts notifications to a Telegram chat via sendMessage.
type TelegramSink struct {
	httpClient *http.Client
	baseURL    string
	botToken   string
	chatID     string
}

// NewTelegramSink creates a Telegram sink.
func NewTelegramSink(botToken, chatID string) *TelegramSink {
	return NewTelegramSinkWithBaseURL(botToken, chatID, telegramAPIURL)
}

// NewTelegramSinkWithBaseURL creates a Telegram sink against a custom endpoint.
func NewTelegramSinkWithBaseURL(botToken, chatID, baseURL string) *TelegramSink {
	return &TelegramSink{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    baseURL,
		botToken:   botToken,
		chatID:     chatID,
	}
}

// Name identifies the sink in logs.
func (t *TelegramSink) Name() string { return "telegram" }

// NotifyStart posts the start-of-processing message.
func (t *TelegramSink) NotifyStart(ctx context.Context, ev Event) error {
	return t.sendMessage(ctx, fmt.Sprintf("🚀 Started processing issue #%d: %s", ev.IssueNumber, ev.Title))
}

// NotifyComplete posts the completion message with the run duration.
func (t *TelegramSink) NotifyComplete(ctx context.Context, ev Event) error {
	return t.sendMessage(ctx, fmt.Sprintf("✅ Completed issue #%d in %s", ev.IssueNumber, ev.Duration))
}

// NotifyNeedsInput posts the needs-input message.
func (t *TelegramSink) NotifyNeedsInput(ctx context.Context, ev Event) error {
	return t.sendMessage(ctx, fmt.Sprintf("⏸️ Issue #%d needs input:\n%s", ev.IssueNumber, ev.Output))
}

// NotifyError posts the failure message.
func (t *TelegramSink) NotifyError(ctx context.Context, ev Event) error {
	return t.sendMessage(ctx, fmt.Sprintf("❌ Issue #%d failed:\n%s", ev.IssueNumber, ev.Error))
}

func (t *TelegramSink) sendMessage(ctx context.Context, text string) error {
	text = Truncate(text, telegramMessageLimit, telegramTruncateMarker)

	payload := map[string]string{
		"chat_id": t.chatID,
		"text":    text,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read telegram response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram api status %d: %s", resp.StatusCode, body)
	}
	return nil
}
