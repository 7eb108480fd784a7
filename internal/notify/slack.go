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
	slackAPIURL = "https://slack.com/api"

	// Slack message snippets are kept short; full output lives in logs.
	slackNeedsInputLimit = 500
	slackErrorLimit      = 300
	slackTruncateMarker  = "… (truncated)"
)

// SlackSink posts notifications to a Slack channel via chat.postMessage.
type SlackSink struct {
	httpClient *http.Client
	baseURL    string
	botToken   string
	channelID  string
}

// NewSlackSink creates a Slack sink.
func NewSlackSink(botToken, channelID string) *SlackSink {
	return NewSlackSinkWithBaseURL(botToken, channelID, slackAPIURL)
}

// NewSlackSinkWithBaseURL creates a Slack sink against a custom endpoint.
func NewSlackSinkWithBaseURL(botToken, channelID, baseURL string) *SlackSink {
	return &SlackSink{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    baseURL,
		botToken:   botToken,
		channelID:  channelID,
	}
}

// Name identifies the sink in logs.
func (s *SlackSink) Name() string { return "slack" }

// NotifyStart posts the start-of-processing message.
func (s *SlackSink) NotifyStart(ctx context.Context, ev Event) error {
	text := fmt.Sprintf("🚀 Started processing %s: %s", s.issueRef(ev), ev.Title)
	return s.postMessage(ctx, text)
}

// NotifyComplete posts the completion message with the run duration.
func (s *SlackSink) NotifyComplete(ctx context.Context, ev Event) error {
	text := fmt.Sprintf("✅ Completed %s in %s", s.issueRef(ev), ev.Duration)
	return s.postMessage(ctx, text)
}

// NotifyNeedsInput posts the needs-input message with a bounded output tail.
func (s *SlackSink) NotifyNeedsInput(ctx context.Context, ev Event) error {
	snippet := Truncate(ev.Output, slackNeedsInputLimit, slackTruncateMarker)
	text := fmt.Sprintf("⏸️ %s needs input:\n```%s```", s.issueRef(ev), snippet)
	return s.postMessage(ctx, text)
}

// NotifyError posts the failure message with a bounded error tail.
func (s *SlackSink) NotifyError(ctx context.Context, ev Event) error {
	snippet := Truncate(ev.Error, slackErrorLimit, slackTruncateMarker)
	text := fmt.Sprintf("❌ %s failed:\n```%s```", s.issueRef(ev), snippet)
	return s.postMessage(ctx, text)
}

// issueRef renders the issue as a link when the repo is known.
func (s *SlackSink) issueRef(ev Event) string {
	if ev.RepoName != "" {
		url := fmt.Sprintf("https://github.com/%s/issues/%d", ev.RepoName, ev.IssueNumber)
		return fmt.Sprintf("<%s|#%d>", url, ev.IssueNumber)
	}
	return fmt.Sprintf("#%d", ev.IssueNumber)
}

func (s *SlackSink) postMessage(ctx context.Context, text string) error {
	payload := map[string]string{
		"channel": s.channelID,
		"text":    text,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat.postMessage", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create slack request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.botToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("slack request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read slack response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack api status %d: %s", resp.StatusCode, body)
	}

	var result struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to decode slack response: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("slack api error: %s", result.Error)
	}
	return nil
}
