// Package github provides a minimal GitHub REST client for the label-driven
// issue workflow: list ready issues, mutate labels, post comments.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/imploid/imploid/internal/model"
)

const defaultBaseURL = "https://api.github.com"

// Client is a GitHub API client.
type Client struct {
	httpClient *http.Client
	token      string
	baseURL    string
}

// NewClient creates a GitHub client with the given token.
func NewClient(token string) *Client {
	return NewClientWithBaseURL(token, defaultBaseURL)
}

// NewClientWithBaseURL creates a client against a custom API endpoint.
// Useful for testing against a local server.
func NewClientWithBaseURL(token, baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		token:      token,
		baseURL:    baseURL,
	}
}

// Issue represents a GitHub issue.
type Issue struct {
	Number  int     `json:"number"`
	Title   string  `json:"title"`
	Body    string  `json:"body"`
	State   string  `json:"state"`
	HTMLURL string  `json:"html_url"`
	Labels  []Label `json:"labels"`

	// RepoName is the owner/name of the repository the issue came from,
	// annotated during discovery. Not part of the API payload.
	RepoName string `json:"-"`
}

// Label represents a GitHub label.
type Label struct {
	Name string `json:"name"`
}

// APIError is a non-2xx response from the GitHub API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github api error: status %d: %s", e.Status, e.Body)
}

// ListReadyIssues returns the open issues of repo labeled agent-ready, in
// server order. Each issue is annotated with the repo name.
func (c *Client) ListReadyIssues(ctx context.Context, repo string) ([]Issue, error) {
	query := url.Values{}
	query.Set("labels", model.ReadyLabel)
	query.Set("state", "open")
	path := fmt.Sprintf("/repos/%s/issues?%s", repo, query.Encode())

	var issues []Issue
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &issues); err != nil {
		return nil, err
	}
	for i := range issues {
		issues[i].RepoName = repo
	}
	return issues, nil
}

// LabelUpdate names the labels to add and remove in one reconciliation.
type LabelUpdate struct {
	Add    []string
	Remove []string
}

// UpdateLabels reads the issue's current label set, applies removals then
// additions, and writes the result back. Re-invoking with the same arguments
// is a no-op on the final set.
func (c *Client) UpdateLabels(ctx context.Context, repo string, issueNumber int, update LabelUpdate) error {
	var current []Label
	path := fmt.Sprintf("/repos/%s/issues/%d/labels", repo, issueNumber)
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &current); err != nil {
		return err
	}

	names := make(map[string]bool, len(current))
	for _, label := range current {
		names[label.Name] = true
	}
	for _, name := range update.Remove {
		delete(names, name)
	}
	for _, name := range update.Add {
		names[name] = true
	}

	final := make([]string, 0, len(names))
	for name := range names {
		final = append(final, name)
	}

	body := map[string][]string{"labels": final}
	return c.doRequest(ctx, http.MethodPut, path, body, nil)
}

// CreateComment posts a comment on the issue.
func (c *Client) CreateComment(ctx context.Context, repo string, issueNumber int, body string) error {
	path := fmt.Sprintf("/repos/%s/issues/%d/comments", repo, issueNumber)
	payload := map[string]string{"body": body}
	return c.doRequest(ctx, http.MethodPost, path, payload, nil)
}

// doRequest performs an API call and decodes the response into out when
// non-nil. Non-2xx statuses become APIError.
func (c *Client) doRequest(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Body: string(respBody)}
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
