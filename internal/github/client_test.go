package github

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"
)

// fakeGitHub serves just enough of the issues API for the client tests.
type fakeGitHub struct {
	mu     sync.Mutex
	issues []Issue
	labels map[int][]string
	puts   []int // issue numbers that received a label PUT
}

func (f *fakeGitHub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/widgets/issues", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("labels") != "agent-ready" || r.URL.Query().Get("state") != "open" {
			http.Error(w, "unexpected query", http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		json.NewEncoder(w).Encode(f.issues)
	})
	mux.HandleFunc("GET /repos/acme/widgets/issues/{n}/labels", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var out []Label
		for _, name := range f.labels[atoi(r.PathValue("n"))] {
			out = append(out, Label{Name: name})
		}
		json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("PUT /repos/acme/widgets/issues/{n}/labels", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Labels []string `json:"labels"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		n := atoi(r.PathValue("n"))
		f.mu.Lock()
		f.labels[n] = body.Labels
		f.puts = append(f.puts, n)
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func atoi(s string) int {
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n
}

func (f *fakeGitHub) labelSet(issue int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.labels[issue]...)
	sort.Strings(out)
	return out
}

func TestListReadyIssues(t *testing.T) {
	fake := &fakeGitHub{
		issues: []Issue{
			{Number: 42, Title: "Add feature", State: "open"},
			{Number: 43, Title: "Fix bug", State: "open"},
		},
		labels: map[int][]string{},
	}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	client := NewClientWithBaseURL("tok", srv.URL)
	issues, err := client.ListReadyIssues(context.Background(), "acme/widgets")
	if err != nil {
		t.Fatalf("ListReadyIssues: %v", err)
	}
	if len(issues) != 2 {
		t.Fatalf("len = %d, want 2", len(issues))
	}
	if issues[0].Number != 42 || issues[0].RepoName != "acme/widgets" {
		t.Errorf("first issue = %+v", issues[0])
	}
}

func TestUpdateLabelsIsIdempotent(t *testing.T) {
	fake := &fakeGitHub{
		labels: map[int][]string{42: {"agent-ready", "bug"}},
	}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	client := NewClientWithBaseURL("tok", srv.URL)
	update := LabelUpdate{
		Add:    []string{"claude-working"},
		Remove: []string{"agent-ready", "claude-completed"},
	}

	for i := 0; i < 2; i++ {
		if err := client.UpdateLabels(context.Background(), "acme/widgets", 42, update); err != nil {
			t.Fatalf("UpdateLabels round %d: %v", i, err)
		}
	}

	got := fake.labelSet(42)
	want := []string{"bug", "claude-working"}
	if len(got) != len(want) {
		t.Fatalf("labels = %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("labels = %v, want %v", got, want)
		}
	}
}

func TestCreateComment(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/repos/acme/widgets/issues/7/comments" {
			http.Error(w, "unexpected", http.StatusBadRequest)
			return
		}
		var body struct {
			Body string `json:"body"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		gotBody = body.Body
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := NewClientWithBaseURL("tok", srv.URL)
	if err := client.CreateComment(context.Background(), "acme/widgets", 7, "processing failed"); err != nil {
		t.Fatalf("CreateComment: %v", err)
	}
	if gotBody != "processing failed" {
		t.Errorf("comment body = %q", gotBody)
	}
}

func TestAPIErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClientWithBaseURL("tok", srv.URL)
	_, err := client.ListReadyIssues(context.Background(), "acme/widgets")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T, want *APIError", err)
	}
	if apiErr.Status != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", apiErr.Status)
	}
}

func TestWithRetry(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := WithRetry(context.Background(), cfg, func() error {
			calls++
			if calls < 3 {
				return &APIError{Status: 500}
			}
			return nil
		})
		if err != nil || calls != 3 {
			t.Errorf("err = %v, calls = %d", err, calls)
		}
	})

	t.Run("does not retry client errors", func(t *testing.T) {
		calls := 0
		err := WithRetry(context.Background(), cfg, func() error {
			calls++
			return &APIError{Status: 404}
		})
		if err == nil || calls != 1 {
			t.Errorf("err = %v, calls = %d", err, calls)
		}
	})

	t.Run("retries rate limiting", func(t *testing.T) {
		calls := 0
		err := WithRetry(context.Background(), cfg, func() error {
			calls++
			return &APIError{Status: 429}
		})
		if err == nil || calls != 3 {
			t.Errorf("err = %v, calls = %d", err, calls)
		}
	})
}
