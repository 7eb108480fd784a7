package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/imploid/imploid/internal/model"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadValid(t *testing.T) {
	path := writeConfig(t, `{
		"github": {
			"token": "ghp_test",
			"repos": [{"name": "acme/widgets", "base_repo_path": "/tmp/agents"}],
			"max_concurrent": 2
		},
		"processors": {
			"enabled": ["claude", "codex"],
			"claude": {"path": "/usr/local/bin/claude", "timeout_seconds": 120.5},
			"codex": {"path": "codex"}
		}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GitHub.MaxConcurrent != 2 {
		t.Errorf("MaxConcurrent = %d, want 2", cfg.GitHub.MaxConcurrent)
	}
	if got := cfg.Processors.Claude.TimeoutSeconds; got != 120.5 {
		t.Errorf("claude timeout = %v, want 120.5", got)
	}
	if got := cfg.Processors.Codex.TimeoutSeconds; got != 3600 {
		t.Errorf("codex timeout default = %v, want 3600", got)
	}
	if got := cfg.Processors.Codex.CheckIntervalSeconds; got != 5 {
		t.Errorf("codex check interval default = %v, want 5", got)
	}
	if got := cfg.GitHub.Repos[0].ShortName(); got != "widgets" {
		t.Errorf("ShortName = %q, want widgets", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing token", func(c *Config) { c.GitHub.Token = "" }, true},
		{"no repos", func(c *Config) { c.GitHub.Repos = nil }, true},
		{"repo without owner", func(c *Config) { c.GitHub.Repos[0].Name = "widgets" }, true},
		{"repo without base path", func(c *Config) { c.GitHub.Repos[0].BaseRepoPath = "" }, true},
		{"unknown processor enabled", func(c *Config) {
			c.Processors.Enabled = []model.ProcessorName{"gemini"}
		}, true},
		{"enabled without block", func(c *Config) {
			c.Processors.Enabled = []model.ProcessorName{model.ProcessorCodex}
			c.Processors.Codex = nil
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.GitHub.Token = "tok"
			cfg.GitHub.Repos = []RepoConfig{{Name: "acme/widgets", BaseRepoPath: "/tmp/a"}}
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnabledProcessorsIntersection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Processors.Enabled = []model.ProcessorName{model.ProcessorClaude, model.ProcessorCodex}

	tests := []struct {
		name     string
		override []model.ProcessorName
		want     []model.ProcessorName
	}{
		{"no override", nil, []model.ProcessorName{model.ProcessorClaude, model.ProcessorCodex}},
		{"subset", []model.ProcessorName{model.ProcessorCodex}, []model.ProcessorName{model.ProcessorCodex}},
		{"disjoint member ignored", []model.ProcessorName{model.ProcessorClaude, "gemini"}, []model.ProcessorName{model.ProcessorClaude}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cfg.EnabledProcessors(tt.override)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	tests := []struct {
		in   string
		want string
	}{
		{"~/x/y.md", filepath.Join(home, "x/y.md")},
		{"~", home},
		{"/abs/path", "/abs/path"},
		{"relative/path", "relative/path"},
	}
	for _, tt := range tests {
		got, err := ExpandPath(tt.in)
		if err != nil {
			t.Fatalf("ExpandPath(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json")
	cfg := DefaultConfig()
	cfg.GitHub.Token = "tok"
	cfg.GitHub.Repos = []RepoConfig{{Name: "acme/widgets", BaseRepoPath: "/tmp/a"}}
	cfg.Slack = &SlackConfig{BotToken: "xoxb", ChannelID: "C1"}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.GitHub.Token != "tok" || loaded.Slack == nil || loaded.Slack.ChannelID != "C1" {
		t.Errorf("round trip mismatch: %+v", loaded)
	}
}
