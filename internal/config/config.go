// Package config loads and validates Imploid's JSON configuration from
// ~/.imploid/config.json.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/imploid/imploid/internal/logging"
	"github.com/imploid/imploid/internal/model"
)

// Config is the root configuration.
type Config struct {
	GitHub     GitHubConfig     `json:"github"`
	Processors ProcessorsConfig `json:"processors"`
	Slack      *SlackConfig     `json:"slack,omitempty"`
	Telegram   *TelegramConfig  `json:"telegram,omitempty"`
	Schedule   *ScheduleConfig  `json:"schedule,omitempty"`
	Logging    *logging.Config  `json:"logging,omitempty"`
}

// GitHubConfig holds the token, polled repositories, and the concurrency cap.
type GitHubConfig struct {
	Token         string       `json:"token"`
	Repos         []RepoConfig `json:"repos"`
	MaxConcurrent int          `json:"max_concurrent"`
}

// RepoConfig names one repository and the directory its worktrees live under.
type RepoConfig struct {
	Name         string `json:"name"`
	BaseRepoPath string `json:"base_repo_path"`
}

// ShortName returns the repository name without the owner prefix.
func (r RepoConfig) ShortName() string {
	if idx := strings.LastIndex(r.Name, "/"); idx >= 0 {
		return r.Name[idx+1:]
	}
	return r.Name
}

// ProcessorsConfig selects which processors run and configures each.
type ProcessorsConfig struct {
	Enabled []model.ProcessorName `json:"enabled"`
	Claude  *ProcessorConfig      `json:"claude,omitempty"`
	Codex   *ProcessorConfig      `json:"codex,omitempty"`
}

// ProcessorConfig is the per-processor tuning block. Timeout and check
// interval are fractional seconds.
type ProcessorConfig struct {
	Path                 string  `json:"path"`
	TimeoutSeconds       float64 `json:"timeout_seconds"`
	CheckIntervalSeconds float64 `json:"check_interval_seconds"`
	PromptPath           string  `json:"prompt_path,omitempty"`
}

// SlackConfig configures the Slack notification sink.
type SlackConfig struct {
	BotToken  string `json:"bot_token"`
	ChannelID string `json:"channel_id"`
}

// TelegramConfig configures the Telegram notification sink.
type TelegramConfig struct {
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

// ScheduleConfig holds optional foreground-mode schedules.
type ScheduleConfig struct {
	DailySummary *DailySummaryConfig `json:"daily_summary,omitempty"`
}

// DailySummaryConfig enables a once-a-day activity summary notification.
type DailySummaryConfig struct {
	Enabled  bool   `json:"enabled"`
	Time     string `json:"time"`     // "HH:MM"
	Timezone string `json:"timezone"` // IANA name, defaults to Local
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		GitHub: GitHubConfig{
			MaxConcurrent: 3,
		},
		Processors: ProcessorsConfig{
			Enabled: []model.ProcessorName{model.ProcessorClaude},
			Claude: &ProcessorConfig{
				Path:                 "claude",
				TimeoutSeconds:       3600,
				CheckIntervalSeconds: 5,
			},
			Codex: &ProcessorConfig{
				Path:                 "codex",
				TimeoutSeconds:       3600,
				CheckIntervalSeconds: 5,
			},
		},
		Logging: logging.DefaultConfig(),
	}
}

// DefaultConfigPath returns ~/.imploid/config.json.
func DefaultConfigPath() string {
	return filepath.Join(Dir(), "config.json")
}

// Dir returns the Imploid config directory, ~/.imploid.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".imploid"
	}
	return filepath.Join(home, ".imploid")
}

// StateFilePath returns the processing-state file path.
func StateFilePath() string {
	return filepath.Join(Dir(), "processing-state.json")
}

// LockFilePath returns the lock file path.
func LockFilePath() string {
	return filepath.Join(Dir(), "imploid.lock")
}

// PromptsDir returns the user prompt-override directory.
func PromptsDir() string {
	return filepath.Join(Dir(), "prompts")
}

// HistoryPath returns the run-history database path.
func HistoryPath() string {
	return filepath.Join(Dir(), "history.db")
}

// Load reads configuration from the given path. A missing file is an error:
// the caller is expected to run the configuration wizard first.
func Load(path string) (*Config, error) {
	expanded, err := ExpandPath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found at %s (run with --config to create one)", expanded)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config as indented JSON, creating the directory if needed.
func (c *Config) Save(path string) error {
	expanded, err := ExpandPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(expanded, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.GitHub.MaxConcurrent < 1 {
		c.GitHub.MaxConcurrent = 3
	}
	if len(c.Processors.Enabled) == 0 {
		c.Processors.Enabled = []model.ProcessorName{model.ProcessorClaude}
	}
	for _, pc := range []*ProcessorConfig{c.Processors.Claude, c.Processors.Codex} {
		if pc == nil {
			continue
		}
		if pc.TimeoutSeconds <= 0 {
			pc.TimeoutSeconds = 3600
		}
		if pc.CheckIntervalSeconds <= 0 {
			pc.CheckIntervalSeconds = 5
		}
	}
	if c.Logging == nil {
		c.Logging = logging.DefaultConfig()
	}
}

// Validate checks that the config can drive an orchestrator run.
func (c *Config) Validate() error {
	if c.GitHub.Token == "" {
		return fmt.Errorf("github.token is required")
	}
	if len(c.GitHub.Repos) == 0 {
		return fmt.Errorf("github.repos must list at least one repository")
	}
	for _, repo := range c.GitHub.Repos {
		if repo.Name == "" || !strings.Contains(repo.Name, "/") {
			return fmt.Errorf("github.repos entry %q must be owner/name", repo.Name)
		}
		if repo.BaseRepoPath == "" {
			return fmt.Errorf("github.repos entry %q needs base_repo_path", repo.Name)
		}
	}
	for _, name := range c.Processors.Enabled {
		if !name.Valid() {
			return fmt.Errorf("unknown processor %q in processors.enabled", name)
		}
		if c.Processor(name) == nil {
			return fmt.Errorf("processor %q is enabled but has no configuration block", name)
		}
	}
	return nil
}

// Processor returns the config block for a processor, or nil.
func (c *Config) Processor(name model.ProcessorName) *ProcessorConfig {
	switch name {
	case model.ProcessorClaude:
		return c.Processors.Claude
	case model.ProcessorCodex:
		return c.Processors.Codex
	}
	return nil
}

// EnabledProcessors returns the enabled set, optionally intersected with a
// command-line override. Order follows the configured enabled list.
func (c *Config) EnabledProcessors(override []model.ProcessorName) []model.ProcessorName {
	if len(override) == 0 {
		return c.Processors.Enabled
	}
	allowed := make(map[model.ProcessorName]bool, len(override))
	for _, name := range override {
		allowed[name] = true
	}
	var out []model.ProcessorName
	for _, name := range c.Processors.Enabled {
		if allowed[name] {
			out = append(out, name)
		}
	}
	return out
}

// ExpandPath expands a leading ~/ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		if path == "~" {
			return home, nil
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}
