// Package setup implements the interactive configuration wizard behind the
// --config flag.
package setup

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/imploid/imploid/internal/config"
	"github.com/imploid/imploid/internal/model"
)

// Wizard collects a working configuration through terminal prompts.
type Wizard struct {
	in  *bufio.Reader
	out io.Writer
}

// NewWizard creates a wizard reading answers from in and writing prompts to
// out.
func NewWizard(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{in: bufio.NewReader(in), out: out}
}

// Run asks for every required setting, fills optional ones, and writes the
// resulting config to path.
func (w *Wizard) Run(path string) error {
	cfg, err := w.Collect()
	if err != nil {
		return err
	}
	if err := cfg.Save(path); err != nil {
		return err
	}
	fmt.Fprintf(w.out, "\nConfiguration written to %s\n", path)
	return nil
}

// Collect builds a Config from interactive answers without saving it.
func (w *Wizard) Collect() (*config.Config, error) {
	cfg := config.DefaultConfig()

	fmt.Fprintln(w.out, "Imploid configuration")
	fmt.Fprintln(w.out, "---------------------")

	token, err := w.askRequired("GitHub token")
	if err != nil {
		return nil, err
	}
	cfg.GitHub.Token = token

	for {
		repoName, err := w.askRequired("Repository (owner/name)")
		if err != nil {
			return nil, err
		}
		if !strings.Contains(repoName, "/") {
			fmt.Fprintln(w.out, "Repository must be in owner/name form.")
			continue
		}
		basePath, err := w.askRequired("Base path for agent worktrees")
		if err != nil {
			return nil, err
		}
		cfg.GitHub.Repos = append(cfg.GitHub.Repos, config.RepoConfig{
			Name:         repoName,
			BaseRepoPath: basePath,
		})

		more, err := w.askYesNo("Add another repository?")
		if err != nil {
			return nil, err
		}
		if !more {
			break
		}
	}

	maxStr, err := w.ask("Max concurrent issues", "3")
	if err != nil {
		return nil, err
	}
	if n, err := strconv.Atoi(maxStr); err == nil && n >= 1 {
		cfg.GitHub.MaxConcurrent = n
	}

	enabledStr, err := w.ask("Enabled processors (comma separated: claude, codex)", "claude")
	if err != nil {
		return nil, err
	}
	var enabled []model.ProcessorName
	for _, part := range strings.Split(enabledStr, ",") {
		name := model.ProcessorName(strings.TrimSpace(part))
		if name.Valid() {
			enabled = append(enabled, name)
		} else if name != "" {
			fmt.Fprintf(w.out, "Ignoring unknown processor %q.\n", name)
		}
	}
	if len(enabled) > 0 {
		cfg.Processors.Enabled = enabled
	}

	for _, name := range cfg.Processors.Enabled {
		pc := cfg.Processor(name)
		binPath, err := w.ask(fmt.Sprintf("Path to %s binary", name), pc.Path)
		if err != nil {
			return nil, err
		}
		pc.Path = binPath
	}

	if yes, err := w.askYesNo("Configure Slack notifications?"); err != nil {
		return nil, err
	} else if yes {
		botToken, err := w.askRequired("Slack bot token")
		if err != nil {
			return nil, err
		}
		channelID, err := w.askRequired("Slack channel ID")
		if err != nil {
			return nil, err
		}
		cfg.Slack = &config.SlackConfig{BotToken: botToken, ChannelID: channelID}
	}

	if yes, err := w.askYesNo("Configure Telegram notifications?"); err != nil {
		return nil, err
	} else if yes {
		botToken, err := w.askRequired("Telegram bot token")
		if err != nil {
			return nil, err
		}
		chatID, err := w.askRequired("Telegram chat ID")
		if err != nil {
			return nil, err
		}
		cfg.Telegram = &config.TelegramConfig{BotToken: botToken, ChatID: chatID}
	}

	return cfg, nil
}

func (w *Wizard) ask(prompt, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(w.out, "%s [%s]: ", prompt, def)
	} else {
		fmt.Fprintf(w.out, "%s: ", prompt)
	}
	line, err := w.in.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("input closed: %w", err)
	}
	answer := strings.TrimSpace(line)
	if answer == "" {
		return def, nil
	}
	return answer, nil
}

func (w *Wizard) askRequired(prompt string) (string, error) {
	for {
		answer, err := w.ask(prompt, "")
		if err != nil {
			return "", err
		}
		if answer != "" {
			return answer, nil
		}
		fmt.Fprintln(w.out, "A value is required.")
	}
}

func (w *Wizard) askYesNo(prompt string) (bool, error) {
	answer, err := w.ask(prompt+" [y/N]", "")
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(strings.ToLower(answer), "y"), nil
}
