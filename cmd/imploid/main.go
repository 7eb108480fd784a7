// Command imploid discovers GitHub issues labeled agent-ready and dispatches
// them to autonomous coding agents.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/imploid/imploid/internal/banner"
	"github.com/imploid/imploid/internal/config"
	"github.com/imploid/imploid/internal/github"
	"github.com/imploid/imploid/internal/gitws"
	"github.com/imploid/imploid/internal/history"
	"github.com/imploid/imploid/internal/install"
	"github.com/imploid/imploid/internal/lockfile"
	"github.com/imploid/imploid/internal/logging"
	"github.com/imploid/imploid/internal/model"
	"github.com/imploid/imploid/internal/notify"
	"github.com/imploid/imploid/internal/orchestrator"
	"github.com/imploid/imploid/internal/processor"
	"github.com/imploid/imploid/internal/prompt"
	"github.com/imploid/imploid/internal/setup"
	"github.com/imploid/imploid/internal/state"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath      string
		installCommands bool
		foreground      bool
		processorsFlag  string
	)

	cmd := &cobra.Command{
		Use:     "imploid",
		Short:   "Dispatch agent-ready GitHub issues to coding agents",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if installCommands {
				return runInstallCommands()
			}
			if cmd.Flags().Changed("config") {
				return runWizard(configPath)
			}
			return run(cmd.Context(), foreground, processorsFlag)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Flags().StringVar(&configPath, "config", "", "run the configuration wizard (optionally naming the config file)")
	cmd.Flags().Lookup("config").NoOptDefVal = config.DefaultConfigPath()
	cmd.Flags().BoolVar(&installCommands, "install-commands", false, "install default prompt templates and exit")
	cmd.Flags().BoolVar(&foreground, "foreground", false, "poll continuously instead of running a single pass")
	cmd.Flags().StringVar(&processorsFlag, "processors", "", "comma-separated processor subset for this run")

	return cmd
}

func runInstallCommands() error {
	written, err := install.CommandTemplates(config.PromptsDir())
	if err != nil {
		return err
	}
	if len(written) == 0 {
		fmt.Println("All templates already installed.")
		return nil
	}
	fmt.Printf("Installed %d template(s) to %s\n", len(written), config.PromptsDir())
	return nil
}

func runWizard(path string) error {
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return setup.NewWizard(os.Stdin, os.Stdout).Run(path)
}

func run(ctx context.Context, foreground bool, processorsFlag string) error {
	cfg, err := config.Load(config.DefaultConfigPath())
	if err != nil {
		return err
	}
	if err := logging.Init(cfg.Logging); err != nil {
		return err
	}

	enabled := cfg.EnabledProcessors(parseProcessors(processorsFlag))
	if len(enabled) == 0 {
		return fmt.Errorf("no enabled processors after applying --processors")
	}

	store := state.NewStore(config.StateFilePath())
	if err := store.Initialize(); err != nil {
		return err
	}

	gh := github.NewClient(cfg.GitHub.Token)
	notifier := notify.NewFanout(buildSinks(cfg)...)
	prompts := prompt.NewLoader(config.PromptsDir(), install.Defaults())
	git := gitws.NewManager()

	runners := make(map[model.ProcessorName]orchestrator.IssueRunner, len(enabled))
	for _, name := range enabled {
		proc, err := processor.ByName(name)
		if err != nil {
			return err
		}
		runners[name] = processor.NewDriver(proc, cfg.Processor(name), store, git, prompts, notifier)
	}

	recorder, err := history.Open(config.HistoryPath())
	if err != nil {
		logging.Warn("run history disabled", "error", err)
		recorder = nil
	} else {
		defer recorder.Close()
	}

	orch, err := orchestrator.New(cfg, enabled, store, gh, notifier, runners, recorder)
	if err != nil {
		return err
	}

	lock := lockfile.NewManager(config.LockFilePath())

	if foreground {
		banner.Print(version)
		var summary *config.DailySummaryConfig
		if cfg.Schedule != nil {
			summary = cfg.Schedule.DailySummary
		}
		runner := orchestrator.NewForegroundRunner(orch, lock, store, notifier, summary)
		if err := runner.Run(ctx); err != nil {
			if errors.Is(err, orchestrator.ErrLockHeld) {
				return fmt.Errorf("another imploid instance is already running")
			}
			return err
		}
		return nil
	}

	if !lock.Acquire() {
		return fmt.Errorf("another imploid instance is already running")
	}
	defer lock.Release()
	return orch.RunTick(ctx)
}

func parseProcessors(flag string) []model.ProcessorName {
	if flag == "" {
		return nil
	}
	var out []model.ProcessorName
	for _, part := range strings.Split(flag, ",") {
		name := model.ProcessorName(strings.TrimSpace(part))
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

func buildSinks(cfg *config.Config) []notify.Sink {
	var sinks []notify.Sink
	if cfg.Slack != nil && cfg.Slack.BotToken != "" {
		sinks = append(sinks, notify.NewSlackSink(cfg.Slack.BotToken, cfg.Slack.ChannelID))
	}
	if cfg.Telegram != nil && cfg.Telegram.BotToken != "" {
		sinks = append(sinks, notify.NewTelegramSink(cfg.Telegram.BotToken, cfg.Telegram.ChatID))
	}
	return sinks
}
