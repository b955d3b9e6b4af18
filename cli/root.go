// Package cli implements the taskspace command line.
package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zhubert/taskspace/config"
	"github.com/zhubert/taskspace/exec"
	"github.com/zhubert/taskspace/logger"
	"github.com/zhubert/taskspace/paths"
	"github.com/zhubert/taskspace/reconcile"
)

// rootState is shared by every subcommand of one root command.
type rootState struct {
	verbose    bool
	configFile string

	// Overrides used by tests; nil selects the real implementations.
	executor exec.CommandExecutor
	provider reconcile.Provider

	cfg *config.Config
	app *app
}

// Execute builds the command tree and runs it against os.Args. Errors are
// printed by ReportError; the caller only chooses the exit code.
func Execute(version string) error {
	state := &rootState{}
	root := newRootCommand(state)
	root.Version = version

	err := root.Execute()
	if err != nil {
		ReportError(root.ErrOrStderr(), err, state.verbose)
	}
	return err
}

func newRootCommand(state *rootState) *cobra.Command {
	root := &cobra.Command{
		Use:   "taskspace",
		Short: "Cross-repository task workspaces",
		Long: `taskspace groups git worktrees from several registered repositories
under one task, and keeps each task's pull request, review and CI state in
sync with GitHub.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return state.init(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.BoolVarP(&state.verbose, "verbose", "v", false, "show error kinds and wrapped causes")
	flags.StringVarP(&state.configFile, "config", "c", "", "config file (default is config.yaml in the taskspace config directory)")
	flags.String("workspace-dir", "", "root directory for task worktrees")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	_ = viper.BindPFlag("workspace_dir", flags.Lookup("workspace-dir"))
	_ = viper.BindPFlag("logging.level", flags.Lookup("log-level"))

	root.AddCommand(
		newTaskCommand(state),
		newProjectCommand(state),
		newSyncCommand(state),
		newWatchCommand(state),
		newDoctorCommand(state),
		newConfigCommand(),
		newLogsCommand(state),
	)
	return root
}

// init reads configuration and opens the log. It runs before every
// subcommand.
func (s *rootState) init(cmd *cobra.Command) error {
	if err := initConfig(s.configFile); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	s.cfg = cfg

	logPath, err := s.logFile(cmd.Name() == "watch")
	if err != nil {
		return err
	}
	if err := logger.Init(logPath); err != nil {
		return fmt.Errorf("failed to open log %s: %w", logPath, err)
	}
	if err := logger.SetLevel(cfg.Logging.Level); err != nil {
		return err
	}
	logger.WithComponent("cli").Debug("command start", "command", cmd.CommandPath(), "config", viper.ConfigFileUsed())
	return nil
}

// services returns the wired application, building it on first use.
func (s *rootState) services() (*app, error) {
	if s.app != nil {
		return s.app, nil
	}
	a, err := newApp(s.cfg, s.executor)
	if err != nil {
		return nil, err
	}
	s.app = a
	return a, nil
}

func initConfig(configFile string) error {
	config.SetDefaults()

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		if dir, err := paths.ConfigDir(); err == nil {
			viper.AddConfigPath(dir)
		}
	}

	viper.SetEnvPrefix(config.EnvPrefix)
	// TASKSPACE_POLL_INTERVAL for poll.interval
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		if configFile == "" && os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}
