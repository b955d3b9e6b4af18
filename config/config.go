// Package config loads taskspace settings through viper.
//
// Values come from, in increasing precedence: the defaults set by
// SetDefaults, config.yaml in the config directory, TASKSPACE_* environment
// variables, and bound command-line flags.
package config

import (
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/zhubert/taskspace/paths"
)

// EnvPrefix is prepended to every environment override, with dots in the
// key replaced by underscores: poll.interval -> TASKSPACE_POLL_INTERVAL.
const EnvPrefix = "TASKSPACE"

// Config is the complete taskspace configuration.
type Config struct {
	// WorkspaceDir is the root under which <task>/<project> worktrees live.
	WorkspaceDir string `mapstructure:"workspace_dir"`
	// StoreFile is the JSON task collection.
	StoreFile string `mapstructure:"store_file"`
	// RegistryFile is the YAML project registry.
	RegistryFile string `mapstructure:"registry_file"`
	// BranchPrefix is prepended to the task id when no branch is given.
	BranchPrefix string `mapstructure:"branch_prefix"`

	GitHub        GitHubConfig        `mapstructure:"github"`
	Poll          PollConfig          `mapstructure:"poll"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Slack         SlackConfig         `mapstructure:"slack"`
	Setup         SetupConfig         `mapstructure:"setup"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// GitHubConfig locates the API and its credentials.
type GitHubConfig struct {
	// APIURL is the REST base, overridable for GitHub Enterprise.
	APIURL string `mapstructure:"api_url"`
	// TokenEnv names the environment variable checked first for a token.
	TokenEnv string `mapstructure:"token_env"`
	// TokenKey is the key looked up in the secure store.
	TokenKey string `mapstructure:"token_key"`
}

// PollConfig controls the reconciliation loop.
type PollConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	// Debounce delays a store-change triggered cycle in watch mode.
	Debounce time.Duration `mapstructure:"debounce"`
	// IncludeClosed keeps polling pull requests that are merged or closed.
	IncludeClosed bool `mapstructure:"include_closed"`
}

// NotificationsConfig gates the transition notifications. Discovery of a
// pull request is always reported.
type NotificationsConfig struct {
	Desktop            bool `mapstructure:"desktop"`
	OnApproved         bool `mapstructure:"on_approved"`
	OnChangesRequested bool `mapstructure:"on_changes_requested"`
	OnCIFailed         bool `mapstructure:"on_ci_failed"`
	OnCIPassed         bool `mapstructure:"on_ci_passed"`
}

// SlackConfig enables the Slack notifier when WebhookURL is set.
type SlackConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

// SetupConfig controls worktree setup commands.
type SetupConfig struct {
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
}

// LoggingConfig controls the log file.
type LoggingConfig struct {
	// File overrides the default <state>/logs/taskspace.log.
	File string `mapstructure:"file"`
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	workspace, _ := paths.WorkspaceDir()
	storeFile, _ := paths.StoreFilePath()
	registryFile, _ := paths.RegistryFilePath()

	return &Config{
		WorkspaceDir: workspace,
		StoreFile:    storeFile,
		RegistryFile: registryFile,
		BranchPrefix: "",
		GitHub: GitHubConfig{
			APIURL:   "https://api.github.com",
			TokenEnv: "GITHUB_TOKEN",
			TokenKey: "github",
		},
		Poll: PollConfig{
			Interval: 5 * time.Minute,
			Debounce: 500 * time.Millisecond,
		},
		Notifications: NotificationsConfig{
			Desktop:            false,
			OnApproved:         true,
			OnChangesRequested: true,
			OnCIFailed:         true,
			OnCIPassed:         false,
		},
		Setup: SetupConfig{
			CommandTimeout: 120 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// SetDefaults registers Default's values with viper. Durations are
// registered in their string form so they read back the way a user writes
// them in config.yaml.
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("workspace_dir", defaults.WorkspaceDir)
	viper.SetDefault("store_file", defaults.StoreFile)
	viper.SetDefault("registry_file", defaults.RegistryFile)
	viper.SetDefault("branch_prefix", defaults.BranchPrefix)

	viper.SetDefault("github.api_url", defaults.GitHub.APIURL)
	viper.SetDefault("github.token_env", defaults.GitHub.TokenEnv)
	viper.SetDefault("github.token_key", defaults.GitHub.TokenKey)

	viper.SetDefault("poll.interval", defaults.Poll.Interval.String())
	viper.SetDefault("poll.debounce", defaults.Poll.Debounce.String())
	viper.SetDefault("poll.include_closed", defaults.Poll.IncludeClosed)

	viper.SetDefault("notifications.desktop", defaults.Notifications.Desktop)
	viper.SetDefault("notifications.on_approved", defaults.Notifications.OnApproved)
	viper.SetDefault("notifications.on_changes_requested", defaults.Notifications.OnChangesRequested)
	viper.SetDefault("notifications.on_ci_failed", defaults.Notifications.OnCIFailed)
	viper.SetDefault("notifications.on_ci_passed", defaults.Notifications.OnCIPassed)

	viper.SetDefault("slack.webhook_url", defaults.Slack.WebhookURL)

	viper.SetDefault("setup.command_timeout", defaults.Setup.CommandTimeout.String())

	viper.SetDefault("logging.file", defaults.Logging.File)
	viper.SetDefault("logging.level", defaults.Logging.Level)
}

// Load unmarshals the current viper state and validates it. Paths are
// expanded so callers never see a leading ~.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.WorkspaceDir = paths.Expand(cfg.WorkspaceDir)
	cfg.StoreFile = paths.Expand(cfg.StoreFile)
	cfg.RegistryFile = paths.Expand(cfg.RegistryFile)
	cfg.Logging.File = paths.Expand(cfg.Logging.File)

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// ConfigFile returns the path of config.yaml, or "" if the config
// directory cannot be resolved.
func ConfigFile() string {
	dir, err := paths.ConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}
