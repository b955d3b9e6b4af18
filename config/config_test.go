package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/zhubert/taskspace/paths"
)

// isolate points path resolution at a fresh home and clears viper state.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("XDG_DATA_HOME", "")
	t.Setenv("XDG_STATE_HOME", "")
	t.Setenv("TASKSPACE_HOME", "")
	paths.Reset()
	viper.Reset()
	t.Cleanup(func() {
		paths.Reset()
		viper.Reset()
	})
	return home
}

func TestDefault(t *testing.T) {
	home := isolate(t)
	cfg := Default()

	if want := filepath.Join(home, ".taskspace", "workspaces"); cfg.WorkspaceDir != want {
		t.Errorf("WorkspaceDir = %q, want %q", cfg.WorkspaceDir, want)
	}
	if want := filepath.Join(home, ".taskspace", "tasks.json"); cfg.StoreFile != want {
		t.Errorf("StoreFile = %q, want %q", cfg.StoreFile, want)
	}
	if cfg.GitHub.TokenEnv != "GITHUB_TOKEN" {
		t.Errorf("GitHub.TokenEnv = %q", cfg.GitHub.TokenEnv)
	}
	if cfg.Poll.Interval != 5*time.Minute {
		t.Errorf("Poll.Interval = %s, want 5m", cfg.Poll.Interval)
	}
	if cfg.Setup.CommandTimeout != 120*time.Second {
		t.Errorf("Setup.CommandTimeout = %s, want 120s", cfg.Setup.CommandTimeout)
	}
	if !cfg.Notifications.OnApproved || cfg.Notifications.OnCIPassed {
		t.Errorf("unexpected notification defaults %+v", cfg.Notifications)
	}
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("defaults should validate, got %v", errs)
	}
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)
	SetDefaults()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GitHub.APIURL != "https://api.github.com" {
		t.Errorf("APIURL = %q", cfg.GitHub.APIURL)
	}
	if cfg.Poll.Debounce != 500*time.Millisecond {
		t.Errorf("Debounce = %s", cfg.Poll.Debounce)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	home := isolate(t)
	SetDefaults()

	file := filepath.Join(t.TempDir(), "config.yaml")
	content := `workspace_dir: ~/work
branch_prefix: alice/
poll:
  interval: 90s
  include_closed: true
notifications:
  on_ci_passed: true
`
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	viper.SetConfigFile(file)
	if err := viper.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig: %v", err)
	}

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	t.Setenv("TASKSPACE_SLACK_WEBHOOK_URL", "https://hooks.slack.com/services/T/B/X")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if want := filepath.Join(home, "work"); cfg.WorkspaceDir != want {
		t.Errorf("WorkspaceDir = %q, want %q", cfg.WorkspaceDir, want)
	}
	if cfg.BranchPrefix != "alice/" {
		t.Errorf("BranchPrefix = %q", cfg.BranchPrefix)
	}
	if cfg.Poll.Interval != 90*time.Second || !cfg.Poll.IncludeClosed {
		t.Errorf("Poll = %+v", cfg.Poll)
	}
	if !cfg.Notifications.OnCIPassed || !cfg.Notifications.OnApproved {
		t.Errorf("Notifications = %+v", cfg.Notifications)
	}
	if cfg.Slack.WebhookURL != "https://hooks.slack.com/services/T/B/X" {
		t.Errorf("Slack.WebhookURL = %q", cfg.Slack.WebhookURL)
	}
}

func TestLoad_InvalidReturnsValidationErrors(t *testing.T) {
	isolate(t)
	SetDefaults()
	viper.Set("poll.interval", "1s")
	viper.Set("slack.webhook_url", "http://insecure.example")

	_, err := Load()
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %v", err)
	}
	if len(verrs) != 2 {
		t.Fatalf("expected 2 errors, got %d: %v", len(verrs), verrs)
	}
	if !strings.Contains(err.Error(), "2 validation errors") {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"empty workspace", func(c *Config) { c.WorkspaceDir = " " }, "workspace_dir"},
		{"empty store", func(c *Config) { c.StoreFile = "" }, "store_file"},
		{"bad prefix", func(c *Config) { c.BranchPrefix = "-x" }, "branch_prefix"},
		{"dotdot prefix", func(c *Config) { c.BranchPrefix = "a..b/" }, "branch_prefix"},
		{"relative api url", func(c *Config) { c.GitHub.APIURL = "api.github.com" }, "github.api_url"},
		{"bad token env", func(c *Config) { c.GitHub.TokenEnv = "GH TOKEN" }, "github.token_env"},
		{"short interval", func(c *Config) { c.Poll.Interval = time.Second }, "poll.interval"},
		{"negative debounce", func(c *Config) { c.Poll.Debounce = -time.Second }, "poll.debounce"},
		{"http webhook", func(c *Config) { c.Slack.WebhookURL = "http://x" }, "slack.webhook_url"},
		{"zero timeout", func(c *Config) { c.Setup.CommandTimeout = 0 }, "setup.command_timeout"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
	}

	isolate(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			errs := cfg.Validate()
			if len(errs) != 1 {
				t.Fatalf("expected one error, got %v", errs)
			}
			if errs[0].Field != tt.field {
				t.Errorf("Field = %q, want %q", errs[0].Field, tt.field)
			}
		})
	}
}

func TestValidationError_Error(t *testing.T) {
	e := ValidationError{Field: "poll.interval", Value: "1s", Message: "too short"}
	if got := e.Error(); got != "poll.interval: too short (got: 1s)" {
		t.Errorf("Error() = %q", got)
	}
	if got := ValidationErrors(nil).Error(); got != "" {
		t.Errorf("empty ValidationErrors = %q", got)
	}
}

func TestConfigFile(t *testing.T) {
	home := isolate(t)
	if want := filepath.Join(home, ".taskspace", "config.yaml"); ConfigFile() != want {
		t.Errorf("ConfigFile() = %q, want %q", ConfigFile(), want)
	}
}
