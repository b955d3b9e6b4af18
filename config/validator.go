package config

import (
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"
)

// ValidationError is a single invalid setting.
type ValidationError struct {
	Field   string // config key, e.g. "poll.interval"
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects every invalid setting found by Validate.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// branchPrefixRegex allows prefixes such as "alice/" or "feat-".
var branchPrefixRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/-]*$`)

// envNameRegex matches a portable environment variable name.
var envNameRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

const minPollInterval = 10 * time.Second

// ValidLogLevels returns the accepted logging.level values.
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate returns every problem found in c.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError

	errs = append(errs, c.validatePaths()...)
	errs = append(errs, c.validateGitHub()...)
	errs = append(errs, c.validatePoll()...)
	errs = append(errs, c.validateSlack()...)

	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if c.Setup.CommandTimeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "setup.command_timeout",
			Value:   c.Setup.CommandTimeout,
			Message: "must be positive",
		})
	}
	return errs
}

func (c *Config) validatePaths() []ValidationError {
	var errs []ValidationError
	required := []struct {
		field, value string
	}{
		{"workspace_dir", c.WorkspaceDir},
		{"store_file", c.StoreFile},
		{"registry_file", c.RegistryFile},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errs = append(errs, ValidationError{Field: r.field, Value: r.value, Message: "must not be empty"})
		}
	}
	if c.BranchPrefix != "" {
		if !branchPrefixRegex.MatchString(c.BranchPrefix) || strings.Contains(c.BranchPrefix, "..") {
			errs = append(errs, ValidationError{
				Field:   "branch_prefix",
				Value:   c.BranchPrefix,
				Message: "must start with a letter or digit and contain only letters, digits, '.', '_', '-' or '/'",
			})
		}
	}
	return errs
}

func (c *Config) validateGitHub() []ValidationError {
	var errs []ValidationError
	if u, err := url.Parse(c.GitHub.APIURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "github.api_url",
			Value:   c.GitHub.APIURL,
			Message: "must be an absolute http(s) URL",
		})
	}
	if c.GitHub.TokenEnv != "" && !envNameRegex.MatchString(c.GitHub.TokenEnv) {
		errs = append(errs, ValidationError{
			Field:   "github.token_env",
			Value:   c.GitHub.TokenEnv,
			Message: "must be a valid environment variable name",
		})
	}
	return errs
}

func (c *Config) validatePoll() []ValidationError {
	var errs []ValidationError
	if c.Poll.Interval < minPollInterval {
		errs = append(errs, ValidationError{
			Field:   "poll.interval",
			Value:   c.Poll.Interval,
			Message: fmt.Sprintf("must be at least %s", minPollInterval),
		})
	}
	if c.Poll.Debounce < 0 {
		errs = append(errs, ValidationError{
			Field:   "poll.debounce",
			Value:   c.Poll.Debounce,
			Message: "must not be negative",
		})
	}
	return errs
}

func (c *Config) validateSlack() []ValidationError {
	if c.Slack.WebhookURL == "" {
		return nil
	}
	u, err := url.Parse(c.Slack.WebhookURL)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return []ValidationError{{
			Field:   "slack.webhook_url",
			Value:   c.Slack.WebhookURL,
			Message: "must be an https URL",
		}}
	}
	return nil
}
