package cli

import (
	"context"

	"github.com/zhubert/taskspace/config"
	"github.com/zhubert/taskspace/exec"
	"github.com/zhubert/taskspace/logger"
	"github.com/zhubert/taskspace/notify"
	"github.com/zhubert/taskspace/provider"
	"github.com/zhubert/taskspace/reconcile"
	"github.com/zhubert/taskspace/registry"
	"github.com/zhubert/taskspace/secrets"
	"github.com/zhubert/taskspace/snapshot"
	"github.com/zhubert/taskspace/task"
	"github.com/zhubert/taskspace/worktree"
)

// app holds the wired services for one command invocation.
type app struct {
	cfg       *config.Config
	executor  exec.CommandExecutor
	registry  *registry.FileRegistry
	store     *task.Store
	snapshots *snapshot.Generator
	service   *task.Service
	secrets   *secrets.Backend
}

// newApp wires the orchestrator from cfg. A nil executor runs git for real.
func newApp(cfg *config.Config, executor exec.CommandExecutor) (*app, error) {
	if executor == nil {
		executor = exec.NewRealExecutor()
	}

	reg, err := registry.Load(cfg.RegistryFile)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		executor:  executor,
		registry:  reg,
		store:     task.NewStore(cfg.StoreFile),
		snapshots: snapshot.New(),
		secrets:   secrets.NewBackend(secrets.NewGHCLIStore(executor)),
	}
	a.service = task.NewService(task.Options{
		Store:        a.store,
		Registry:     reg,
		Worktrees:    worktree.NewManagerWith(executor, exec.NewShellRunner(cfg.Setup.CommandTimeout)),
		Context:      a.snapshots,
		WorkspaceDir: cfg.WorkspaceDir,
		BranchPrefix: cfg.BranchPrefix,
	})
	return a, nil
}

// tokenFunc resolves the GitHub token on every call, so a token exported
// while watch runs is picked up by the next request. The gh fallback is
// shared by every caller and reuses its answer for secrets.DefaultTokenTTL.
func (a *app) tokenFunc() provider.TokenFunc {
	return func(ctx context.Context) string {
		return a.secrets.Token(ctx, a.cfg.GitHub.TokenEnv, a.cfg.GitHub.TokenKey)
	}
}

// notifier fans out to the log plus whichever channels are configured.
func (a *app) notifier() notify.Notifier {
	log := logger.WithComponent("cli")
	var notifiers []notify.Notifier

	add := func(name string, settings map[string]string) {
		n, err := notify.New(name, settings)
		if err != nil {
			log.Warn("notifier unavailable", "notifier", name, "error", err)
			return
		}
		notifiers = append(notifiers, n)
	}

	add("log", nil)
	if a.cfg.Notifications.Desktop {
		add("desktop", nil)
	}
	if a.cfg.Slack.WebhookURL != "" {
		add("slack", map[string]string{"webhook_url": a.cfg.Slack.WebhookURL})
	}
	return notify.NewDispatcher(notifiers...)
}

// engine builds the reconciliation engine against GitHub.
func (a *app) engine(gh reconcile.Provider) *reconcile.Engine {
	if gh == nil {
		gh = provider.NewGitHub(a.tokenFunc(), a.cfg.GitHub.APIURL)
	}
	workspace := a.cfg.WorkspaceDir
	return reconcile.New(reconcile.Options{
		Store:    a.store,
		Provider: gh,
		Resolver: provider.NewResolver(a.registry, a.executor),
		Notifier: a.notifier(),
		Gates: reconcile.Gates{
			OnApproved:         a.cfg.Notifications.OnApproved,
			OnChangesRequested: a.cfg.Notifications.OnChangesRequested,
			OnCIFailed:         a.cfg.Notifications.OnCIFailed,
			OnCIPassed:         a.cfg.Notifications.OnCIPassed,
		},
		IncludeClosed: a.cfg.Poll.IncludeClosed,
		OnTaskUpdated: func(t task.Task) {
			if err := a.snapshots.Regenerate(t, workspace); err != nil {
				logger.WithTask(t.ID).Warn("snapshot refresh failed", "error", err)
			}
		},
	})
}
