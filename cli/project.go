package cli

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zhubert/taskspace/apperr"
	"github.com/zhubert/taskspace/paths"
	"github.com/zhubert/taskspace/registry"
)

func newProjectCommand(state *rootState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "project",
		Aliases: []string{"p"},
		Short:   "Manage the registry of repositories tasks can use",
	}
	cmd.AddCommand(
		newProjectRegisterCommand(state),
		newProjectListCommand(state),
		newProjectRemoveCommand(state),
	)
	return cmd
}

func newProjectRegisterCommand(state *rootState) *cobra.Command {
	var (
		base     string
		remote   string
		copies   []string
		symlinks []string
		commands []string
	)
	cmd := &cobra.Command{
		Use:   "register <name> <path>",
		Short: "Register a repository under a project name",
		Long: `Register a git repository. --copy and --symlink entries are paths relative
to the repository that are brought into each new worktree; --setup commands
run in the worktree afterwards.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := state.services()
			if err != nil {
				return err
			}
			path, err := filepath.Abs(paths.Expand(args[1]))
			if err != nil {
				return apperr.NewFileSystem("cli.register", "resolve "+args[1], err)
			}

			p := registry.Project{
				Name:              args[0],
				Path:              path,
				DefaultBaseBranch: base,
				Remote:            remote,
			}
			setup := &registry.Setup{Copy: copies, Symlink: symlinks, Commands: commands}
			if !setup.IsEmpty() {
				p.Setup = setup
			}

			if err := a.registry.Add(p); err != nil {
				return err
			}
			if err := a.registry.Save(); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s Registered %s at %s\n", glyphsFor(out).ok, p.Name, p.Path)
			return nil
		},
	}
	cmd.Flags().StringVar(&base, "base", "", "default base branch for new task branches (default: main)")
	cmd.Flags().StringVar(&remote, "remote", "", "owner/repo on GitHub (default: parsed from the origin remote)")
	cmd.Flags().StringArrayVar(&copies, "copy", nil, "file or directory copied into each worktree (repeatable)")
	cmd.Flags().StringArrayVar(&symlinks, "symlink", nil, "file or directory symlinked into each worktree (repeatable)")
	cmd.Flags().StringArrayVar(&commands, "setup", nil, "shell command run in each new worktree (repeatable)")
	return cmd
}

func newProjectListCommand(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List registered projects",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := state.services()
			if err != nil {
				return err
			}
			projects := a.registry.List()
			if len(projects) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No projects registered. Add one with: taskspace project register <name> <path>")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "NAME\tBASE\tREMOTE\tPATH")
			for _, p := range projects {
				base, remote := p.DefaultBaseBranch, p.Remote
				if base == "" {
					base = "main"
				}
				if remote == "" {
					remote = "(origin)"
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Name, base, remote, p.Path)
			}
			return w.Flush()
		},
	}
}

func newProjectRemoveCommand(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Unregister a project",
		Long:  `Unregister a project. Tasks already using it keep their worktrees.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := state.services()
			if err != nil {
				return err
			}
			if err := a.registry.Remove(args[0]); err != nil {
				return err
			}
			if err := a.registry.Save(); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s Unregistered %s\n", glyphsFor(out).ok, args[0])
			return nil
		},
	}
}
