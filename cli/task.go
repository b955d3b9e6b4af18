package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zhubert/taskspace/apperr"
	"github.com/zhubert/taskspace/task"
)

func newTaskCommand(state *rootState) *cobra.Command {
	var taskFlag string

	cmd := &cobra.Command{
		Use:     "task",
		Aliases: []string{"t"},
		Short:   "Create, inspect and retire tasks",
		Long: `Commands that act on an existing task use --task, or the task whose
workspace contains the current directory, or $TASKSPACE_TASK.`,
	}
	cmd.PersistentFlags().StringVarP(&taskFlag, "task", "t", "", "task id (default: detected from the current directory)")

	// current resolves the task a command applies to.
	current := func() (*app, string, error) {
		a, err := state.services()
		if err != nil {
			return nil, "", err
		}
		if taskFlag != "" {
			return a, taskFlag, nil
		}
		cwd, err := os.Getwd()
		if err != nil {
			return nil, "", fmt.Errorf("failed to get current directory: %w", err)
		}
		id, err := a.service.DetectCurrentTask(cwd)
		return a, id, err
	}

	cmd.AddCommand(
		newTaskCreateCommand(state),
		newTaskAddCommand(current),
		newTaskRemoveCommand(current),
		newTaskArchiveCommand(state, current),
		newTaskDeleteCommand(state),
		newTaskListCommand(state),
		newTaskShowCommand(state, current),
		newTaskCurrentCommand(current),
		newTaskNotesCommand(current),
		newTaskLinkCommand(current),
		newTaskUnlinkCommand(current),
		newTaskTicketCommand(current),
	)
	return cmd
}

type currentFunc func() (*app, string, error)

func newTaskCreateCommand(state *rootState) *cobra.Command {
	var (
		title    string
		tickets  []string
		projects []string
	)
	cmd := &cobra.Command{
		Use:   "create <id>",
		Short: "Create a task, optionally with initial projects",
		Long: `Create a task. Each --project is created all-or-nothing: if one worktree
fails, the ones already created are removed and no task is recorded.

A project may be given as name, name:branch or name:branch:base.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := state.services()
			if err != nil {
				return err
			}
			opts := task.CreateOptions{ID: args[0], Title: title, Tickets: tickets}
			for _, spec := range projects {
				opts.Projects = append(opts.Projects, parseProjectSpec(spec))
			}

			res, err := a.service.CreateTask(cmd.Context(), opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			g := glyphsFor(out)
			fmt.Fprintf(out, "%s Created task %s: %s\n", g.ok, res.Task.ID, res.Task.Title)
			for _, p := range res.Projects {
				printProjectResult(out, g, a.service.WorkspaceDir(), res.Task.ID, p)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title (required)")
	cmd.Flags().StringArrayVar(&tickets, "ticket", nil, "external ticket reference (repeatable)")
	cmd.Flags().StringArrayVarP(&projects, "project", "p", nil, "registered project to add (repeatable)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

// parseProjectSpec splits name[:branch[:base]].
func parseProjectSpec(spec string) task.AddProjectOptions {
	parts := strings.SplitN(spec, ":", 3)
	opts := task.AddProjectOptions{Project: parts[0]}
	if len(parts) > 1 {
		opts.Branch = parts[1]
	}
	if len(parts) > 2 {
		opts.BaseBranch = parts[2]
	}
	return opts
}

func printProjectResult(w io.Writer, g glyphs, workspaceDir, taskID string, r task.AddProjectResult) {
	fmt.Fprintf(w, "  %s %s  %s -> %s\n", g.ok, r.Project.Name, r.Project.Branch,
		task.WorktreePath(workspaceDir, taskID, r.Project.Name))
	for _, warning := range r.Warnings() {
		fmt.Fprintf(w, "    %s setup: %s\n", g.warn, warning)
	}
}

func newTaskAddCommand(current currentFunc) *cobra.Command {
	var branch, base string
	cmd := &cobra.Command{
		Use:   "add <project>",
		Short: "Add a registered project's worktree to a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, id, err := current()
			if err != nil {
				return err
			}
			res, err := a.service.AddProject(cmd.Context(), id, task.AddProjectOptions{
				Project:    args[0],
				Branch:     branch,
				BaseBranch: base,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printProjectResult(out, glyphsFor(out), a.service.WorkspaceDir(), id, *res)
			return nil
		},
	}
	cmd.Flags().StringVarP(&branch, "branch", "b", "", "branch name (default: prefix + task id)")
	cmd.Flags().StringVar(&base, "base", "", "base branch (default: the project's default base branch)")
	return cmd
}

func newTaskRemoveCommand(current currentFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <project>",
		Short: "Remove a project's worktree from a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, id, err := current()
			if err != nil {
				return err
			}
			if err := a.service.RemoveProject(cmd.Context(), id, args[0]); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s Removed %s from %s\n", glyphsFor(out).ok, args[0], id)
			return nil
		},
	}
}

func newTaskArchiveCommand(state *rootState, current currentFunc) *cobra.Command {
	var cleanup bool
	cmd := &cobra.Command{
		Use:   "archive [id]",
		Short: "Archive a task",
		Long: `Archive a task. With --cleanup every worktree is removed and the task
directory deleted; removal failures are reported but the task is archived
regardless.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, id, err := taskFromArgs(state, current, args)
			if err != nil {
				return err
			}
			res, err := a.service.ArchiveTask(cmd.Context(), id, cleanup)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			g := glyphsFor(out)
			fmt.Fprintf(out, "%s Archived %s\n", g.ok, id)
			printCleanup(out, g, res)
			return nil
		},
	}
	cmd.Flags().BoolVar(&cleanup, "cleanup", false, "remove worktrees and the task directory")
	return cmd
}

func newTaskDeleteCommand(state *rootState) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task, its worktrees and its directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := state.services()
			if err != nil {
				return err
			}
			id := args[0]
			if _, err := a.service.GetTask(id); err != nil {
				return err
			}
			if !force && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), fmt.Sprintf("Delete task %s and all its worktrees?", id)) {
				fmt.Fprintln(cmd.OutOrStdout(), "Delete cancelled.")
				return nil
			}

			res, err := a.service.DeleteTask(cmd.Context(), id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			g := glyphsFor(out)
			fmt.Fprintf(out, "%s Deleted %s\n", g.ok, id)
			printCleanup(out, g, res)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "skip confirmation prompt")
	return cmd
}

func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N] ", question)
	response, _ := bufio.NewReader(in).ReadString('\n')
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}

func printCleanup(w io.Writer, g glyphs, res *task.CleanupResult) {
	if res == nil {
		return
	}
	for _, name := range res.Removed {
		fmt.Fprintf(w, "  %s removed worktree %s\n", g.ok, name)
	}
	for _, f := range res.Failures {
		fmt.Fprintf(w, "  %s %s: %v\n", g.fail, f.Project, f.Err)
	}
	if res.DirErr != nil {
		fmt.Fprintf(w, "  %s task directory: %v\n", g.fail, res.DirErr)
	}
}

func newTaskListCommand(state *rootState) *cobra.Command {
	var all, archived bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tasks",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := state.services()
			if err != nil {
				return err
			}
			status := task.StatusActive
			switch {
			case all:
				status = ""
			case archived:
				status = task.StatusArchived
			}
			tasks, err := a.service.ListTasks(status)
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No tasks.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tSTATUS\tPROJECTS\tPRS\tTITLE")
			for _, t := range tasks {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", t.ID, t.Status, len(t.Projects), prSummary(t), t.Title)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "include archived tasks")
	cmd.Flags().BoolVar(&archived, "archived", false, "only archived tasks")
	return cmd
}

// prSummary renders e.g. "api#12 web#7" or "-".
func prSummary(t task.Task) string {
	var parts []string
	for _, p := range t.Projects {
		if p.PR != nil {
			parts = append(parts, p.Name+"#"+strconv.Itoa(p.PR.Number))
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, " ")
}

func newTaskShowCommand(state *rootState, current currentFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Show a task's projects, pull requests, links and notes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, id, err := taskFromArgs(state, current, args)
			if err != nil {
				return err
			}
			t, err := a.service.GetTask(id)
			if err != nil {
				return err
			}
			printTask(cmd.OutOrStdout(), a.service.WorkspaceDir(), t)
			return nil
		},
	}
}

func printTask(w io.Writer, workspaceDir string, t task.Task) {
	fmt.Fprintf(w, "%s: %s\n", t.ID, t.Title)
	fmt.Fprintf(w, "Status:  %s\n", t.Status)
	fmt.Fprintf(w, "Updated: %s\n", t.UpdatedAt.Format("2006-01-02 15:04"))
	if len(t.Tickets) > 0 {
		fmt.Fprintf(w, "Tickets: %s\n", strings.Join(t.Tickets, ", "))
	}

	if len(t.Projects) > 0 {
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "PROJECT\tBRANCH\tBASE\tPR\tREVIEW\tCI\tWORKTREE")
		for _, p := range t.Projects {
			pr, review, ci := "-", "-", "-"
			if p.PR != nil {
				pr = fmt.Sprintf("#%d %s", p.PR.Number, p.PR.Status)
				review = string(p.PR.ReviewStatus)
				ci = string(p.PR.CIStatus)
			}
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				p.Name, p.Branch, p.BaseBranch, pr, review, ci, task.WorktreePath(workspaceDir, t.ID, p.Name))
		}
		_ = tw.Flush()
	}

	if len(t.Links) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Links:")
		for i, l := range t.Links {
			fmt.Fprintf(w, "  %d. %s <%s>\n", i+1, l.Title, l.URL)
		}
	}
	if t.Notes != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Notes:")
		fmt.Fprintln(w, t.Notes)
	}
}

func newTaskCurrentCommand(current currentFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "current",
		Short: "Print the task for the current directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, id, err := current()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

func newTaskNotesCommand(current currentFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "notes [text]",
		Short: "Print or replace a task's notes",
		Long:  `Without an argument the notes are printed. Pass "-" to read them from stdin.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, id, err := current()
			if err != nil {
				return err
			}
			if len(args) == 0 {
				t, err := a.service.GetTask(id)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), t.Notes)
				return nil
			}

			notes := args[0]
			if notes == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read notes: %w", err)
				}
				notes = strings.TrimRight(string(data), "\n")
			}
			return a.service.SetNotes(id, notes)
		},
	}
}

func newTaskLinkCommand(current currentFunc) *cobra.Command {
	var title string
	cmd := &cobra.Command{
		Use:   "link <url>",
		Short: "Attach a link to a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, id, err := current()
			if err != nil {
				return err
			}
			link, err := a.service.AddLink(id, title, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s Linked %s\n", glyphsFor(out).ok, link.Title)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "link title (default: the URL)")
	return cmd
}

func newTaskUnlinkCommand(current currentFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "unlink <n>",
		Short: "Remove the n-th link (as numbered by show)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, id, err := current()
			if err != nil {
				return err
			}
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return apperr.NewValidation("cli.unlink", "link number must be an integer, got %q", args[0])
			}
			return a.service.RemoveLink(id, n-1)
		},
	}
}

func newTaskTicketCommand(current currentFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "ticket <reference>",
		Short: "Attach an external ticket reference to a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, id, err := current()
			if err != nil {
				return err
			}
			return a.service.AddTicket(id, args[0])
		},
	}
}

// taskFromArgs uses an explicit id argument when given, else the current
// task.
func taskFromArgs(state *rootState, current currentFunc, args []string) (*app, string, error) {
	if len(args) == 0 {
		return current()
	}
	a, err := state.services()
	if err != nil {
		return nil, "", err
	}
	return a, args[0], nil
}
