package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/zhubert/taskspace/logger"
)

func newLogsCommand(state *rootState) *cobra.Command {
	var (
		tail  int
		watch bool
		grep  string
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent log lines",
		Long: `Show the end of the taskspace log.

Examples:
  # Last 50 lines of the CLI log
  taskspace logs

  # Everything the watcher logged about one task
  taskspace logs --watch -n 0 --grep 'taskID=ENG-42'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := state.logFile(watch)
			if err != nil {
				return err
			}
			var re *regexp.Regexp
			if grep != "" {
				if re, err = regexp.Compile(grep); err != nil {
					return fmt.Errorf("invalid --grep pattern: %w", err)
				}
			}

			f, err := os.Open(path)
			if os.IsNotExist(err) {
				fmt.Fprintf(cmd.OutOrStdout(), "No log at %s\n", path)
				return nil
			}
			if err != nil {
				return fmt.Errorf("open log: %w", err)
			}
			defer f.Close()

			lines, err := tailLines(f, tail, re)
			if err != nil {
				return fmt.Errorf("read log: %w", err)
			}
			for _, l := range lines {
				fmt.Fprintln(cmd.OutOrStdout(), l)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&tail, "tail", "n", 50, "number of lines to show (0 for all)")
	cmd.Flags().BoolVar(&watch, "watch", false, "read the watch process log")
	cmd.Flags().StringVar(&grep, "grep", "", "only lines matching this regular expression")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "path",
			Short: "Print the log file paths",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cliLog, err := state.logFile(false)
				if err != nil {
					return err
				}
				w, err := state.logFile(true)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cli:   %s\nwatch: %s\n", cliLog, w)
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Delete the default log files",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := logger.ClearLogs()
				if err != nil {
					return fmt.Errorf("clear logs: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d log files\n", n)
				return nil
			},
		},
	)
	return cmd
}

// logFile returns the configured log file, or the default for the CLI or
// watch process.
func (s *rootState) logFile(watch bool) (string, error) {
	if s.cfg != nil && s.cfg.Logging.File != "" {
		return s.cfg.Logging.File, nil
	}
	if watch {
		return logger.WatchLogPath()
	}
	return logger.DefaultLogPath()
}

// tailLines returns the last n lines of r matching re; n <= 0 keeps all.
func tailLines(r io.Reader, n int, re *regexp.Regexp) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if re != nil && !re.MatchString(line) {
			continue
		}
		lines = append(lines, line)
		if n > 0 && len(lines) > n {
			lines = lines[1:]
		}
	}
	return lines, sc.Err()
}
