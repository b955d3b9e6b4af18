package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zhubert/taskspace/paths"
	"github.com/zhubert/taskspace/registry"
)

func newDoctorCommand(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check tools, configuration and credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			g := glyphsFor(out)

			checker := NewChecker(state.executor)
			results := checker.CheckAll(cmd.Context(), DefaultPrerequisites())
			fmt.Fprint(out, FormatCheckResults(results, g))

			failed := 0
			check := func(name string, ok bool, detail string) {
				if ok {
					fmt.Fprintf(out, "  %s %s\n", g.ok, name)
					return
				}
				fmt.Fprintf(out, "  %s %s: %s\n", g.fail, name, detail)
				failed++
			}

			fmt.Fprintln(out)
			fmt.Fprintln(out, "Configuration:")
			if used := viper.ConfigFileUsed(); used != "" {
				fmt.Fprintf(out, "  config file: %s\n", used)
			} else {
				fmt.Fprintln(out, "  config file: none (defaults)")
			}
			if layout, err := paths.CurrentLayout(); err == nil {
				fmt.Fprintf(out, "  layout: %s\n", layout)
			}
			cfg := state.cfg
			_, regErr := registry.Load(cfg.RegistryFile)
			check("project registry readable", regErr == nil, errString(regErr))

			a, err := state.services()
			if err == nil {
				_, err = a.store.List()
			}
			check("task store readable", err == nil, errString(err))

			info, err := os.Stat(cfg.WorkspaceDir)
			switch {
			case os.IsNotExist(err):
				fmt.Fprintf(out, "  %s workspace %s (created on first task)\n", g.skip, cfg.WorkspaceDir)
			default:
				check("workspace "+cfg.WorkspaceDir, err == nil && info.IsDir(), "not a directory")
			}

			fmt.Fprintln(out)
			fmt.Fprintln(out, "GitHub:")
			if a != nil && a.tokenFunc()(cmd.Context()) != "" {
				fmt.Fprintf(out, "  %s token available\n", g.ok)
			} else {
				fmt.Fprintf(out, "  %s no token: set %s or run `gh auth login`; sync will do nothing\n", g.skip, cfg.GitHub.TokenEnv)
			}

			if err := MissingRequired(results); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d checks failed", failed)
			}
			return nil
		},
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
