package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/rtm/internal/extension"
)

func newRefreshCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh [extension]",
		Short: "Fetch manifests and report available updates",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, flags, func(s *session) error {
				var rows []statusRow
				if len(args) == 1 {
					mgr, err := s.runtimes.Manager(args[0])
					if err != nil {
						return err
					}
					mgr.Refresh(cmd.Context())
					rows = append(rows, managerRow(mgr))
				} else {
					s.runtimes.RefreshAll(cmd.Context())
					for _, id := range s.runtimes.IDs() {
						mgr, _ := s.runtimes.Manager(id)
						rows = append(rows, managerRow(mgr))
					}
				}
				return writeStatus(cmd.OutOrStdout(), flags.output, rows)
			})
		},
	}
}

func newInstallCmd(flags *globalFlags) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "install <extension>",
		Short: "Install or update an extension's runtime",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, flags, func(s *session) error {
				mgr, err := s.runtimes.Manager(args[0])
				if err != nil {
					return err
				}

				if !quiet && flags.output == outputText {
					cancel := mgr.Subscribe(progressPrinter(cmd.ErrOrStderr(), mgr.ID()))
					defer cancel()
				}

				if err := mgr.InstallOrUpdate(cmd.Context()); err != nil {
					return err
				}
				return writeStatus(cmd.OutOrStdout(), flags.output, []statusRow{managerRow(mgr)})
			})
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print progress")
	return cmd
}

// progressPrinter reports each distinct install milestone on w.
func progressPrinter(w io.Writer, id string) func(extension.State) {
	var mu sync.Mutex
	last := -1
	return func(s extension.State) {
		if s.Phase != extension.PhaseInstalling {
			return
		}
		pct := int(s.Progress * 100)
		mu.Lock()
		defer mu.Unlock()
		if pct == last {
			return
		}
		last = pct
		fmt.Fprintf(w, "%s: installing %3d%%\n", id, pct)
	}
}

func newUninstallCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <extension>",
		Short: "Remove an extension's installed runtime",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, flags, func(s *session) error {
				mgr, err := s.runtimes.Manager(args[0])
				if err != nil {
					return err
				}
				if err := mgr.Uninstall(cmd.Context()); err != nil {
					return err
				}
				return writeStatus(cmd.OutOrStdout(), flags.output, []statusRow{managerRow(mgr)})
			})
		},
	}
}
