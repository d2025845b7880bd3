package main

import (
	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/rtm/internal/extension"
)

func newStatusCmd(flags *globalFlags) *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "status [extension]",
		Short: "Show the install state of configured extensions",
		Long: `Show the install state of configured extensions.

State is read from disk and the preference store; no network requests are
made unless --refresh is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, flags, func(s *session) error {
				ids := s.runtimes.IDs()
				if len(args) == 1 {
					if _, err := s.runtimes.Manager(args[0]); err != nil {
						return err
					}
					ids = args
				}

				if refresh {
					states := s.runtimes.RefreshAll(cmd.Context())
					s.logger.Debug("refreshed", "extensions", len(states))
				}

				rows := make([]statusRow, 0, len(ids))
				for _, id := range ids {
					mgr, err := s.runtimes.Manager(id)
					if err != nil {
						return err
					}
					rows = append(rows, managerRow(mgr))
				}
				return writeStatus(cmd.OutOrStdout(), flags.output, rows)
			})
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "Fetch manifests before reporting")
	return cmd
}

func managerRow(mgr *extension.Manager) statusRow {
	exe, _ := mgr.Executable()
	return newStatusRow(mgr.ID(), mgr.State(), mgr.LatestVersion(), exe)
}
