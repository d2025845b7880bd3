package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newRunCmd(flags *globalFlags) *cobra.Command {
	var (
		rawArgs string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run <extension> <action>",
		Short: "Send one command to an installed runtime",
		Long: `Send one command to an installed runtime and print its payload.

The runtime is started in RPC mode, receives {"action", "arguments"} on
stdin and must answer with a single JSON object on stdout.`,
		Example: `  rtm run imagegen generate --args '{"prompt":"a lighthouse at dusk","steps":20}'`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			arguments := map[string]any{}
			if rawArgs != "" {
				if err := json.Unmarshal([]byte(rawArgs), &arguments); err != nil {
					return fmt.Errorf("--args must be a JSON object: %w", err)
				}
			}

			return withSession(cmd, flags, func(s *session) error {
				br, err := s.runtimes.Bridge(args[0])
				if err != nil {
					return err
				}

				ctx := cmd.Context()
				if timeout > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, timeout)
					defer cancel()
				}

				payload, err := br.RunCommand(ctx, args[1], arguments)
				if err != nil {
					return err
				}

				format := flags.output
				if format == outputText {
					format = outputJSON
				}
				return writeStructured(cmd.OutOrStdout(), format, payload)
			})
		},
	}

	cmd.Flags().StringVar(&rawArgs, "args", "", "Command arguments as a JSON object")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Override the configured bridge timeout when shorter")
	return cmd
}
