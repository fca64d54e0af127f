package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewParkCommand() *cobra.Command {
	var noWait bool

	cmd := &cobra.Command{
		Use:   "park",
		Short: "Move every joint to its home position",
		Long: `Move every joint to its home position.

By default the daemon waits until the motion is done or times out, and
reports which joints did not finish. With --no-wait the motion is only
commanded.`,
		GroupID: gBasic,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			msg, err := apiClient.Park(!noWait)
			if err != nil {
				return fmt.Errorf("failed to park: %w", err)
			}
			printResponse(cmd, msg)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Do not wait for the joints to reach home")

	cmd.AddCommand(&cobra.Command{
		Use:   "abort",
		Short: "Stop waiting for a running park",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			msg, err := apiClient.AbortPark()
			if err != nil {
				return fmt.Errorf("failed to abort park: %w", err)
			}
			printResponse(cmd, msg)
			return nil
		},
	})

	return cmd
}
