package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewCalibrationCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "calibration",
		Aliases: []string{"calibrate", "cali"},
		Short:   "Start or abort a calibration run",
		Long: `Start or abort a calibration run.

A run limits the PID output of every joint in a group, asks the controller
to calibrate them, waits for calibration to finish, then restores the PID
gains and drives the group to its zero position. Groups are processed in
calibration order. A group that does not finish in time is left disabled.`,
		GroupID: gBasic,
	}

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start calibrating all groups in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			msg, err := apiClient.StartCalibration()
			if err != nil {
				return fmt.Errorf("failed to start calibration: %w", err)
			}
			printResponse(cmd, msg)
			cmd.Println("Follow progress with 'jointcal watch' or 'jointcal status'.")
			return nil
		},
	}

	abortCmd := &cobra.Command{
		Use:     "abort",
		Aliases: []string{"cancel"},
		Short:   "Abort the running calibration",
		Long: `Abort the running calibration. The group being calibrated stops
at its next poll, joints are left as they are, and remaining groups are not run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			msg, err := apiClient.AbortCalibration()
			if err != nil {
				return fmt.Errorf("failed to abort calibration: %w", err)
			}
			printResponse(cmd, msg)
			return nil
		},
	}

	cmd.AddCommand(startCmd, abortCmd)
	return cmd
}
