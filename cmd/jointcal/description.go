package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jointcal/jointcal/pkg/config"
)

func NewDescriptionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "description",
		Aliases: []string{"desc"},
		Short:   "Inspect part descriptions",
		GroupID: gAdvanced,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show the calibration parameters the daemon has loaded",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cal, err := apiClient.GetDescription()
				if err != nil {
					return err
				}
				printCalibration(cmd, cal)
				return nil
			},
		},
		&cobra.Command{
			Use:   "check <file>",
			Short: "Validate a description file without a daemon",
			Long: `Validate a description file without a daemon.

The file is decoded by extension (.yaml, .yml, .hcl or .json) and checked the
same way the daemon checks it when loading. Warnings about short parameter
lists are logged; set general.strict to turn them into errors.`,
			Args:        cobra.ExactArgs(1),
			Annotations: map[string]string{annotationOffline: "true"},
			RunE: func(cmd *cobra.Command, args []string) error {
				return checkDescription(cmd, args[0])
			},
		},
	)

	return cmd
}

func checkDescription(cmd *cobra.Command, path string) error {
	d, err := config.LoadDescription(path)
	if err != nil {
		return err
	}
	cal, err := config.NewCalibration(d)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	cmd.Printf("%s %s\n", bool2Text(true), path)
	printCalibration(cmd, cal)
	return nil
}

func printCalibration(cmd *cobra.Command, cal *config.Calibration) {
	cmd.Printf("Device %s, %d joints, startup delay %s", bold("%s", cal.DeviceName), cal.NumJoints(), cal.StartupDelay)
	if cal.Vanilla {
		cmd.Print(", vanilla")
	}
	cmd.Println()

	cmd.Printf("  %-5s %-4s %9s %9s %9s %9s %9s %9s %9s %9s %7s\n",
		"joint", "type", "param1", "param2", "param3", "zero", "zeroVel", "thresh", "home", "homeVel", "maxPWM")
	for i, j := range cal.Joints {
		cmd.Printf("  %-5d %-4d %9.2f %9.2f %9.2f %9.2f %9.2f %9.2f %9.2f %9.2f %7.1f\n",
			i, j.Type, j.Param1, j.Param2, j.Param3, j.ZeroPos, j.ZeroVel, j.ZeroPosThreshold, j.HomePos, j.HomeVel, j.MaxPWM)
	}

	for gi, g := range cal.Groups {
		cmd.Printf("  Group %d: %s\n", gi, joinInts(g))
	}
}
