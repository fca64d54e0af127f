package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jointcal/jointcal/pkg/calibration"
	"github.com/jointcal/jointcal/pkg/config"
)

func NewStatusCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Get the current status of jointcal",
		Long:    `Get the current activity, the last calibration and park reports, and the daemon configuration.`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := apiClient.GetStatus()
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}
			raw, err := apiClient.GetConfig()
			if err != nil {
				return fmt.Errorf("failed to get config: %w", err)
			}

			if asJSON {
				b, err := json.MarshalIndent(struct {
					Status *calibration.Status    `json:"status"`
					Config *config.RawFileConfig `json:"config"`
				}{st, raw}, "", "  ")
				if err != nil {
					return err
				}
				cmd.Println(string(b))
				return nil
			}

			printStatus(cmd, st, config.NewFileFromConfig(raw, ""))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print status as JSON")

	return cmd
}

func printStatus(cmd *cobra.Command, st *calibration.Status, conf config.Config) {
	cmd.Println(bold("Device %s:", st.Device))
	cmd.Printf("  Joints: %s in %s groups\n", bold("%d", st.Joints), bold("%d", st.Groups))
	cmd.Printf("  Vanilla: %s\n", bool2Text(st.Vanilla))
	cmd.Printf("  Activity: %s\n", bold("%s", st.Activity))
	if st.Activity == calibration.ActivityCalibrating {
		cmd.Printf("  Group %d: %s\n", st.Group, phaseText(st.Phase))
	}
	if !st.ScheduledAt.IsZero() {
		cmd.Printf("  Next scheduled calibration: %s\n", st.ScheduledAt.Local().Format(time.DateTime))
	}
	cmd.Println()

	cmd.Println(bold("Last calibration:"))
	if st.LastRun == nil {
		cmd.Println("  none")
	} else {
		printReport(cmd, st.LastRun)
	}
	cmd.Println()

	cmd.Println(bold("Last park:"))
	if st.LastPark == nil {
		cmd.Println("  none")
	} else {
		printParkReport(cmd, st.LastPark)
	}
	cmd.Println()

	cmd.Println(bold("Daemon configuration:"))
	cmd.Printf("  Description: %s\n", conf.DescriptionPath())
	switch conf.Hardware() {
	case config.HardwareSerial:
		cmd.Printf("  Hardware: %s (%s @ %d baud)\n", bold("serial"), conf.SerialPort(), conf.BaudRate())
	default:
		cmd.Printf("  Hardware: %s\n", bold("%s", conf.Hardware()))
	}
	cmd.Printf("  Park on shutdown: %s\n", bool2Text(conf.ParkOnShutdown()))
	cmd.Printf("  Allow non-root users to access the daemon: %s\n", bool2Text(conf.AllowNonRootAccess()))
}
