package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jointcal/jointcal/pkg/calibration"
	"github.com/jointcal/jointcal/pkg/events"
)

func NewWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "watch",
		Short:   "Follow calibration and park events as they happen",
		GroupID: gBasic,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ch, err := apiClient.SubscribeEvents(ctx)
			if err != nil {
				return err
			}
			for ev := range ch {
				printEvent(cmd, ev)
			}
			return nil
		},
	}
}

func printEvent(cmd *cobra.Command, ev events.Event) {
	ts := func(unix int64) string { return time.Unix(unix, 0).Format(time.TimeOnly) }

	switch ev.Name {
	case events.CalibrationGroup:
		p, err := events.DecodeAs[events.GroupPhaseEvent](ev)
		if err != nil {
			break
		}
		line := color.New(color.Faint).Sprint(ts(p.Ts)) + " group " + bold("%d", p.Group) + " [" + joinInts(p.Joints) + "] " + p.From + " -> " + phaseText(calibration.Phase(p.To))
		if p.Message != "" {
			line += ": " + p.Message
		}
		cmd.Println(line)
		return
	case events.CalibrationRun:
		p, err := events.DecodeAs[events.RunEvent](ev)
		if err != nil {
			break
		}
		switch {
		case !p.Finished:
			cmd.Printf("%s calibration of %s started\n", ts(p.Ts), bold("%s", p.Device))
		case p.Error != "":
			cmd.Printf("%s calibration failed: %s\n", ts(p.Ts), color.RedString(p.Error))
		case p.Aborted:
			cmd.Printf("%s calibration %s\n", ts(p.Ts), color.YellowString("aborted"))
		case len(p.FailedGroups) > 0:
			cmd.Printf("%s calibration finished, groups left disabled: %s\n", ts(p.Ts), color.RedString(joinInts(p.FailedGroups)))
		default:
			cmd.Printf("%s calibration %s\n", ts(p.Ts), color.GreenString("finished"))
		}
		return
	case events.CalibrationAction:
		p, err := events.DecodeAs[events.ActionEvent](ev)
		if err != nil {
			break
		}
		cmd.Printf("%s %s\n", ts(p.Ts), p.Message)
		return
	case events.Park:
		p, err := events.DecodeAs[events.ParkEvent](ev)
		if err != nil {
			break
		}
		state := color.GreenString("done")
		if p.Aborted {
			state = color.YellowString("aborted")
		} else if p.TimedOut {
			state = color.RedString("timed out, still moving: " + joinInts(p.Unfinished))
		}
		cmd.Printf("%s park of %s %s\n", ts(p.Ts), bold("%s", p.Device), state)
		return
	}

	logrus.WithField("event", ev.Name).Debug("unhandled event")
}
