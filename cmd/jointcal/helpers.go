package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jointcal/jointcal/pkg/calibration"
)

// Commands annotated offline do not need a running daemon.
const annotationOffline = "jointcal/offline"

// printResponse prints what the daemon said, if anything.
func printResponse(cmd *cobra.Command, msg string) {
	if msg != "" {
		cmd.Println(msg)
	}
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}

func phaseText(p calibration.Phase) string {
	switch p {
	case calibration.PhaseSettled:
		return color.New(color.Bold, color.FgGreen).Sprint(p)
	case calibration.PhaseFailedDisabled:
		return color.New(color.Bold, color.FgRed).Sprint(p)
	case "":
		return "-"
	default:
		return color.New(color.Bold, color.FgYellow).Sprint(p)
	}
}

func outcomeText(o calibration.Outcome) string {
	switch o {
	case calibration.OutcomeSettled, calibration.OutcomeVanilla:
		return color.GreenString(string(o))
	case calibration.OutcomeAborted, calibration.OutcomeNotRun:
		return color.YellowString(string(o))
	default:
		return color.RedString(string(o))
	}
}

func joinInts(v []int) string {
	s := make([]string, len(v))
	for i, n := range v {
		s[i] = fmt.Sprint(n)
	}
	return strings.Join(s, ", ")
}

func printReport(cmd *cobra.Command, r *calibration.Report) {
	cmd.Printf("  Started: %s (took %s)\n", r.StartedAt.Local().Format(time.DateTime), r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	if r.Vanilla {
		cmd.Printf("  Vanilla: %s\n", bool2Text(true))
	}
	if r.Aborted {
		cmd.Printf("  %s\n", color.YellowString("Aborted"))
	}
	if r.Error != "" {
		cmd.Printf("  Error: %s\n", color.RedString(r.Error))
	}
	for _, g := range r.Groups {
		cmd.Printf("  Group %d [%s]: %s (%s)\n", g.Index, joinInts(g.Joints), phaseText(g.Phase), outcomeText(g.Outcome))
		for _, j := range g.Results {
			cmd.Printf("    joint %d: position %.2f, zero reached %s", j.Joint, j.Position, bool2Text(j.ZeroReached))
			if j.AmpDisabled {
				cmd.Print(color.RedString(", amplifier disabled"))
			}
			cmd.Println()
		}
	}
}

func printParkReport(cmd *cobra.Command, r *calibration.ParkReport) {
	state := color.GreenString("done")
	switch {
	case r.Aborted:
		state = color.YellowString("aborted")
	case r.TimedOut:
		state = color.RedString("timed out")
	case !r.Waited:
		state = "not waited for"
	}
	cmd.Printf("  %s: %s after %d polls\n", r.FinishedAt.Local().Format(time.DateTime), bold("%s", state), r.Polls)
	if len(r.Unfinished) > 0 {
		cmd.Printf("  Still moving: %s\n", joinInts(r.Unfinished))
	}
	if len(r.Unresponsive) > 0 {
		cmd.Printf("  Not responding: %s\n", joinInts(r.Unresponsive))
	}
}
