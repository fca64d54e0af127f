package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func NewScheduleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedule [cron-expression]",
		Aliases: []string{"sch", "sched"},
		Short:   "Manage scheduled recalibration",
		Long: `Manage scheduled recalibration.

The schedule command can be used in multiple ways:
  jointcal schedule 'minute hour day month weekday' Set schedule with cron expression
  jointcal schedule disable                         Disable the schedule
  jointcal schedule postpone [duration]             Postpone next run
  jointcal schedule skip                            Skip next run
  jointcal schedule show                            Show current schedule`,
		Example: `  jointcal schedule '0 6 * * 1' (At 06:00 on Monday)
  jointcal schedule '@daily'    (Every day at midnight)`,
		GroupID: gAdvanced,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return runScheduleShow(cmd)
			}
			return runScheduleSet(cmd, args[0])
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "disable",
			Short: "Disable scheduled recalibration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if _, err := apiClient.Schedule(""); err != nil {
					return err
				}
				cmd.Println("Calibration schedule disabled.")
				return nil
			},
		},
		newSchedulePostponeCommand(),
		&cobra.Command{
			Use:   "skip",
			Short: "Skip the next scheduled calibration run",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if _, err := apiClient.SkipNextSchedule(); err != nil {
					return err
				}
				cmd.Println("Next scheduled run skipped.")
				return nil
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Show the current schedule",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runScheduleShow(cmd)
			},
		},
	)

	return cmd
}

func newSchedulePostponeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "postpone [duration]",
		Short: "Postpone the next scheduled calibration run",
		Example: `  jointcal schedule postpone      (Postpone by 1 hour)
  jointcal schedule postpone 90m  (Postpone by 90 minutes)`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := time.Hour
			if len(args) > 0 {
				parsed, err := time.ParseDuration(args[0])
				if err != nil {
					return fmt.Errorf("invalid duration %q: %w", args[0], err)
				}
				d = parsed
			}
			if _, err := apiClient.Postpone(d); err != nil {
				return err
			}
			cmd.Printf("Next run postponed by %s.\n", d)
			return nil
		},
	}
}

func runScheduleSet(cmd *cobra.Command, cronExpr string) error {
	if cronExpr == "" {
		return fmt.Errorf("cron expression cannot be empty, use 'jointcal schedule disable'")
	}
	nextRuns, err := apiClient.Schedule(cronExpr)
	if err != nil {
		return err
	}
	cmd.Printf("Calibration scheduled. Next %d run(s):\n", len(nextRuns))
	for _, run := range nextRuns {
		cmd.Printf("  - %s\n", run.Local().Format(time.DateTime))
	}
	return nil
}

func runScheduleShow(cmd *cobra.Command) error {
	conf, err := apiClient.GetConfig()
	if err != nil {
		return err
	}
	if conf.Cron == nil || *conf.Cron == "" {
		cmd.Println("Calibration schedule is not set.")
		return nil
	}
	st, err := apiClient.GetStatus()
	if err != nil {
		return err
	}
	cmd.Printf("Schedule: %s\n", bold("%s", *conf.Cron))
	if !st.ScheduledAt.IsZero() {
		cmd.Printf("Next run: %s\n", st.ScheduledAt.Local().Format(time.DateTime))
	}
	return nil
}
