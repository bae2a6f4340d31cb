package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/cronbox/internal/bootstrap"
	"github.com/nextlevelbuilder/cronbox/internal/cron"
)

func cronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Manage scheduled jobs",
	}
	cmd.AddCommand(cronAddCmd())
	cmd.AddCommand(cronListCmd())
	cmd.AddCommand(cronDeleteCmd())
	cmd.AddCommand(cronToggleCmd())
	cmd.AddCommand(cronRunCmd())
	cmd.AddCommand(cronRunsCmd())
	cmd.AddCommand(cronStatusCmd())
	return cmd
}

// openService builds a service over the configured store. The returned
// cleanup closes the store.
func openService() (*cron.Service, func()) {
	cfg := loadConfig()
	setupLogging(cfg)

	store, err := bootstrap.OpenStore(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	svc := cron.NewService(store, serviceOptions(cfg))
	return svc, func() { store.Close() }
}

func cronAddCmd() *cobra.Command {
	var (
		name     string
		cronExpr string
		tz       string
		every    time.Duration
		at       string
		text     string
		message  string
		deliver  bool
		disabled bool
		keep     bool
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a scheduled job",
		Example: `  cronbox cron add --name standup --cron "0 9 * * 1-5" --text "time for standup"
  cronbox cron add --name digest --every 1h --message "summarize my inbox"
  cronbox cron add --name reminder --at 2026-09-01T09:00:00Z --text "renew certs"`,
		Run: func(cmd *cobra.Command, args []string) {
			create := cron.JobCreate{Name: name}

			switch {
			case cronExpr != "":
				create.Schedule = cron.Schedule{Kind: cron.ScheduleCron, Expr: cronExpr, TZ: tz}
			case every > 0:
				ms := every.Milliseconds()
				create.Schedule = cron.Schedule{Kind: cron.ScheduleEvery, EveryMS: &ms}
			case at != "":
				ts, err := time.Parse(time.RFC3339, at)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error: --at must be RFC3339: %v\n", err)
					os.Exit(1)
				}
				ms := ts.UnixMilli()
				create.Schedule = cron.Schedule{Kind: cron.ScheduleAt, AtMS: &ms}
			default:
				fmt.Fprintln(os.Stderr, "Error: one of --cron, --every, --at is required")
				os.Exit(1)
			}

			if message != "" {
				create.Payload = cron.Payload{Kind: cron.PayloadAgentTurn, Message: message, Deliver: deliver}
			} else {
				create.Payload = cron.Payload{Kind: cron.PayloadSystemEvent, Text: text}
			}
			if disabled {
				enabled := false
				create.Enabled = &enabled
			}
			if keep {
				del := false
				create.DeleteAfterRun = &del
			}

			svc, cleanup := openService()
			defer cleanup()

			job, err := svc.Add(context.Background(), create)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Added job %s (%s)\n", job.ID, job.Name)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "job name (required)")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "5-field cron expression")
	cmd.Flags().StringVar(&tz, "tz", "", "IANA timezone for --cron (default local)")
	cmd.Flags().DurationVar(&every, "every", 0, "recurring interval (e.g. 30m, 1h)")
	cmd.Flags().StringVar(&at, "at", "", "one-time RFC3339 timestamp")
	cmd.Flags().StringVar(&text, "text", "", "system event text to inject")
	cmd.Flags().StringVar(&message, "message", "", "agent turn prompt (isolated run)")
	cmd.Flags().BoolVar(&deliver, "deliver", false, "deliver the agent result to the session target")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "create the job disabled")
	cmd.Flags().BoolVar(&keep, "keep", false, "keep a one-time job after it runs")
	cmd.MarkFlagRequired("name")
	return cmd
}

func cronListCmd() *cobra.Command {
	var jsonOutput bool
	var enabledOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		Run: func(cmd *cobra.Command, args []string) {
			svc, cleanup := openService()
			defer cleanup()

			jobs, err := svc.List(context.Background())
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if enabledOnly {
				kept := jobs[:0]
				for _, j := range jobs {
					if j.Enabled {
						kept = append(kept, j)
					}
				}
				jobs = kept
			}
			printCronJobs(jobs, jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().BoolVar(&enabledOnly, "enabled", false, "only show enabled jobs")
	return cmd
}

func cronDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [jobId]",
		Short: "Delete a job",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			svc, cleanup := openService()
			defer cleanup()

			if err := svc.Remove(context.Background(), args[0]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Deleted job %s\n", args[0])
		},
	}
}

func cronToggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle [jobId] [true|false]",
		Short: "Enable or disable a job",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			enabled := args[1] == "true" || args[1] == "1" || args[1] == "on"

			svc, cleanup := openService()
			defer cleanup()

			if _, err := svc.Enable(context.Background(), args[0], enabled); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Job %s enabled=%v\n", args[0], enabled)
		},
	}
}

func cronRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [jobId]",
		Short: "Run a job immediately, ignoring its schedule",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			svc, cleanup := openService()
			defer cleanup()

			if err := svc.Run(context.Background(), args[0], true); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Ran job %s\n", args[0])
		},
	}
}

func cronRunsCmd() *cobra.Command {
	var limit int
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "runs [jobId]",
		Short: "Show recent run history for a job",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			svc, cleanup := openService()
			defer cleanup()

			runs, err := svc.Runs(context.Background(), args[0], limit)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			printCronRuns(runs, jsonOutput)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", cron.DefaultRunsLimit, "max entries to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func cronStatusCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show scheduler status",
		Run: func(cmd *cobra.Command, args []string) {
			svc, cleanup := openService()
			defer cleanup()

			snap, err := svc.Status(context.Background())
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if jsonOutput {
				data, _ := json.MarshalIndent(snap, "", "  ")
				fmt.Println(string(data))
				return
			}

			fmt.Printf("Jobs: %d (%d enabled, %d disabled)\n", snap.Jobs, snap.Enabled, snap.Disabled)
			if snap.NextWakeAtMS != nil {
				fmt.Printf("Next wake: %s\n", time.UnixMilli(*snap.NextWakeAtMS).Format(time.DateTime))
			}
			for _, due := range snap.NextDue {
				fmt.Printf("  %s  %s\n", time.UnixMilli(due.NextRunAtMS).Format(time.DateTime), due.Name)
			}
			if snap.LastError != "" {
				fmt.Printf("Last error: %s\n", snap.LastError)
			}
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

// --- Shared display ---

func printCronJobs(jobs []cron.Job, jsonOutput bool) {
	if jsonOutput {
		data, _ := json.MarshalIndent(jobs, "", "  ")
		fmt.Println(string(data))
		return
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs configured.")
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\tNAME\tENABLED\tSCHEDULE\tNEXT RUN\tLAST RUN\n")
	for _, j := range jobs {
		schedule := j.Schedule.Kind
		switch {
		case j.Schedule.Expr != "":
			schedule = j.Schedule.Expr
		case j.Schedule.EveryMS != nil:
			schedule = "every " + (time.Duration(*j.Schedule.EveryMS) * time.Millisecond).String()
		case j.Schedule.AtMS != nil:
			schedule = "at " + time.UnixMilli(*j.Schedule.AtMS).Format(time.DateTime)
		}

		nextRun := "-"
		if j.State.NextRunAtMS != nil {
			nextRun = time.UnixMilli(*j.State.NextRunAtMS).Format(time.DateTime)
		}
		lastRun := "never"
		if j.State.LastRunAtMS != nil {
			lastRun = time.UnixMilli(*j.State.LastRunAtMS).Format(time.DateTime)
		}

		idShort := j.ID
		if len(idShort) > 8 {
			idShort = idShort[:8]
		}

		fmt.Fprintf(tw, "%s\t%s\t%v\t%s\t%s\t%s\n",
			idShort, j.Name, j.Enabled, schedule, nextRun, lastRun)
	}
	tw.Flush()
}

func printCronRuns(runs []cron.RunRecord, jsonOutput bool) {
	if jsonOutput {
		data, _ := json.MarshalIndent(runs, "", "  ")
		fmt.Println(string(data))
		return
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "STARTED\tSTATUS\tDURATION\tDETAIL\n")
	for _, r := range runs {
		detail := r.Output
		if r.Error != "" {
			detail = r.Error
		}
		if len(detail) > 60 {
			detail = detail[:60] + "…"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			time.UnixMilli(r.StartedAtMS).Format(time.DateTime),
			r.Status,
			(time.Duration(r.DurationMS) * time.Millisecond).String(),
			detail)
	}
	tw.Flush()
}
