package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskmesh/taskmesh/internal/types"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		e := openEngine()
		defer func() { _ = e.Close() }()

		filter := types.TaskFilter{}
		if cmd.Flags().Changed("status") {
			s, _ := cmd.Flags().GetString("status")
			status := types.Status(s)
			filter.Status = &status
		}
		if cmd.Flags().Changed("assignee") {
			a, _ := cmd.Flags().GetString("assignee")
			filter.Assignee = &a
		}
		if cmd.Flags().Changed("priority") {
			p, _ := cmd.Flags().GetString("priority")
			priority := types.Priority(p)
			filter.Priority = &priority
		}
		filter.Tag, _ = cmd.Flags().GetString("tag")
		if cmd.Flags().Changed("blocked") {
			blocked, _ := cmd.Flags().GetBool("blocked")
			filter.IsBlocked = &blocked
		}
		if cmd.Flags().Changed("has-deps") {
			hasDeps, _ := cmd.Flags().GetBool("has-deps")
			filter.HasDependencies = &hasDeps
		}
		filter.Limit, _ = cmd.Flags().GetInt("limit")

		tasks, err := e.List(rootCtx, filter)
		if err != nil {
			fatal(err)
		}
		if jsonOutput() {
			printResult(tasks)
			return
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPRIORITY\tSTATUS\tASSIGNEE\tTITLE")
		for _, t := range tasks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				t.ID, t.Priority, t.Status, t.Assignee, t.Title)
		}
		_ = w.Flush()
	},
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a task with its edges, participants and history",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e := openEngine()
		defer func() { _ = e.Close() }()
		agg, err := e.Show(rootCtx, args[0])
		if err != nil {
			fatal(err)
		}
		if jsonOutput() {
			printResult(agg)
			return
		}
		t := agg.Task
		fmt.Printf("%s  %s [%s/%s]\n", t.ID, t.Title, t.Priority, t.Status)
		if t.Description != "" {
			fmt.Printf("  %s\n", t.Description)
		}
		if t.Assignee != "" {
			fmt.Printf("  assignee: %s\n", t.Assignee)
		}
		if t.Deadline != nil {
			fmt.Printf("  deadline: %s\n", t.Deadline.Format(time.RFC3339))
		}
		for _, d := range agg.Dependencies {
			fmt.Printf("  depends on %s\n", d.DependsOn)
		}
		for _, d := range agg.Dependents {
			fmt.Printf("  blocks %s\n", d.TaskID)
		}
		for _, p := range agg.Participants {
			fmt.Printf("  participant %s\n", p.AgentID)
		}
	},
}

var criticalPathCmd = &cobra.Command{
	Use:   "critical-path",
	Short: "Show the heaviest incomplete dependency chain",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		e := openEngine()
		defer func() { _ = e.Close() }()
		path, err := e.CriticalPath(rootCtx)
		if err != nil {
			fatal(err)
		}
		if jsonOutput() {
			printResult(path)
			return
		}
		for i, t := range path {
			hours := 1.0
			if t.EstimatedHours != nil {
				hours = *t.EstimatedHours
			}
			fmt.Printf("%d. %s  %s (%.1fh)\n", i+1, t.ID, t.Title, hours)
		}
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Report enforcement findings for this workspace",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		e := openEngine()
		defer func() { _ = e.Close() }()
		violations := e.ValidateEnforcement()
		result := map[string]any{
			"mode":       e.EnforcementMode(),
			"violations": violations,
		}
		if jsonOutput() {
			printResult(result)
			return
		}
		fmt.Printf("enforcement mode: %s\n", e.EnforcementMode())
		if len(violations) == 0 {
			fmt.Println("no findings")
			return
		}
		for _, v := range violations {
			fmt.Printf("  [%s] %s\n", v.Code, v.Message)
			if v.FixHint != "" {
				fmt.Printf("      fix: %s\n", v.FixHint)
			}
		}
	},
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Aggregate completion and feedback statistics",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		e := openEngine()
		defer func() { _ = e.Close() }()

		var since, until time.Time
		if s, _ := cmd.Flags().GetString("since"); s != "" {
			t, err := parseDeadline(s)
			if err != nil {
				fatal(err)
			}
			since = *t
		}
		if s, _ := cmd.Flags().GetString("until"); s != "" {
			t, err := parseDeadline(s)
			if err != nil {
				fatal(err)
			}
			until = *t
		}

		report, err := e.Metrics(rootCtx, since, until)
		if err != nil {
			fatal(err)
		}
		if jsonOutput() {
			printResult(report)
			return
		}
		s := report.Statistics
		fmt.Printf("tasks: %d total, %d pending, %d in progress, %d completed, %d blocked, %d cancelled\n",
			s.Total, s.Pending, s.InProgress, s.Completed, s.Blocked, s.Cancelled)
		m := report.Metrics
		fmt.Printf("completion rate: %.0f%%\n", m.CompletionRate*100)
		if m.AvgQuality > 0 {
			fmt.Printf("avg quality: %.1f  avg timeliness: %.1f\n", m.AvgQuality, m.AvgTimeliness)
		}
		for _, a := range m.PerAssignee {
			fmt.Printf("  %s: %d completed, %d on time\n", a.Assignee, a.Completed, a.OnTime)
		}
	},
}

func init() {
	listCmd.Flags().StringP("status", "s", "", "filter by status")
	listCmd.Flags().String("assignee", "", "filter by assignee")
	listCmd.Flags().StringP("priority", "p", "", "filter by priority")
	listCmd.Flags().String("tag", "", "filter by tag")
	listCmd.Flags().Bool("blocked", false, "filter by blocked state")
	listCmd.Flags().Bool("has-deps", false, "filter by dependency presence")
	listCmd.Flags().Int("limit", 0, "result cap (default 100)")

	metricsCmd.Flags().String("since", "", "window start")
	metricsCmd.Flags().String("until", "", "window end")

	rootCmd.AddCommand(listCmd, showCmd, criticalPathCmd, validateCmd, metricsCmd)
}
