package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskmesh/taskmesh/internal/engine"
	"github.com/taskmesh/taskmesh/internal/types"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the workspace state directory",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := engine.Init(rootCtx, flagRoot); err != nil {
			fatal(err)
		}
		printResult(map[string]string{"status": "initialized"})
	},
}

var addCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create a task",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e := openEngine()
		defer func() { _ = e.Close() }()

		description, _ := cmd.Flags().GetString("description")
		priority, _ := cmd.Flags().GetString("priority")
		dependsOn, _ := cmd.Flags().GetStringSlice("depends-on")
		assignee, _ := cmd.Flags().GetString("assignee")
		tags, _ := cmd.Flags().GetStringSlice("tag")
		deadlineStr, _ := cmd.Flags().GetString("deadline")
		criteriaJSON, _ := cmd.Flags().GetString("criteria")
		uniqueTitle, _ := cmd.Flags().GetBool("unique-title")
		confirm, _ := cmd.Flags().GetBool("confirm")

		deadline, err := parseDeadline(deadlineStr)
		if err != nil {
			fatal(err)
		}
		var criteria []types.Criterion
		if criteriaJSON != "" {
			if err := json.Unmarshal([]byte(criteriaJSON), &criteria); err != nil {
				fatal(fmt.Errorf("%w: parsing --criteria: %v", types.ErrInvalidInput, err))
			}
		}
		req := engine.AddRequest{
			Title:           args[0],
			Description:     description,
			Priority:        types.Priority(priority),
			DependsOn:       dependsOn,
			Assignee:        assignee,
			SuccessCriteria: criteria,
			Deadline:        deadline,
			Tags:            tags,
			UniqueTitle:     uniqueTitle,
			Confirm:         confirm,
		}
		if cmd.Flags().Changed("estimate") {
			estimate, _ := cmd.Flags().GetFloat64("estimate")
			req.EstimatedHours = &estimate
		}

		id, err := e.Add(rootCtx, req)
		if err != nil {
			fatal(err)
		}
		printResult(map[string]string{"id": id})
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Partially update a task",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e := openEngine()
		defer func() { _ = e.Close() }()

		patch := &types.TaskPatch{}
		if cmd.Flags().Changed("title") {
			title, _ := cmd.Flags().GetString("title")
			patch.Title = &title
		}
		if cmd.Flags().Changed("description") {
			description, _ := cmd.Flags().GetString("description")
			patch.Description = &description
		}
		if cmd.Flags().Changed("status") {
			statusStr, _ := cmd.Flags().GetString("status")
			status := types.Status(statusStr)
			patch.Status = &status
		}
		if cmd.Flags().Changed("priority") {
			priorityStr, _ := cmd.Flags().GetString("priority")
			priority := types.Priority(priorityStr)
			patch.Priority = &priority
		}
		if cmd.Flags().Changed("deadline") {
			deadlineStr, _ := cmd.Flags().GetString("deadline")
			if deadlineStr == "" {
				patch.ClearDeadline = true
			} else {
				deadline, err := parseDeadline(deadlineStr)
				if err != nil {
					fatal(err)
				}
				patch.Deadline = deadline
			}
		}
		if cmd.Flags().Changed("estimate") {
			estimate, _ := cmd.Flags().GetFloat64("estimate")
			patch.EstimatedHours = &estimate
		}
		if cmd.Flags().Changed("tag") {
			tags, _ := cmd.Flags().GetStringSlice("tag")
			patch.Tags = tags
		}
		confirm, _ := cmd.Flags().GetBool("confirm")

		if err := e.Update(rootCtx, args[0], patch, confirm); err != nil {
			fatal(err)
		}
		printResult(map[string]string{"id": args[0], "status": "updated"})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a task with no dependents",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e := openEngine()
		defer func() { _ = e.Close() }()
		confirm, _ := cmd.Flags().GetBool("confirm")
		if err := e.Delete(rootCtx, args[0], confirm); err != nil {
			fatal(err)
		}
		printResult(map[string]string{"id": args[0], "status": "deleted"})
	},
}

var assignCmd = &cobra.Command{
	Use:   "assign <id> [agent]",
	Short: "Claim a task, or hand it to another agent",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		e := openEngine()
		defer func() { _ = e.Close() }()
		assignee := ""
		if len(args) > 1 {
			assignee = args[1]
		}
		force, _ := cmd.Flags().GetBool("force")
		confirm, _ := cmd.Flags().GetBool("confirm")
		if err := e.Assign(rootCtx, args[0], assignee, force, confirm); err != nil {
			fatal(err)
		}
		printResult(map[string]string{"id": args[0], "status": "assigned"})
	},
}

var depCmd = &cobra.Command{
	Use:   "dep",
	Short: "Manage dependency edges",
}

var depAddCmd = &cobra.Command{
	Use:   "add <id> <depends-on>",
	Short: "Add a dependency edge to an existing task",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		e := openEngine()
		defer func() { _ = e.Close() }()
		confirm, _ := cmd.Flags().GetBool("confirm")
		if err := e.AddDependency(rootCtx, args[0], args[1], confirm); err != nil {
			fatal(err)
		}
		printResult(map[string]string{"id": args[0], "depends_on": args[1], "status": "added"})
	},
}

var depRemoveCmd = &cobra.Command{
	Use:   "remove <id> <depends-on>",
	Short: "Remove a dependency edge",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		e := openEngine()
		defer func() { _ = e.Close() }()
		confirm, _ := cmd.Flags().GetBool("confirm")
		if err := e.RemoveDependency(rootCtx, args[0], args[1], confirm); err != nil {
			fatal(err)
		}
		printResult(map[string]string{"id": args[0], "depends_on": args[1], "status": "removed"})
	},
}

var completeCmd = &cobra.Command{
	Use:   "complete <id>",
	Short: "Complete a task, unblocking its dependents",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e := openEngine()
		defer func() { _ = e.Close() }()

		req := engine.CompleteRequest{}
		req.Validate, _ = cmd.Flags().GetBool("validate")
		req.Summary, _ = cmd.Flags().GetString("summary")
		req.Override, _ = cmd.Flags().GetBool("override")
		req.Confirm, _ = cmd.Flags().GetBool("confirm")
		if cmd.Flags().Changed("actual-hours") {
			hours, _ := cmd.Flags().GetFloat64("actual-hours")
			req.ActualHours = &hours
		}

		result, err := e.Complete(rootCtx, args[0], req)
		if err != nil {
			fatal(err)
		}
		printResult(result)
	},
}

var feedbackCmd = &cobra.Command{
	Use:   "feedback <id>",
	Short: "Record feedback scores on a completed task",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e := openEngine()
		defer func() { _ = e.Close() }()
		quality, _ := cmd.Flags().GetInt("quality")
		timeliness, _ := cmd.Flags().GetInt("timeliness")
		notes, _ := cmd.Flags().GetString("notes")
		confirm, _ := cmd.Flags().GetBool("confirm")
		if err := e.Feedback(rootCtx, args[0], quality, timeliness, notes, confirm); err != nil {
			fatal(err)
		}
		printResult(map[string]string{"id": args[0], "status": "feedback recorded"})
	},
}

var progressCmd = &cobra.Command{
	Use:   "progress <id> [message]",
	Short: "Mark a task in progress with an optional status update",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		e := openEngine()
		defer func() { _ = e.Close() }()
		text := ""
		if len(args) > 1 {
			text = args[1]
		}
		confirm, _ := cmd.Flags().GetBool("confirm")
		if err := e.Progress(rootCtx, args[0], text, confirm); err != nil {
			fatal(err)
		}
		printResult(map[string]string{"id": args[0], "status": "in_progress"})
	},
}

func init() {
	addCmd.Flags().StringP("description", "d", "", "task description")
	addCmd.Flags().StringP("priority", "p", "medium", "priority (low|medium|high|critical)")
	addCmd.Flags().StringSlice("depends-on", nil, "ids this task depends on")
	addCmd.Flags().String("assignee", "", "assign on creation")
	addCmd.Flags().StringSlice("tag", nil, "tags")
	addCmd.Flags().String("deadline", "", "deadline (RFC3339, YYYY-MM-DD, or natural language)")
	addCmd.Flags().Float64("estimate", 0, "estimated hours")
	addCmd.Flags().String("criteria", "", "success criteria as JSON array")
	addCmd.Flags().Bool("unique-title", false, "reject duplicate titles")
	addCmd.Flags().Bool("confirm", false, "acknowledge policy warnings")

	updateCmd.Flags().String("title", "", "new title")
	updateCmd.Flags().StringP("description", "d", "", "new description")
	updateCmd.Flags().String("status", "", "new status")
	updateCmd.Flags().StringP("priority", "p", "", "new priority")
	updateCmd.Flags().String("deadline", "", "new deadline (empty clears)")
	updateCmd.Flags().Float64("estimate", 0, "new estimated hours")
	updateCmd.Flags().StringSlice("tag", nil, "replacement tags")
	updateCmd.Flags().Bool("confirm", false, "acknowledge policy warnings")

	deleteCmd.Flags().Bool("confirm", false, "acknowledge policy warnings")

	assignCmd.Flags().Bool("force", false, "take over an already assigned task")
	assignCmd.Flags().Bool("confirm", false, "acknowledge policy warnings")

	depAddCmd.Flags().Bool("confirm", false, "acknowledge policy warnings")
	depRemoveCmd.Flags().Bool("confirm", false, "acknowledge policy warnings")
	depCmd.AddCommand(depAddCmd, depRemoveCmd)

	completeCmd.Flags().Bool("validate", false, "evaluate success criteria")
	completeCmd.Flags().Float64("actual-hours", 0, "actual hours spent")
	completeCmd.Flags().String("summary", "", "completion summary")
	completeCmd.Flags().Bool("override", false, "confirm manual criteria")
	completeCmd.Flags().Bool("confirm", false, "acknowledge policy warnings")

	feedbackCmd.Flags().Int("quality", 0, "quality score 1..5")
	feedbackCmd.Flags().Int("timeliness", 0, "timeliness score 1..5")
	feedbackCmd.Flags().String("notes", "", "feedback notes")
	feedbackCmd.Flags().Bool("confirm", false, "acknowledge policy warnings")

	progressCmd.Flags().Bool("confirm", false, "acknowledge policy warnings")

	rootCmd.AddCommand(initCmd, addCmd, updateCmd, deleteCmd, assignCmd,
		depCmd, completeCmd, feedbackCmd, progressCmd)
}
