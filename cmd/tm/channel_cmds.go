package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskmesh/taskmesh/internal/types"
)

var joinCmd = &cobra.Command{
	Use:   "join <id>",
	Short: "Join a task as a participant",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e := openEngine()
		defer func() { _ = e.Close() }()
		if err := e.Join(rootCtx, args[0]); err != nil {
			fatal(err)
		}
		printResult(map[string]string{"id": args[0], "status": "joined"})
	},
}

var noteCmd = &cobra.Command{
	Use:   "note <id> <text>",
	Short: "Write a private note visible only to you",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		e := openEngine()
		defer func() { _ = e.Close() }()
		if err := e.Note(rootCtx, args[0], args[1]); err != nil {
			fatal(err)
		}
		printResult(map[string]string{"id": args[0], "status": "noted"})
	},
}

var shareCmd = &cobra.Command{
	Use:   "share <id> <text>",
	Short: "Share an update with the task's participants",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		e := openEngine()
		defer func() { _ = e.Close() }()
		if err := e.Share(rootCtx, args[0], args[1]); err != nil {
			fatal(err)
		}
		printResult(map[string]string{"id": args[0], "status": "shared"})
	},
}

var discoverCmd = &cobra.Command{
	Use:   "discover <id> <text>",
	Short: "Share a high-priority discovery and broadcast it to all agents",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		e := openEngine()
		defer func() { _ = e.Close() }()
		if err := e.Discover(rootCtx, args[0], args[1]); err != nil {
			fatal(err)
		}
		printResult(map[string]string{"id": args[0], "status": "broadcast"})
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync <id> <text>",
	Short: "Share a checkpoint update and broadcast it",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		e := openEngine()
		defer func() { _ = e.Close() }()
		if err := e.Sync(rootCtx, args[0], args[1]); err != nil {
			fatal(err)
		}
		printResult(map[string]string{"id": args[0], "status": "synced"})
	},
}

var contextCmd = &cobra.Command{
	Use:   "context <id>",
	Short: "Show every entry you are authorized to see on a task",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e := openEngine()
		defer func() { _ = e.Close() }()
		entries, err := e.Context(rootCtx, args[0])
		if err != nil {
			fatal(err)
		}
		if jsonOutput() {
			printResult(entries)
			return
		}
		for _, entry := range entries {
			fmt.Printf("[%s] %s %s: %s\n", entry.CreatedAt, entry.Kind, entry.AgentID, entry.Text)
		}
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream notifications addressed to you until interrupted",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		e := openEngine()
		defer func() { _ = e.Close() }()
		err := e.Watch(rootCtx, func(n *types.Notification) {
			if jsonOutput() {
				printResult(n)
				return
			}
			fmt.Printf("[%s] %s", n.Kind, n.Payload)
			if n.TaskID != "" {
				fmt.Printf(" (task %s)", n.TaskID)
			}
			fmt.Println()
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			fatal(err)
		}
	},
}

func init() {
	rootCmd.AddCommand(joinCmd, noteCmd, shareCmd, discoverCmd, syncCmd,
		contextCmd, watchCmd)
}
