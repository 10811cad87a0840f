package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Template operations",
}

var templateApplyCmd = &cobra.Command{
	Use:   "apply <file>",
	Short: "Instantiate a task graph from a template",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e := openEngine()
		defer func() { _ = e.Close() }()
		varFlags, _ := cmd.Flags().GetStringToString("var")
		confirm, _ := cmd.Flags().GetBool("confirm")
		ids, err := e.ApplyTemplate(rootCtx, args[0], varFlags, confirm)
		if err != nil {
			fatal(err)
		}
		printResult(map[string]any{"created": ids})
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Bundle a task and its shared context into an archive",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e := openEngine()
		defer func() { _ = e.Close() }()
		path, err := e.Export(rootCtx, args[0])
		if err != nil {
			fatal(err)
		}
		printResult(map[string]string{"archive": path})
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		e := openEngine()
		defer func() { _ = e.Close() }()
		if err := e.Migrate(rootCtx); err != nil {
			fatal(err)
		}
		version, err := e.SchemaVersion(rootCtx)
		if err != nil {
			fatal(err)
		}
		printResult(map[string]any{"schema_version": version})
	},
}

var hookStatsCmd = &cobra.Command{
	Use:   "hook-stats",
	Short: "Show hook execution timing for this session",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		e := openEngine()
		defer func() { _ = e.Close() }()
		stats := e.HookStats()
		if jsonOutput() {
			printResult(stats)
			return
		}
		names := make([]string, 0, len(stats))
		for name := range stats {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			s := stats[name]
			fmt.Printf("%s: count=%d avg=%s p50=%s p95=%s errors=%d timeouts=%d\n",
				name, s.Count, s.Avg, s.P50, s.P95, s.Errors, s.Timeouts)
		}
	},
}

func init() {
	templateApplyCmd.Flags().StringToString("var", nil, "template variable (name=value)")
	templateApplyCmd.Flags().Bool("confirm", false, "acknowledge policy warnings")
	templateCmd.AddCommand(templateApplyCmd)

	rootCmd.AddCommand(templateCmd, exportCmd, migrateCmd, hookStatsCmd)
}
