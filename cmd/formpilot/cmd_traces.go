package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"formpilot/internal/session"
)

var (
	tracesSession string
	tracesLimit   int
	tracesVerbose bool
	pruneOlder    time.Duration
)

// tracesCmd inspects recorded role calls
var tracesCmd = &cobra.Command{
	Use:   "traces",
	Short: "Inspect recorded role calls",
	Long: `Lists role calls recorded while tracing.enabled is set, newest first.

Example:
  formpilot traces --session demo --limit 10 --prompts`,
	RunE: runTracesList,
}

var tracesPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete traces older than a retention window",
	RunE:  runTracesPrune,
}

func init() {
	tracesCmd.Flags().StringVarP(&tracesSession, "session", "s", "", "Only traces of this conversation (id or name)")
	tracesCmd.Flags().IntVarP(&tracesLimit, "limit", "n", 20, "Maximum traces to show")
	tracesCmd.Flags().BoolVar(&tracesVerbose, "prompts", false, "Include prompts and responses")
	tracesPruneCmd.Flags().DurationVar(&pruneOlder, "older-than", 30*24*time.Hour, "Retention window")
	tracesCmd.AddCommand(tracesPruneCmd)
}

func runTracesList(cmd *cobra.Command, args []string) error {
	filter := ""
	if tracesSession != "" {
		id, err := session.ParseSessionID(tracesSession)
		if err != nil {
			return fmt.Errorf("invalid session %q: %w", tracesSession, err)
		}
		filter = id.String()
	}

	a, err := openApp(cmd.Context(), cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	traces, err := a.store.RoleTraces(cmd.Context(), filter, tracesLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(traces) == 0 {
		fmt.Fprintln(out, "No traces recorded. Enable tracing.enabled in the config to record role calls.")
		return nil
	}

	if tracesVerbose {
		for _, t := range traces {
			status := "ok"
			if !t.Success {
				status = "failed: " + t.ErrorMessage
			}
			fmt.Fprintf(out, "=== %s %s (%s, %dms, %s)\n", t.Timestamp.Local().Format(time.DateTime), t.Role, t.Model, t.DurationMs, status)
			fmt.Fprintf(out, "--- system\n%s\n--- user\n%s\n--- response\n%s\n\n", t.SystemPrompt, t.UserPrompt, t.Response)
		}
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tROLE\tMODEL\tMS\tOK\tSESSION")
	for _, t := range traces {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%v\t%s\n",
			t.Timestamp.Local().Format(time.DateTime), t.Role, t.Model, t.DurationMs, t.Success, t.SessionID)
	}
	return tw.Flush()
}

func runTracesPrune(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.store.PruneRoleTraces(cmd.Context(), pruneOlder)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d traces older than %s\n", n, pruneOlder)
	return nil
}
