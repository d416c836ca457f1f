package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/batchcompose/batchcompose/pkg/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-key instance counts and tracked instances",
	Long: `Print the desired composition, per-key counts by state, and one row
per tracked instance. With --refresh, drive one reconciliation tick first
so the output reflects the scheduler's current view.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().Bool("refresh", false, "Reconcile once before printing")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	rt, err := setup(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	refresh, _ := cmd.Flags().GetBool("refresh")
	if refresh {
		if err := rt.cluster.SetDesired(rt.cfg.Desired()); err != nil {
			return err
		}
		if err := rt.cluster.ReconcileOnce(cmd.Context()); err != nil {
			return err
		}
	}

	desired := rt.cluster.Desired()
	summary := rt.cluster.StatusSummary()

	keys := make([]types.CompositionKey, 0, len(summary))
	for key := range summary {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tTARGET\tPENDING\tRUNNING\tPREEMPTED\tTERMINATED\tFAILED")
	for _, key := range keys {
		counts := summary[key]
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
			key, desired[key],
			counts[types.StatePending], counts[types.StateRunning],
			counts[types.StatePreempted], counts[types.StateTerminated],
			counts[types.StateFailed])
	}
	w.Flush()

	instances := rt.cluster.Instances()
	if len(instances) == 0 {
		return nil
	}

	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "INSTANCE\tKEY\tSTATE\tHANDLE\tAGE")
	for _, rec := range instances {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			rec.ID, rec.Key, rec.State, rec.SchedulerHandle,
			time.Since(rec.CreatedAt).Round(time.Second))
	}
	return w.Flush()
}
