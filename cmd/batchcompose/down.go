package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Terminate every tracked instance and zero the composition",
	Long: `Cancel all non-terminal instances at the scheduler and set every
desired target to zero, so a later "up" or "reconcile" does not refill
them until the compose file is reapplied.`,
	RunE: runDown,
}

func init() {
	rootCmd.AddCommand(downCmd)
}

func runDown(cmd *cobra.Command, args []string) error {
	rt, err := setup(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.cluster.TerminateAll(cmd.Context()); err != nil {
		return fmt.Errorf("teardown incomplete: %w", err)
	}

	fmt.Println("✓ All instances terminated")
	return nil
}
