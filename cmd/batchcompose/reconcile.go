package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Drive one reconciliation tick and exit",
	RunE:  runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	rt, err := setup(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.cluster.SetDesired(rt.cfg.Desired()); err != nil {
		return fmt.Errorf("failed to apply desired composition: %w", err)
	}
	if err := rt.cluster.ReconcileOnce(cmd.Context()); err != nil {
		return err
	}

	fmt.Println("✓ Reconciled")
	return nil
}
