package cmd

import (
	"context"
	"log"

	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Repair consistency between the chunk store and the vector index",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			log.Fatalf("reconcile: %v", err)
		}
		defer a.close(ctx)

		report, err := a.documentService.Reconcile(ctx)
		if err != nil {
			log.Fatalf("reconcile: %v", err)
		}
		log.Printf("reconcile done: %d orphan vectors removed, %d chunks re-embedded, %d stale jobs failed",
			report.OrphanVectorsRemoved, report.ChunksReembedded, report.StaleJobsFailed)
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}
