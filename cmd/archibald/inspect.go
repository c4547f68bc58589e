package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	archibald "github.com/H4tholdir/archibaldblackant-sub005"
	"github.com/H4tholdir/archibaldblackant-sub005/pkg/storage"
)

func newCheckpointsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoints",
		Short: "Print the sync checkpoint table",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := storage.Open()
			if err != nil {
				return err
			}
			defer db.Close()
			store, err := storage.NewCheckpointStore(db)
			if err != nil {
				return err
			}
			checkpoints, err := store.List(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SYNC TYPE\tSTATUS\tLAST PAGE\tTOTAL\tITEMS\tCOMPLETED AT\tERROR")
			for _, cp := range checkpoints {
				completed := ""
				if !cp.CompletedAt.IsZero() {
					completed = cp.CompletedAt.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
					cp.SyncType, cp.Status, cp.LastSuccessfulPage, cp.TotalPages,
					cp.ItemsProcessed, completed, cp.Error)
			}
			return w.Flush()
		},
	}
}

func newTimeoutsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "timeouts",
		Short: "Print learned per-operation timeouts",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := storage.Open()
			if err != nil {
				return err
			}
			defer db.Close()
			store, err := storage.NewStatsStore(db)
			if err != nil {
				return err
			}
			learner, err := archibald.NewTimeoutLearner(cmd.Context(), archibald.TimeoutConfig{}, store)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "OPERATION\tTIMEOUT\tSUCCESS\tFAILURE\tAVG\tMIN\tMAX")
			for _, stats := range learner.Stats() {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
					stats.Operation, stats.CurrentTimeout, stats.SuccessCount,
					stats.FailureCount, stats.AvgTime, stats.MinTime, stats.MaxTime)
			}
			return w.Flush()
		},
	}
}
