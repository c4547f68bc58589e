package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	archibald "github.com/H4tholdir/archibaldblackant-sub005"
)

func newSyncCmd() *cobra.Command {
	var (
		syncType string
		full     bool
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			agent, err := buildAgent(ctx)
			if err != nil {
				return err
			}
			defer agent.close(context.Background())

			jobs := agent.jobs
			if syncType != "all" {
				jobs = nil
				for _, job := range agent.jobs {
					if job.SyncType() == syncType {
						jobs = append(jobs, job)
					}
				}
				if len(jobs) == 0 {
					return errors.Errorf("unknown sync type %q", syncType)
				}
			}

			for _, job := range jobs {
				if full {
					if err := agent.checkpoints.Reset(ctx, job.SyncType()); err != nil {
						return err
					}
				}
				if err := job.Run(ctx); err != nil {
					return errors.Wrapf(err, "sync %s failed (%s)", job.SyncType(), archibald.Classify(err))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&syncType, "type", "all", "sync type: customers|products|prices|orders|all")
	cmd.Flags().BoolVar(&full, "full", false, "reset the checkpoint first and resync from page 1")
	return cmd
}
