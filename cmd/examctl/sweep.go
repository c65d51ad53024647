package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/stemsi/examcore/internal/database"
	"github.com/stemsi/examcore/internal/repository"
	"github.com/stemsi/examcore/internal/service"
	"github.com/stemsi/examcore/internal/worker"
)

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Force-submit every session whose deadline has passed, then exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log := loadConfig(cmd)
			if batch, _ := cmd.Flags().GetInt("batch"); batch > 0 {
				cfg.SweepBatch = batch
			}
			ctx := cmd.Context()

			pool, err := database.NewPostgresPool(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer pool.Close()

			rdb, err := database.NewRedisClient(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer rdb.Close()

			sessions := repository.NewExamSessionRepository(pool)
			exams := repository.NewExamRepository(pool)
			grading := service.NewGradingService(sessions, exams, repository.NewAnswerBuffer(rdb), log)

			n, ran, err := worker.NewSweepWorker(grading, rdb, cfg, log).RunLocked(ctx)
			if err != nil {
				return err
			}
			if !ran {
				fmt.Fprintln(cmd.OutOrStdout(), "Another sweep holds the lock, nothing done")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Submitted %d expired sessions\n", n)
			return nil
		},
	}
	cmd.Flags().Int("batch", 0, "Sessions per pass (defaults to SWEEP_BATCH)")
	return cmd
}
