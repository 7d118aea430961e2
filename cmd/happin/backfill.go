package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"happin/internal/enrich"

	"github.com/spf13/cobra"
)

func backfillCmd() *cobra.Command {
	var (
		unprocessed bool
		pageSize    int
	)
	cmd := &cobra.Command{
		Use:   "backfill [message-id...]",
		Short: "Enrich stored messages in paced batches",
		Long: "Runs enrichment for the given message ids, or with --unprocessed for every\n" +
			"stored message that has not been enriched yet. Prints a JSON report.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !unprocessed {
				return errors.New("pass message ids or --unprocessed")
			}
			cfg, closer, err := loadConfig()
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			var report enrich.BatchReport
			if unprocessed {
				report, err = a.enricher.BackfillUnprocessed(ctx, pageSize, func(done int) {
					logger.Info("backfill progress", "done", done)
				})
			} else {
				report, err = a.enricher.BatchEnrich(ctx, args, func(done, total int) {
					logger.Info("batch progress", "done", done, "total", total)
				})
			}

			if perr := printJSON(report); perr != nil {
				return perr
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&unprocessed, "unprocessed", false, "enrich every message not yet processed")
	cmd.Flags().IntVar(&pageSize, "page-size", 100, "messages fetched per page with --unprocessed")
	return cmd
}
