package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/atmx/liquidity-pool/internal/archive"
)

func exportCommand(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Upload the current chain-storage view and snapshot to S3 once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			if cfg.S3.Bucket == "" {
				return errors.New("export: s3.bucket is not configured")
			}
			ctx := cmd.Context()

			d, err := openDeps(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer d.Close()

			// No publisher. An empty store is seeded from genesis first.
			engine, err := openEngine(ctx, cfg, d.store, nil, logger)
			if err != nil {
				return err
			}
			w, err := archive.NewS3Writer(ctx, cfg.S3.Archive())
			if err != nil {
				return err
			}
			if err := w.Health(ctx); err != nil {
				return err
			}
			key, err := archive.NewExporter(engine, w, cfg.S3.Prefix, logger).Export(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}
