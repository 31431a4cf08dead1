package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matt-riley/flagchain/internal/repository"
)

func newSeedCommand(flags *rootFlags) *cobra.Command {
	var (
		file   string
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert flag definitions from a YAML seed file",
		Example: `  flagchain seed --file flags.yaml
  flagchain seed --file flags.yaml --dry-run`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file == "" {
				return errors.New("--file is required")
			}

			seedFlags, err := repository.LoadSeedFile(file)
			if err != nil {
				return err
			}
			if dryRun {
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "%d flags valid in %s\n", len(seedFlags), file)
				return err
			}

			cfg, log, err := loadRuntime(cmd, flags)
			if err != nil {
				return err
			}

			pool, err := connectPostgres(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			repo := repository.NewPostgresRepositoryWithChannel(pool, cfg.NotifyChannel)
			applied, err := repository.ApplySeed(cmd.Context(), repo, seedFlags)
			if err != nil {
				return err
			}

			log.Info("seed applied", "file", file, "flags", applied)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to the YAML seed file")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate the file without writing to the database")

	return cmd
}
