package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/matt-riley/flagchain/internal/middleware"
	"github.com/matt-riley/flagchain/internal/repository"
)

type apiKeyStore interface {
	CreateAPIKey(ctx context.Context, name string) (string, string, error)
	ListAPIKeys(ctx context.Context) ([]repository.APIKey, error)
	RevokeAPIKey(ctx context.Context, id string) error
}

func newAPIKeyCommand(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys for the evaluation API",
	}

	// withStore connects to PostgreSQL for the duration of fn.
	withStore := func(cmd *cobra.Command, fn func(apiKeyStore) error) error {
		cfg, _, err := loadRuntime(cmd, flags)
		if err != nil {
			return err
		}
		pool, err := connectPostgres(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer pool.Close()
		return fn(repository.NewPostgresRepository(pool))
	}

	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key and print its bearer token once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(store apiKeyStore) error {
				return createAPIKey(cmd.Context(), store, name, cmd.OutOrStdout())
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "Human readable key name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(store apiKeyStore) error {
				return listAPIKeys(cmd.Context(), store, cmd.OutOrStdout())
			})
		},
	}

	revoke := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store apiKeyStore) error {
				if err := store.RevokeAPIKey(cmd.Context(), args[0]); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", args[0])
				return err
			})
		},
	}

	cmd.AddCommand(create, list, revoke)
	return cmd
}

func createAPIKey(ctx context.Context, store apiKeyStore, name string, out io.Writer) error {
	id, secret, err := store.CreateAPIKey(ctx, name)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "id:    %s\ntoken: %s\n", id, middleware.FormatAPIKeyToken(id, secret))
	return err
}

func listAPIKeys(ctx context.Context, store apiKeyStore, out io.Writer) error {
	keys, err := store.ListAPIKeys(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCREATED\tREVOKED")
	for _, key := range keys {
		revoked := "-"
		if key.RevokedAt != nil {
			revoked = key.RevokedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", key.ID, key.Name, key.CreatedAt.UTC().Format(time.RFC3339), revoked)
	}
	return w.Flush()
}
