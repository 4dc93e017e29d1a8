package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/relaydb/relaydb/internal/app"
	"github.com/relaydb/relaydb/internal/backend"
	"github.com/relaydb/relaydb/internal/config"
	"github.com/relaydb/relaydb/internal/docstore"
	"github.com/relaydb/relaydb/internal/logging"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "relaydb",
		Short: "relaydb CLI - run and inspect a relaydb instance",
		Long:  "A CLI tool for running the relaydb wire server and inspecting its embedded document store.",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "directory to search for config.yaml")

	rootCmd.AddCommand(serveCmd(), migrateCmd(), inspectCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "start the wire listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return err
			}
			defer logger.Sync()
			return app.Serve(cfg, logger)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "apply pending document-store migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			// docstore.Open runs the migration manager (internal/docstore/migrations.go)
			// to completion before returning, so opening and closing is the whole command.
			store, err := docstore.Open(docstore.Config{
				Path:          cfg.DocStore.Path,
				BusyTimeoutMS: cfg.DocStore.BusyTimeoutMS,
			})
			if err != nil {
				return err
			}
			defer store.Close()
			fmt.Printf("migrations applied to %s\n", cfg.DocStore.Path)
			return nil
		},
	}
}

func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "list databases and collections known to the document store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := docstore.Open(docstore.Config{
				Path:          cfg.DocStore.Path,
				BusyTimeoutMS: cfg.DocStore.BusyTimeoutMS,
			})
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := context.Background()
			dbs, err := store.ListDatabases(ctx)
			if err != nil {
				return err
			}
			for _, db := range dbs {
				fmt.Println(db)
				colls, err := store.ListCollections(ctx, db)
				if err != nil {
					return err
				}
				for _, coll := range colls {
					stats, err := store.Stats(ctx, backend.Namespace{Database: db, Collection: coll})
					if err != nil {
						return err
					}
					fmt.Printf("  %-30s %d documents\n", coll, stats.Count)
				}
			}
			return nil
		},
	}
}
