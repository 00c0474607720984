// migrate applies the embedded schema migrations to DATABASE_URL:
//
//	go run ./cmd/migrate up
//	go run ./cmd/migrate status
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"device-lock-control-plane/internal/config"
	"device-lock-control-plane/internal/db/migrate"
)

func main() {
	if err := newRootCommand(loadDSN).Execute(); err != nil {
		os.Exit(1)
	}
}

func loadDSN() (string, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", err
	}
	if cfg.DatabaseURL == "" {
		return "", errors.New("DATABASE_URL is not set; create a .env from .env.example or export it")
	}
	return cfg.DatabaseURL, nil
}

func newRootCommand(dsn func() (string, error)) *cobra.Command {
	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Manage the control-plane database schema",
		SilenceUsage: true,
	}
	for _, name := range []string{"up", "down"} {
		dir, err := migrate.ParseDirection(name)
		if err != nil {
			panic(err)
		}
		root.AddCommand(&cobra.Command{
			Use:   name,
			Short: fmt.Sprintf("Apply all %s migrations", name),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				url, err := dsn()
				if err != nil {
					return err
				}
				if err := migrate.Run(url, dir); err != nil {
					return err
				}
				return printStatus(cmd, url)
			},
		})
	}
	root.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			url, err := dsn()
			if err != nil {
				return err
			}
			return printStatus(cmd, url)
		},
	})
	return root
}

func printStatus(cmd *cobra.Command, dsn string) error {
	version, dirty, err := migrate.Status(dsn)
	if err != nil {
		return err
	}
	state := "clean"
	if dirty {
		state = "dirty"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (%s)\n", version, state)
	return nil
}
