// cmd/seeder/main.go
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/unclebandit/outreach-backend/internal/config"
	"github.com/unclebandit/outreach-backend/internal/db"
)

// seedFiles are applied in order; later files reference earlier rows.
var seedFiles = []string{
	"customers.sql",
	"templates.sql",
	"settings.sql",
}

func main() {
	var dir string
	cmd := &cobra.Command{
		Use:   "seeder",
		Short: "load development seed data",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return seed(dir)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "seed", "directory holding the seed SQL files")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func seed(dir string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if _, err := db.MigrateUp(cfg.Database); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	conn, err := db.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer conn.Close()

	for _, file := range seedFiles {
		path := filepath.Join(dir, file)
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if _, err := conn.Exec(string(content)); err != nil {
			return fmt.Errorf("execute %s: %w", path, err)
		}
		fmt.Printf("Seeded: %s\n", path)
	}

	fmt.Println("Database seeding completed successfully!")
	return nil
}
