package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"
)

var migrationsDir string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending SQL migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openDatabase(ctx)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()

		files, err := migrationFiles(migrationsDir)
		if err != nil {
			return err
		}

		if _, err := db.Exec(ctx, `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				name       TEXT PRIMARY KEY,
				applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`); err != nil {
			return fmt.Errorf("create schema_migrations: %w", err)
		}

		applied := 0
		for _, file := range files {
			name := filepath.Base(file)
			ok, err := applyMigration(ctx, db, name, file)
			if err != nil {
				return fmt.Errorf("apply %s: %w", name, err)
			}
			if ok {
				applied++
				cmd.Printf("applied %s\n", name)
			}
		}
		cmd.Printf("%d migration(s) applied, %d total\n", applied, len(files))
		return nil
	},
}

type execer interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// applyMigration 在事务中执行一个迁移文件，已执行过的跳过
func applyMigration(ctx context.Context, db execer, name, file string) (bool, error) {
	sql, err := os.ReadFile(file)
	if err != nil {
		return false, err
	}

	applied := false
	err = pgx.BeginFunc(ctx, db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1) ON CONFLICT DO NOTHING`, name)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, string(sql)); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

// migrationFiles 按文件名排序的 .sql 文件
func migrationFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func init() {
	migrateCmd.Flags().StringVar(&migrationsDir, "dir", "migrations", "migrations directory")
	rootCmd.AddCommand(migrateCmd)
}
