package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kestrelai/agentcore/internal/profile"
	"github.com/kestrelai/agentcore/model"
	"github.com/kestrelai/agentcore/store/db/sqlite"
)

// importCmd bulk-loads memory item exports into the configured store. One
// JSON file holds either a single model.MemoryItem object or an array of
// them; items missing ID/CreatedAt/LastAccessedAt get them filled in by the
// store on insert. Malformed files are skipped with a logged warning rather
// than aborting the whole run.
var importCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Bulk-load memory item JSON exports from a directory into the store",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	dir := args[0]
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read import directory: %w", err)
	}

	prof := &profile.Profile{
		Data:   viper.GetString("data"),
		Driver: viper.GetString("driver"),
		DSN:    viper.GetString("dsn"),
	}
	if prof.Driver == "" {
		prof.Driver = "sqlite"
	}
	if prof.Driver != "sqlite" {
		return fmt.Errorf("unsupported driver %q (only sqlite is implemented)", prof.Driver)
	}
	if prof.DSN == "" {
		prof.DSN = prof.Data + "/agentcore.db"
	}

	ctx := context.Background()
	db, err := sqlite.Open(prof)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	var imported, skipped int
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		items, err := readMemoryItemFile(path)
		if err != nil {
			slog.Warn("skipping unreadable import file", "path", path, "error", err)
			skipped++
			continue
		}
		for _, item := range items {
			if _, err := db.InsertItem(ctx, item); err != nil {
				slog.Warn("skipping item that failed to insert", "path", path, "agent_id", item.AgentID, "error", err)
				skipped++
				continue
			}
			imported++
		}
	}

	slog.Info("import complete", "dir", dir, "imported", imported, "skipped", skipped)
	return nil
}

// readMemoryItemFile accepts either a single item object or a JSON array of
// items, mirroring the two export shapes the source data importer accepted.
func readMemoryItemFile(path string) ([]model.MemoryItem, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var items []model.MemoryItem
	if err := json.Unmarshal(raw, &items); err == nil {
		return items, nil
	}

	var single model.MemoryItem
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, err
	}
	return []model.MemoryItem{single}, nil
}
