// Package migrations embeds and applies the control plane's schema in
// order, named the same way database.sql migration directories usually are
// (NNN_description.sql), numeric-sorted by filename.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"
)

//go:embed *.sql
var files embed.FS

// Apply runs every embedded migration file, in filename order, each as its
// own ExecContext on db; there is no enclosing transaction, so a failing file
// leaves the earlier ones applied. Safe to call on every process start: each
// statement is written idempotently (CREATE TABLE IF NOT EXISTS, etc).
func Apply(ctx context.Context, db *sql.DB) error {
	entries, err := files.ReadDir(".")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		contents, err := files.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(contents)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}
