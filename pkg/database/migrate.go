package database

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"

	dbsql "draftdesk/pkg/database/sql"
	"draftdesk/pkg/logging"
)

// ApplySchema executes every embedded schema file in name order, one transaction per file.
func ApplySchema(ctx context.Context, db *sql.DB, logger logging.Logger) error {
	return applyFS(ctx, db, dbsql.Content, "schema/*.sql", logger)
}

func applyFS(ctx context.Context, db *sql.DB, fsys fs.FS, pattern string, logger logging.Logger) error {
	files, err := fs.Glob(fsys, pattern)
	if err != nil {
		return fmt.Errorf("list schema files: %w", err)
	}
	sort.Strings(files)

	for _, name := range files {
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		err = InTx(ctx, db, func(tx *sql.Tx) error {
			_, execErr := tx.ExecContext(ctx, string(content))
			return execErr
		})
		if err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
		if logger != nil {
			logger.WithField("file", name).Info("Applied schema")
		}
	}
	return nil
}
