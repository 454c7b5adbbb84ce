package store

import (
	"context"
	"database/sql"
	"strings"
)

// schema contains the DDL for all tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id                TEXT PRIMARY KEY,
		instance          TEXT NOT NULL,
		algorithm         TEXT NOT NULL,
		solver            TEXT NOT NULL DEFAULT '',
		cp_strategy       TEXT NOT NULL DEFAULT '',
		conflict_strategy TEXT NOT NULL DEFAULT '',
		combinator        TEXT NOT NULL DEFAULT '',
		fzn_optimisation  INTEGER NOT NULL DEFAULT 1,
		cores             INTEGER NOT NULL DEFAULT 1,
		timeout_ns        INTEGER NOT NULL,
		state             TEXT NOT NULL DEFAULT 'RUNNING',
		exhaustive        INTEGER NOT NULL DEFAULT 0,
		hypervolume       REAL NOT NULL DEFAULT 0,
		stats             TEXT NOT NULL DEFAULT '{}',
		front             TEXT NOT NULL DEFAULT '[]',
		front_size        INTEGER NOT NULL DEFAULT 0,
		error             TEXT NOT NULL DEFAULT '',
		created_at        TEXT NOT NULL,
		completed_at      TEXT
	)`,

	`CREATE INDEX IF NOT EXISTS idx_runs_state ON runs(state)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_instance ON runs(instance)`,
	// Lookup of already computed runs
	`CREATE INDEX IF NOT EXISTS idx_runs_key ON runs(instance, algorithm, solver, cp_strategy, state)`,
}

// alterStatements are column additions that need special handling since
// SQLite doesn't support IF NOT EXISTS for ALTER TABLE ADD COLUMN.
var alterStatements = []struct {
	table    string
	column   string
	alterSQL string
	indexSQL string // Optional index to create after column is added
}{
	// Hypervolume of the front before the post-hoc oracle filter
	{
		table:    "runs",
		column:   "hypervolume_before",
		alterSQL: "ALTER TABLE runs ADD COLUMN hypervolume_before REAL",
	},
}

// migrate executes all schema DDL statements, alter migrations, and post-migration indexes.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	// Execute ALTER TABLE statements idempotently.
	for _, alter := range alterStatements {
		if err := addColumnIfNotExists(ctx, db, alter.table, alter.column, alter.alterSQL); err != nil {
			return err
		}
		if alter.indexSQL != "" {
			if _, err := db.ExecContext(ctx, alter.indexSQL); err != nil {
				return err
			}
		}
	}

	return nil
}

// addColumnIfNotExists adds a column to a table if it doesn't already exist.
func addColumnIfNotExists(ctx context.Context, db *sql.DB, table, column, alterSQL string) error {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue *string
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if strings.EqualFold(name, column) {
			return nil // Column already exists
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, alterSQL)
	return err
}
