package output

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"bytegraph/internal/callgraph"
	"bytegraph/internal/depgraph"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE nodes (
	name   TEXT PRIMARY KEY,
	opaque INTEGER NOT NULL
);
CREATE TABLE edges (
	caller     TEXT NOT NULL,
	callee     TEXT NOT NULL,
	call_count INTEGER NOT NULL,
	PRIMARY KEY (caller, callee)
);
CREATE TABLE modules (
	name TEXT PRIMARY KEY,
	kind TEXT NOT NULL
);
CREATE TABLE imports (
	importer TEXT NOT NULL,
	imported TEXT NOT NULL,
	PRIMARY KEY (importer, imported)
);
`

// ExportSQLite writes a call graph and a dependency graph to a fresh SQLite
// database at path. Either graph may be nil; its tables are then left empty.
// An existing file at path is replaced.
func ExportSQLite(ctx context.Context, path string, g *callgraph.Graph, rec *callgraph.Record, deps *depgraph.Graph) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("output: remove %s: %w", path, err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("output: open %s: %w", path, err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("output: create schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("output: begin: %w", err)
	}
	defer tx.Rollback()

	if g != nil {
		for _, n := range g.Nodes() {
			opaque := rec != nil && rec.Opaque(n)
			if _, err := tx.ExecContext(ctx, "INSERT INTO nodes (name, opaque) VALUES (?, ?)", n, opaque); err != nil {
				return fmt.Errorf("output: insert node %s: %w", n, err)
			}
		}
		for _, e := range g.Edges() {
			if _, err := tx.ExecContext(ctx, "INSERT INTO edges (caller, callee, call_count) VALUES (?, ?, ?)",
				e.Caller, e.Callee, e.Weight); err != nil {
				return fmt.Errorf("output: insert edge %s -> %s: %w", e.Caller, e.Callee, err)
			}
		}
	}

	if deps != nil {
		for _, n := range deps.Nodes() {
			if _, err := tx.ExecContext(ctx, "INSERT INTO modules (name, kind) VALUES (?, ?)", n.Name, n.Kind.String()); err != nil {
				return fmt.Errorf("output: insert module %s: %w", n.Name, err)
			}
		}
		for _, e := range deps.Edges() {
			if _, err := tx.ExecContext(ctx, "INSERT INTO imports (importer, imported) VALUES (?, ?)", e.From, e.To); err != nil {
				return fmt.Errorf("output: insert import %s -> %s: %w", e.From, e.To, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("output: commit: %w", err)
	}
	return nil
}
