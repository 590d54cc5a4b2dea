// Package migrate brings the careline database up to the latest
// embedded schema. Every file under sql/ is one forward step named
// NNNN_description.sql; the applied version lives in schema_version.
package migrate

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed sql/*.sql
var schemaFS embed.FS

type step struct {
	version int
	name    string
	stmts   string
}

func steps() ([]step, error) {
	entries, err := fs.ReadDir(schemaFS, "sql")
	if err != nil {
		return nil, err
	}
	var out []step
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		data, err := schemaFS.ReadFile("sql/" + e.Name())
		if err != nil {
			return nil, err
		}
		var v int
		if _, err := fmt.Sscanf(e.Name(), "%d_", &v); err != nil {
			return nil, fmt.Errorf("migration %s: name must start with a version number: %w", e.Name(), err)
		}
		out = append(out, step{version: v, name: e.Name(), stmts: string(data)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// Migrate applies any pending schema steps. Already-applied steps are
// skipped; the whole run commits as a single transaction.
func Migrate(db *sql.DB) error {
	all, err := steps()
	if err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_version(version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("ensure schema_version: %w", err)
	}
	var current int
	switch err := tx.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&current); {
	case err == sql.ErrNoRows:
		if _, err := tx.Exec(`INSERT INTO schema_version(version) VALUES (0)`); err != nil {
			return fmt.Errorf("seed schema_version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read schema_version: %w", err)
	}

	for _, s := range all {
		if s.version <= current {
			continue
		}
		if _, err := tx.Exec(s.stmts); err != nil {
			return fmt.Errorf("apply %s: %w", s.name, err)
		}
		if _, err := tx.Exec(`UPDATE schema_version SET version=?`, s.version); err != nil {
			return fmt.Errorf("record %s: %w", s.name, err)
		}
		current = s.version
	}
	return tx.Commit()
}
