package database

import (
	"database/sql"
	"fmt"
	"sort"

	dbsql "foodflow/copilot/pkg/database/sql"
	"foodflow/copilot/pkg/logging"
)

// EnsureSchema applies every embedded schema file in lexical order. Statements
// use IF NOT EXISTS so repeated startups are safe.
func EnsureSchema(db *sql.DB, logger logging.Logger) error {
	entries, err := dbsql.Content.ReadDir("schema")
	if err != nil {
		return fmt.Errorf("failed to read embedded schema dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		content, err := dbsql.Content.ReadFile("schema/" + name)
		if err != nil {
			return fmt.Errorf("failed to read embedded schema file %s: %w", name, err)
		}
		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to apply schema file %s: %w", name, err)
		}
		logger.WithFields(logging.Fields{"file": name}).Debug("Applied schema file")
	}

	return nil
}
