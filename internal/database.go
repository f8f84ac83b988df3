package internal

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// localStorageTable holds the key/value pairs that stand in for browser localStorage
const localStorageTable = "localStorage"

// OpenDatabase opens (creating if needed) the SQLite file backing local storage
func OpenDatabase(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases coherent and serialises writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	if err := EnsureSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// EnsureSchema creates the key/value table if it does not exist
func EnsureSchema(db *sql.DB) error {
	createTableSQL := `CREATE TABLE IF NOT EXISTS ` + localStorageTable + ` (
		key TEXT PRIMARY KEY,
		value TEXT
	)`
	if _, err := db.Exec(createTableSQL); err != nil {
		return fmt.Errorf("failed to create %s table: %w", localStorageTable, err)
	}
	return nil
}

// QueryLocalStorage queries the key/value table with a LIKE pattern; backslash escapes wildcards
func QueryLocalStorage(db *sql.DB, pattern string) ([]KeyValuePair, error) {
	query := "SELECT key, value FROM " + localStorageTable + " WHERE key LIKE ? ESCAPE '\\' AND value IS NOT NULL ORDER BY key"
	rows, err := db.Query(query, pattern)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var pairs []KeyValuePair
	for rows.Next() {
		var pair KeyValuePair
		var value sql.NullString
		if err := rows.Scan(&pair.Key, &value); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		if value.Valid {
			pair.Value = value.String
			pairs = append(pairs, pair)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return pairs, nil
}

// KeyValuePair represents a key-value pair from local storage
type KeyValuePair struct {
	Key   string
	Value string
}
