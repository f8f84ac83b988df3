package internal

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// LocalStorage is a durable string key/value store, written in atomic batches
type LocalStorage interface {
	GetItem(key string) (string, bool, error)
	Apply(changes []StorageChange) error
}

// KeyLister is implemented by storages that can enumerate keys
type KeyLister interface {
	KeysWithPrefix(prefix string) ([]string, error)
}

// StorageChange is a single set or remove inside an atomic batch
type StorageChange struct {
	Key    string
	Value  string
	Remove bool
}

// SetItem builds a change that stores value under key
func SetItem(key, value string) StorageChange {
	return StorageChange{Key: key, Value: value}
}

// RemoveItem builds a change that deletes key
func RemoveItem(key string) StorageChange {
	return StorageChange{Key: key, Remove: true}
}

// SQLiteStorage provides LocalStorage on top of the localStorage table
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// NewSQLiteStorage creates a new SQLiteStorage for an open database
func NewSQLiteStorage(db *sql.DB, path string) *SQLiteStorage {
	return &SQLiteStorage{db: db, path: path}
}

// OpenSQLiteStorage opens the database at path and wraps it
func OpenSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := OpenDatabase(path)
	if err != nil {
		return nil, &StorageError{Path: path, Op: "open", Err: err}
	}
	return NewSQLiteStorage(db, path), nil
}

// GetItem returns the value stored under key
func (s *SQLiteStorage) GetItem(key string) (string, bool, error) {
	var value sql.NullString
	err := s.db.QueryRow("SELECT value FROM "+localStorageTable+" WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &StorageError{Path: s.path, Op: "read", Err: err}
	}
	if !value.Valid {
		return "", false, nil
	}
	return value.String, true, nil
}

// Apply writes all changes in one transaction
func (s *SQLiteStorage) Apply(changes []StorageChange) error {
	if len(changes) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return &StorageError{Path: s.path, Op: "write", Err: err}
	}

	for _, change := range changes {
		var execErr error
		if change.Remove {
			_, execErr = tx.Exec("DELETE FROM "+localStorageTable+" WHERE key = ?", change.Key)
		} else {
			_, execErr = tx.Exec(
				"INSERT INTO "+localStorageTable+" (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
				change.Key, change.Value,
			)
		}
		if execErr != nil {
			_ = tx.Rollback()
			return &StorageError{Path: s.path, Op: "write", Err: fmt.Errorf("key %s: %w", change.Key, execErr)}
		}
	}

	if err := tx.Commit(); err != nil {
		return &StorageError{Path: s.path, Op: "write", Err: err}
	}
	return nil
}

// KeysWithPrefix lists stored keys starting with prefix, in key order
func (s *SQLiteStorage) KeysWithPrefix(prefix string) ([]string, error) {
	pairs, err := QueryLocalStorage(s.db, likeEscaper.Replace(prefix)+"%")
	if err != nil {
		return nil, &StorageError{Path: s.path, Op: "read", Err: err}
	}
	keys := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		keys = append(keys, pair.Key)
	}
	return keys, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Close closes the underlying database
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// MemoryStorage is a LocalStorage kept only in memory
type MemoryStorage struct {
	mu     sync.Mutex
	items  map[string]string
	FailOn string // key whose write fails, for exercising rollback paths
}

// NewMemoryStorage creates an empty MemoryStorage
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{items: make(map[string]string)}
}

// GetItem returns the value stored under key
func (m *MemoryStorage) GetItem(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[key]
	return v, ok, nil
}

// KeysWithPrefix lists stored keys starting with prefix, in key order
func (m *MemoryStorage) KeysWithPrefix(prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for key := range m.items {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Apply writes all changes or none
func (m *MemoryStorage) Apply(changes []StorageChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, change := range changes {
		if m.FailOn != "" && change.Key == m.FailOn {
			return &StorageError{Path: ":memory:", Op: "write", Err: fmt.Errorf("key %s: write refused", change.Key)}
		}
	}
	for _, change := range changes {
		if change.Remove {
			delete(m.items, change.Key)
		} else {
			m.items[change.Key] = change.Value
		}
	}
	return nil
}
