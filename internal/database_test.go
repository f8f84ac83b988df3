package internal

import (
	"path/filepath"
	"testing"

	"github.com/iksnae/chatark/testutil"
)

func TestOpenDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.db")

	db, err := OpenDatabase(path)
	if err != nil {
		t.Fatalf("OpenDatabase() error = %v", err)
	}
	defer db.Close()

	if _, err := db.Exec("INSERT INTO localStorage (key, value) VALUES ('k', 'v')"); err != nil {
		t.Fatalf("localStorage table should exist: %v", err)
	}
}

func TestOpenDatabase_InvalidPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "dir", "storage.db")
	if _, err := OpenDatabase(path); err == nil {
		t.Error("OpenDatabase() should fail when the directory does not exist")
	}
}

func TestEnsureSchema_Idempotent(t *testing.T) {
	db := testutil.CreateInMemoryDB(t)

	for i := 0; i < 2; i++ {
		if err := EnsureSchema(db); err != nil {
			t.Fatalf("EnsureSchema() call %d error = %v", i+1, err)
		}
	}
}

func TestQueryLocalStorage(t *testing.T) {
	db := testutil.CreateInMemoryDB(t)
	testutil.SeedLocalStorage(t, db, map[string]string{
		"lastActiveChatId_b": "oc_2",
		"lastActiveChatId_a": "oc_1",
		"lastActiveChatIdXc": "oc_3",
		"feishuProfiles":     "{}",
	})

	tests := []struct {
		name    string
		pattern string
		want    []string
	}{
		{
			name:    "escaped prefix",
			pattern: `lastActiveChatId\_%`,
			want:    []string{"lastActiveChatId_a", "lastActiveChatId_b"},
		},
		{
			name:    "exact key",
			pattern: "feishuProfiles",
			want:    []string{"feishuProfiles"},
		},
		{
			name:    "no match",
			pattern: "nothing%",
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pairs, err := QueryLocalStorage(db, tt.pattern)
			if err != nil {
				t.Fatalf("QueryLocalStorage() error = %v", err)
			}
			if len(pairs) != len(tt.want) {
				t.Fatalf("QueryLocalStorage() returned %d pairs, want %d: %v", len(pairs), len(tt.want), pairs)
			}
			for i, pair := range pairs {
				if pair.Key != tt.want[i] {
					t.Errorf("pair[%d].Key = %q, want %q", i, pair.Key, tt.want[i])
				}
			}
		})
	}
}
