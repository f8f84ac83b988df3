package testutil

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

// Fixture profile ids, in persisted order
const (
	ProfileAID = "0190c6d2-6a3e-7c1f-9a51-3f3c2b1a0001"
	ProfileBID = "0190c6d2-6a3e-7c1f-9a51-3f3c2b1a0002"
)

// AuthFields returns a complete auth blob as a map
func AuthFields() map[string]interface{} {
	return map[string]interface{}{
		"cookie":         "session=abc123; lang=en",
		"cmd_history":    "1001",
		"cmd_stream":     "1002",
		"user_agent":     "Mozilla/5.0 (X11; Linux x86_64)",
		"referer":        "https://example.feishu.cn/next/messenger",
		"web_version":    "7.9.0",
		"csrf_token":     "csrf-1",
		"lgw_csrf_token": "lgw-1",
	}
}

// AuthBlob returns a complete auth blob, optionally overriding or removing fields.
// A nil override value removes the field.
func AuthBlob(overrides map[string]interface{}) string {
	fields := AuthFields()
	for k, v := range overrides {
		if v == nil {
			delete(fields, k)
			continue
		}
		fields[k] = v
	}
	data, err := json.Marshal(fields)
	if err != nil {
		panic(fmt.Sprintf("marshal auth blob: %v", err))
	}
	return string(data)
}

// ProfilesJSON returns an exported profiles object with two profiles
func ProfilesJSON() string {
	return fmt.Sprintf(`{
  %q: {"name": "Work", "apiKey": "key-work-123456", "authInfo": %q, "chatIds": ["oc_a1", "oc_a2"]},
  %q: {"name": "Side project", "apiKey": "key-side-654321", "authInfo": %q, "chatIds": ["oc_b1", "oc_b2"]}
}`, ProfileAID, AuthBlob(nil), ProfileBID, AuthBlob(nil))
}

// HistoryRecord returns one relay message record as JSON
func HistoryRecord(id, sender, content string, createTime int64) string {
	record := map[string]interface{}{
		"message_id":  id,
		"content":     content,
		"create_time": createTime,
	}
	if sender != "" {
		record["sender"] = map[string]interface{}{"id": "u_" + sender, "name": sender}
	}
	data, _ := json.Marshal(record)
	return string(data)
}

// CreateSQLiteFixture creates a database file holding the fixture profiles
func CreateSQLiteFixture(t *testing.T, dbPath string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		t.Fatalf("Failed to create fixture directory: %v", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS localStorage (
		key TEXT PRIMARY KEY,
		value TEXT
	)`
	if _, err := db.Exec(createTableSQL); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}
	SeedLocalStorage(t, db, map[string]string{
		"feishuProfiles":                 ProfilesJSON(),
		"activeProfileId":                ProfileBID,
		"lastActiveChatId_" + ProfileBID: "oc_b2",
	})
}
