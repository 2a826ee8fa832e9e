package testutil

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
)

// Workspace is a throwaway directory holding a test database and archive
type Workspace struct {
	Dir        string
	DBPath     string
	ArchiveDir string
}

// NewTestWorkspace creates a temporary workspace for testing.
// The directory is removed by t.Cleanup.
func NewTestWorkspace(t *testing.T) Workspace {
	t.Helper()

	dir := t.TempDir()
	ws := Workspace{
		Dir:        dir,
		DBPath:     filepath.Join(dir, "repairdesk.db"),
		ArchiveDir: filepath.Join(dir, "archive"),
	}
	if err := os.MkdirAll(ws.ArchiveDir, 0755); err != nil {
		t.Fatalf("Failed to create archive directory %s: %v", ws.ArchiveDir, err)
	}
	return ws
}

// SQLiteDSN returns a DSN for the workspace database that tolerates
// concurrent writers
func (w Workspace) SQLiteDSN() string {
	return "file:" + w.DBPath + "?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate"
}

// WriteFile writes content under the workspace and returns its path
func (w Workspace) WriteFile(t *testing.T, name string, content []byte) string {
	t.Helper()

	path := filepath.Join(w.Dir, name)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
	return path
}

// PNGBytes returns a minimal payload carrying the PNG signature
func PNGBytes(tag string) []byte {
	return append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, []byte(tag)...)
}

// PNGDataURL returns PNGBytes(tag) as a data URL
func PNGDataURL(tag string) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(PNGBytes(tag))
}
