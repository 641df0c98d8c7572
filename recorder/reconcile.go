package recorder

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Reconcile scans dir for chunk_*.csv files not referenced by
// manifest.json and returns their names. The manifest is authoritative;
// a finalized file absent from it is an orphan left by a crash between
// file-close and manifest-rewrite.
func Reconcile(dir string) ([]string, error) {
	manifestPath := filepath.Join(dir, "manifest.json")
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, StorageIoError{Op: "read", Path: manifestPath, Err: err}
	}
	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, StorageIoError{Op: "unmarshal", Path: manifestPath, Err: err}
	}
	known := make(map[string]bool, len(session.Chunks))
	for _, c := range session.Chunks {
		known[c.Name] = true
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, StorageIoError{Op: "readdir", Path: dir, Err: err}
	}
	var orphans []string
	for _, e := range entries {
		name := e.Name()
		matched, _ := filepath.Match("chunk_*.csv", name)
		if matched && !known[name] {
			orphans = append(orphans, name)
		}
	}
	return orphans, nil
}
