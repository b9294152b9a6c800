package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vthunder/plexus/internal/logging"
)

// tmpPrefix marks in-flight writes so loaders can skip and sweep them
const tmpPrefix = ".tmp-"

// SaveJSON writes v as indented JSON with the temp-file/fsync/rename dance
// so readers only ever observe complete records.
func SaveJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, tmpPrefix+filepath.Base(path)+"-")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// LoadJSON reads a JSON file into v. Returns os.ErrNotExist unwrapped via
// errors.Is for absent files.
func LoadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Quarantine renames an unreadable record out of the way so the subsystem
// keeps running without it. Returns the quarantine path.
func Quarantine(path string) string {
	dst := fmt.Sprintf("%s.corrupt.%d", path, time.Now().Unix())
	if err := os.Rename(path, dst); err != nil {
		logging.Warn("store", "quarantine %s failed: %v", filepath.Base(path), err)
		return ""
	}
	logging.Warn("store", "quarantined corrupt record %s -> %s",
		filepath.Base(path), filepath.Base(dst))
	return dst
}

// sweepTemp removes leftover temp files from interrupted writes. The
// previous record version (if any) stays authoritative.
func sweepTemp(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), tmpPrefix) {
			os.Remove(filepath.Join(dir, e.Name()))
			logging.Debug("store", "swept stale temp file %s", e.Name())
		}
	}
}

// isRecordFile filters directory entries down to real records: "*.json"
// but not temp or quarantined files.
func isRecordFile(name string) bool {
	return strings.HasSuffix(name, ".json") &&
		!strings.HasPrefix(name, tmpPrefix) &&
		!strings.Contains(name, ".corrupt.")
}

// recordID strips the .json suffix
func recordID(name string) string {
	return strings.TrimSuffix(name, ".json")
}
