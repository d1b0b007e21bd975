package utils

import (
	"os"
	"path/filepath"
	"strings"
)

// SaveLocalObject writes a blob under FILES_DIR, mirroring the object-key
// layout used on GCS so the two providers stay interchangeable.
func SaveLocalObject(objectKey string, data []byte) error {
	dir := strings.TrimSpace(os.Getenv("FILES_DIR"))
	if dir == "" {
		dir = "files"
	}
	target := filepath.Join(dir, filepath.FromSlash(objectKey))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	return os.WriteFile(target, data, 0o644)
}

// LocalObjectExists reports whether a blob is already present on disk.
// Used as an encoding fallback: when a URL segment and the stored name
// disagree in percent-encoding, callers probe both forms.
func LocalObjectExists(objectKey string) bool {
	dir := strings.TrimSpace(os.Getenv("FILES_DIR"))
	if dir == "" {
		dir = "files"
	}
	_, err := os.Stat(filepath.Join(dir, filepath.FromSlash(objectKey)))
	return err == nil
}
