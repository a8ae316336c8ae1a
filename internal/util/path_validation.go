package util

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const writeCheckName = ".vidscribe_write_check"

// ValidateFolderPath checks that folderPath names a directory transcripts
// can be written into. A relative path is resolved against basePath. A
// missing directory is accepted when it could be created; the probe leaves
// no directory behind.
func ValidateFolderPath(folderPath string, basePath string) error {
	if strings.TrimSpace(folderPath) == "" {
		return errors.New("folder path cannot be empty")
	}
	if strings.Contains(folderPath, "..") {
		return errors.New("folder path contains invalid directory traversal")
	}

	full := filepath.Clean(folderPath)
	if !filepath.IsAbs(full) {
		full = filepath.Join(basePath, full)
	}

	info, err := os.Stat(full)
	switch {
	case err == nil && !info.IsDir():
		return fmt.Errorf("path exists but is not a directory: %s", full)
	case err == nil:
		if err := probeWrite(full); err != nil {
			return fmt.Errorf("no write permission for existing directory: %w", err)
		}
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return probeCreate(full)
	default:
		return fmt.Errorf("cannot access path: %w", err)
	}
}

// probeWrite creates and removes a marker file in dir.
func probeWrite(dir string) error {
	p := filepath.Join(dir, writeCheckName)
	f, err := os.Create(p)
	if err != nil {
		return err
	}
	f.Close()
	return os.Remove(p)
}

// probeCreate checks that the nearest existing ancestor of dir is a
// writable directory.
func probeCreate(dir string) error {
	parent := filepath.Dir(dir)
	for {
		info, err := os.Stat(parent)
		if err == nil {
			if !info.IsDir() {
				return fmt.Errorf("parent path exists but is not a directory: %s", parent)
			}
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("cannot access parent directory: %w", err)
		}
		next := filepath.Dir(parent)
		if next == parent {
			return fmt.Errorf("no existing parent for %s", dir)
		}
		parent = next
	}
	if err := probeWrite(parent); err != nil {
		return fmt.Errorf("no write permission for parent directory: %w", err)
	}
	return nil
}
