package testutil

import (
	"os"
	"path/filepath"
)

// CleanDir removes everything in the directory named by dirname except for
// any directory entries specified by keeps.
func CleanDir(dirname string, keeps []string) error {
	entries, err := os.ReadDir(dirname)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	m := map[string]struct{}{}
	for _, k := range keeps {
		m[k] = struct{}{}
	}

	for _, de := range entries {
		n := de.Name()
		if _, found := m[n]; found {
			continue
		}
		err = os.RemoveAll(filepath.Join(dirname, n))
		if err != nil {
			return err
		}
	}
	return nil
}

// MakeDir returns an empty directory testdata/name, creating it if necessary.
func MakeDir(name string) (string, error) {
	dir := filepath.Join("testdata", name)
	err := CleanDir(dir, nil)
	if err != nil {
		return "", err
	}
	return dir, os.MkdirAll(dir, 0755)
}
