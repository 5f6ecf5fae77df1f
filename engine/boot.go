package engine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	BootFile = "boot.bt"

	bootTemp = BootFile + ".tmp"
)

var (
	ErrBadBootFile = errors.New("engine: bad boot file")
)

func readBoot(dir string) (uint64, error) {
	buf, err := os.ReadFile(filepath.Join(dir, BootFile))
	if err != nil {
		return 0, err
	}
	if len(buf) != 8 {
		return 0, fmt.Errorf("%w: length %d", ErrBadBootFile, len(buf))
	}
	return binary.BigEndian.Uint64(buf), nil
}

// writeBoot replaces the boot file by writing a temporary file and renaming it.
func writeBoot(dir string, uid uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uid)

	tmp := filepath.Join(dir, bootTemp)
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	_, err = f.Write(buf[:])
	if err == nil {
		err = f.Sync()
	}
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, filepath.Join(dir, BootFile))
}

func removeBootTemp(dir string) error {
	err := os.Remove(filepath.Join(dir, bootTemp))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
