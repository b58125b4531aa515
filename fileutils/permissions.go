package fileutils

import (
	"fmt"
	"os"
)

// Returns nil if dirPath is a directory and is writable.
func VerifyWritable(dirPath string) error {
	fil, err := os.CreateTemp(dirPath, ".writable-")
	if err != nil {
		return err
	}
	err = fil.Close()
	if err != nil {
		return err
	}
	return os.Remove(fil.Name())
}

// EnsureWritableDir creates dirPath if missing and checks it can be written to.
func EnsureWritableDir(dirPath string) error {
	if err := os.MkdirAll(dirPath, 0o750); err != nil {
		return fmt.Errorf("could not create directory %s: %w", dirPath, err)
	}
	info, err := os.Stat(dirPath)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s must be a directory", dirPath)
	}
	if err := VerifyWritable(dirPath); err != nil {
		return fmt.Errorf("%s must be writable: %w", dirPath, err)
	}
	return nil
}
