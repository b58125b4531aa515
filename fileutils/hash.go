package fileutils

import (
	"errors"
	"io"
	"os"

	"github.com/cespare/xxhash"
)

// ComputeHash returns the hash of the reader.
// It will read the entire contents of the reader. It will not close the reader.
func ComputeHash(r io.Reader) (uint64, error) {
	hash, _, err := hashAndCount(r)
	return hash, err
}

// ComputeFileHash returns the hash of the file at path.
func ComputeFileHash(path string) (uint64, error) {
	hash, _, err := FileDigest(path)
	return hash, err
}

// FileDigest returns the hash and the number of bytes read from the file at path.
func FileDigest(path string) (hash uint64, size int64, err error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer func() {
		err = errors.Join(err, file.Close())
	}()

	return hashAndCount(file)
}

func hashAndCount(r io.Reader) (uint64, int64, error) {
	hash := xxhash.New()
	n, err := io.Copy(hash, r)
	if err != nil {
		return 0, n, err
	}
	return hash.Sum64(), n, nil
}
