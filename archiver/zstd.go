package archiver

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const ZstdExt = ".zst"

// CompressFile compresses path with zstd into path+".zst" and removes the
// original. It returns the compressed file path.
func CompressFile(path string) (outputPath string, err error) {
	outputPath = path + ZstdExt

	inFile, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open input file: %w", err)
	}
	defer inFile.Close()

	outFile, err := os.OpenFile(outputPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return "", fmt.Errorf("failed to create output file: %w", err)
	}

	writer, err := zstd.NewWriter(outFile)
	if err != nil {
		_ = outFile.Close()
		return "", fmt.Errorf("failed to create zstd writer: %w", err)
	}
	if _, err := io.Copy(writer, inFile); err != nil {
		_ = writer.Close()
		_ = outFile.Close()
		return "", fmt.Errorf("failed to compress file: %w", err)
	}
	if err := errors.Join(writer.Close(), outFile.Close()); err != nil {
		return "", fmt.Errorf("failed to finish compressed file: %w", err)
	}

	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("failed to remove original file: %w", err)
	}
	return outputPath, nil
}

type zstdReadCloser struct {
	decoder *zstd.Decoder
	file    *os.File
}

func (z *zstdReadCloser) Read(p []byte) (int, error) {
	return z.decoder.Read(p)
}

func (z *zstdReadCloser) Close() error {
	z.decoder.Close()
	return z.file.Close()
}

// OpenPayload opens path for reading, decompressing it on the fly when it
// carries the zstd extension.
func OpenPayload(path string) (io.ReadCloser, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ZstdExt) {
		return file, nil
	}

	decoder, err := zstd.NewReader(file)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	return &zstdReadCloser{decoder: decoder, file: file}, nil
}
