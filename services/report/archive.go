package report

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// ArchiveSuffix is appended to a report path to form its compressed archive.
const ArchiveSuffix = ".zst"

// Uploader stores an object in a bucket.
type Uploader interface {
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, sha256hex string) error
}

// Archive compresses the file at src into src+ArchiveSuffix and returns the archive path.
func Archive(src string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open report: %w", err)
	}
	defer in.Close()

	dst := src + ArchiveSuffix
	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}
	defer out.Close()

	encoder, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return "", fmt.Errorf("zstd writer: %w", err)
	}
	if _, err := io.Copy(encoder, in); err != nil {
		encoder.Close()
		return "", fmt.Errorf("compress report: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return "", fmt.Errorf("flush archive: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close archive: %w", err)
	}
	return dst, nil
}

// ReadArchive decompresses an archive written by Archive.
func ReadArchive(src string) ([]byte, error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	decoder, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer decoder.Close()

	data, err := io.ReadAll(decoder)
	if err != nil {
		return nil, fmt.Errorf("decompress archive: %w", err)
	}
	return data, nil
}

// Upload puts the file at src into bucket under prefix/<runID>/<base name> and returns the key.
func Upload(ctx context.Context, u Uploader, bucket, prefix, runID, src string) (string, error) {
	if u == nil {
		return "", errors.New("uploader is required")
	}
	if bucket == "" {
		return "", errors.New("bucket is required")
	}

	digest, size, err := fileDigest(src)
	if err != nil {
		return "", err
	}
	f, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", src, err)
	}
	defer f.Close()

	key := path.Join(prefix, runID, filepath.Base(src))
	if err := u.PutObject(ctx, bucket, key, f, size, digest); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return key, nil
}

func fileDigest(src string) (string, int64, error) {
	f, err := os.Open(src)
	if err != nil {
		return "", 0, fmt.Errorf("open %s: %w", src, err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("hash %s: %w", src, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
