package report

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingUploader struct {
	bucket string
	key    string
	body   []byte
	size   int64
	sha    string
}

func (u *recordingUploader) PutObject(_ context.Context, bucket, key string, r io.Reader, size int64, sha256hex string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	u.bucket, u.key, u.body, u.size, u.sha = bucket, key, data, size, sha256hex
	return nil
}

func TestArchiveAndUpload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "op.json")
	data, err := Encode(Merge([]AccountReport{accountA()}))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(src, data, 0o644))

	archived, err := Archive(src)
	require.NoError(t, err)
	require.Equal(t, src+ArchiveSuffix, archived)

	restored, err := ReadArchive(archived)
	require.NoError(t, err)
	require.Equal(t, data, restored)

	up := &recordingUploader{}
	key, err := Upload(context.Background(), up, "reports", "runs", "run-1", archived)
	require.NoError(t, err)
	require.Equal(t, "runs/run-1/op.json.zst", key)
	require.Equal(t, "reports", up.bucket)

	raw, err := os.ReadFile(archived)
	require.NoError(t, err)
	sum := sha256.Sum256(raw)
	require.Equal(t, hex.EncodeToString(sum[:]), up.sha)
	require.Equal(t, int64(len(raw)), up.size)
	require.Equal(t, raw, up.body)
}

func TestUploadValidation(t *testing.T) {
	t.Parallel()

	_, err := Upload(context.Background(), nil, "b", "", "r", "x")
	require.Error(t, err)
	_, err = Upload(context.Background(), &recordingUploader{}, "", "", "r", "x")
	require.Error(t, err)
}
