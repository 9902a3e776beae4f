package intake

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paybot/pkg/gateway"
)

func newTestIntake(t *testing.T, maxBytes int64) (*Intake, string) {
	t.Helper()
	dir := t.TempDir()
	in, err := New(dir, DefaultPolicy(maxBytes))
	require.NoError(t, err)
	return in, dir
}

func stagedCount(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return len(entries)
}

func TestPolicyFromBackend(t *testing.T) {
	fallback := DefaultPolicy(5 * 1024 * 1024)

	p := PolicyFrom(gateway.UploadConfig{
		MaxFileSize:      2 * 1024 * 1024,
		AllowedMIMETypes: []string{"image/png"},
	}, fallback)
	assert.Equal(t, int64(2*1024*1024), p.MaxBytes)
	assert.Equal(t, []string{"image/png"}, p.AllowedTypes)
	assert.False(t, p.allows("image/jpeg"))

	// An empty backend policy changes nothing.
	p = PolicyFrom(gateway.UploadConfig{}, fallback)
	assert.Equal(t, fallback.MaxBytes, p.MaxBytes)
	assert.Equal(t, fallback.AllowedTypes, p.AllowedTypes)
}

func TestStageAndBytes(t *testing.T) {
	in, dir := newTestIntake(t, 1024)

	sf, err := in.Stage("receipt.jpg", "image/jpeg", bytes.NewReader([]byte("jpegdata")))
	require.NoError(t, err)
	assert.NotEmpty(t, sf.Handle)
	assert.Equal(t, int64(8), sf.Size)
	assert.Equal(t, 1, stagedCount(t, dir))

	data, err := sf.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("jpegdata"), data)

	require.NoError(t, sf.Discard())
	assert.Equal(t, 0, stagedCount(t, dir))
	// Idempotent.
	require.NoError(t, sf.Discard())
}

func TestStageSizeCeiling(t *testing.T) {
	in, dir := newTestIntake(t, 16)

	// Exactly at the ceiling is accepted.
	sf, err := in.Stage("a.jpg", "image/jpeg", bytes.NewReader(make([]byte, 16)))
	require.NoError(t, err)
	require.NoError(t, sf.Discard())

	// One byte over is rejected and nothing is left behind.
	_, err = in.Stage("b.jpg", "image/jpeg", bytes.NewReader(make([]byte, 17)))
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Equal(t, 0, stagedCount(t, dir))
}

func TestStageRejectsUnsupportedType(t *testing.T) {
	in, dir := newTestIntake(t, 1024)

	_, err := in.Stage("doc.pdf", "application/pdf", bytes.NewReader([]byte("%PDF-1.4")))
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Equal(t, 0, stagedCount(t, dir))
}

func TestStageRejectsEmpty(t *testing.T) {
	in, _ := newTestIntake(t, 1024)

	_, err := in.Stage("a.jpg", "image/jpeg", bytes.NewReader(nil))
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestStageSniffsContentType(t *testing.T) {
	in, _ := newTestIntake(t, 1024)

	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)
	sf, err := in.Stage("shot", "", bytes.NewReader(png))
	require.NoError(t, err)
	assert.Equal(t, "image/png", sf.ContentType)
	require.NoError(t, sf.Discard())
}

func TestStageNormalizesContentTypeParams(t *testing.T) {
	in, _ := newTestIntake(t, 1024)

	sf, err := in.Stage("a.jpg", "image/jpeg; charset=binary", bytes.NewReader([]byte("x")))
	require.NoError(t, err)
	require.NoError(t, sf.Discard())
}

func TestCommitCleansUpOnSuccess(t *testing.T) {
	in, dir := newTestIntake(t, 1024)
	sf, err := in.Stage("receipt.jpg", "image/jpeg", bytes.NewReader([]byte("jpegdata")))
	require.NoError(t, err)

	var got *gateway.Attachment
	err = in.Commit(context.Background(), sf, func(_ context.Context, att *gateway.Attachment) error {
		got = att
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "receipt.jpg", got.Name)
	assert.Equal(t, []byte("jpegdata"), got.Data)
	assert.Equal(t, 0, stagedCount(t, dir))
}

func TestCommitCleansUpOnFailure(t *testing.T) {
	in, dir := newTestIntake(t, 1024)
	sf, err := in.Stage("receipt.jpg", "image/jpeg", bytes.NewReader([]byte("jpegdata")))
	require.NoError(t, err)

	submitErr := errors.New("backend down")
	err = in.Commit(context.Background(), sf, func(context.Context, *gateway.Attachment) error {
		return submitErr
	})
	assert.ErrorIs(t, err, submitErr)
	assert.Equal(t, 0, stagedCount(t, dir))
}

func TestCommitAfterDiscardFails(t *testing.T) {
	in, _ := newTestIntake(t, 1024)
	sf, err := in.Stage("receipt.jpg", "image/jpeg", bytes.NewReader([]byte("x")))
	require.NoError(t, err)
	require.NoError(t, sf.Discard())

	err = in.Commit(context.Background(), sf, func(context.Context, *gateway.Attachment) error {
		t.Fatal("submit should not run")
		return nil
	})
	require.Error(t, err)
}
