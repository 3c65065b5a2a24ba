package shared

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestReadFile(t *testing.T) {
	io := NewIOHelper(t.TempDir())

	data, meta, err := io.ReadFile(writeTemp(t, "config.json", []byte(`{"a":1}`)))
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"a":1}`), data)
	assert.Equal(t, Metadata{Name: "config.json", Type: "application/json", Size: 7}, meta)

	_, meta, err = io.ReadFile(writeTemp(t, "notes.unknownext", []byte("plain words")))
	require.NoError(t, err)
	assert.Equal(t, "text/plain", meta.Type, "sniffed, parameters dropped")

	_, _, err = io.ReadFile(writeTemp(t, "empty.bin", nil))
	assert.ErrorIs(t, err, ErrInvalidSize)

	_, _, err = io.ReadFile(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDetectType(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"image.PNG", nil, "image/png"},
		{"page.html", nil, "text/html"},
		{"noext", []byte("\x89PNG\r\n\x1a\n0000"), "image/png"},
		{"noext", []byte{0x00, 0x01, 0x02, 0xff}, "application/octet-stream"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectType(tt.name, tt.data), tt.name)
	}
}

func TestWriteArtifactNeverOverwrites(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "received")
	io := NewIOHelper(dir)
	meta := Metadata{Name: "a.txt", Type: "text/plain", Size: 5}

	first, err := io.WriteArtifact(meta, []byte("first"))
	require.NoError(t, err)
	second, err := io.WriteArtifact(meta, []byte("again"))
	require.NoError(t, err)
	third, err := io.WriteArtifact(meta, []byte("third"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "a.txt"), first)
	assert.Equal(t, filepath.Join(dir, "a (1).txt"), second)
	assert.Equal(t, filepath.Join(dir, "a (2).txt"), third)

	got, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, "first", string(got))
	got, err = os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, "again", string(got))
}

func TestWriteArtifactSanitizesName(t *testing.T) {
	dir := t.TempDir()
	path, err := NewIOHelper(dir).WriteArtifact(Metadata{Name: "../../escape.sh", Size: 2}, []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"report.pdf", "report.pdf"},
		{"../etc/passwd", "_etc_passwd"},
		{`dir\file.txt`, "dir_file.txt"},
		{"bad\x00name", "bad_name"},
		{"\uFFFD.txt", "_.txt"},
		{".hidden", "hidden"},
		{"...", defaultArtifactName},
		{"   ", defaultArtifactName},
		{"", defaultArtifactName},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeName(tt.in), "%q", tt.in)
	}
}
