package shared

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultArtifactName = "received.bin"

// IOHelper moves files in and out of the link: it reads the file to send and
// stores what the receiver decoded.
type IOHelper struct {
	outDir string
	logger zerolog.Logger
}

func NewIOHelper(outDir string) *IOHelper {
	return &IOHelper{
		outDir: outDir,
		logger: log.With().Str("component", "io").Logger(),
	}
}

// ReadFile loads a file and derives its metadata.
func (io *IOHelper) ReadFile(path string) ([]byte, Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Metadata{}, err
	}
	if len(data) == 0 {
		return nil, Metadata{}, fmt.Errorf("%w: %s is empty", ErrInvalidSize, path)
	}
	meta := Metadata{
		Name: filepath.Base(path),
		Type: DetectType(path, data),
		Size: len(data),
	}
	if err := validateMetadata(meta); err != nil {
		return nil, Metadata{}, err
	}
	return data, meta, nil
}

// DetectType prefers the extension and falls back to content sniffing.
// Parameters such as charset are dropped.
func DetectType(name string, data []byte) string {
	t := mime.TypeByExtension(extension(name))
	if t == "" {
		t = http.DetectContentType(data)
	}
	if media, _, err := mime.ParseMediaType(t); err == nil {
		return media
	}
	return "application/octet-stream"
}

// WriteArtifact stores a decoded file under the output directory and returns
// its path. Existing files are never overwritten.
func (io *IOHelper) WriteArtifact(meta Metadata, payload []byte) (string, error) {
	if err := os.MkdirAll(io.outDir, 0o755); err != nil {
		return "", err
	}
	name := SanitizeName(meta.Name)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	path := filepath.Join(io.outDir, name)
	for i := 1; ; i++ {
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if os.IsExist(err) {
			path = filepath.Join(io.outDir, fmt.Sprintf("%s (%d)%s", stem, i, ext))
			continue
		}
		if err != nil {
			return "", err
		}
		if _, err := file.Write(payload); err != nil {
			file.Close()
			return "", err
		}
		if err := file.Close(); err != nil {
			return "", err
		}
		io.logger.Info().Str("path", path).Str("type", meta.Type).Int("size", len(payload)).Msg("artifact written")
		return path, nil
	}
}

// SanitizeName turns a received name into a safe single path element.
func SanitizeName(name string) string {
	name = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == unicode.ReplacementChar || unicode.IsControl(r) {
			return '_'
		}
		return r
	}, name)
	name = strings.TrimLeft(strings.TrimSpace(name), ".")
	if name == "" {
		return defaultArtifactName
	}
	return name
}

func extension(name string) string {
	return strings.ToLower(filepath.Ext(name))
}
