package analysis

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"gardenbot/internal/domain"

	"github.com/google/uuid"
)

// SecureFilename reduces name to a safe base name made of ASCII letters,
// digits, '.', '_' and '-'. Directory parts are dropped and runs of whitespace
// become a single '_'. The result can be empty.
func SecureFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base("/" + name)

	var b strings.Builder
	space := false
	for _, r := range name {
		switch {
		case unicode.IsSpace(r):
			space = true
			continue
		case r > unicode.MaxASCII:
			continue
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
		default:
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte('_')
		}
		space = false
		b.WriteRune(r)
	}
	return strings.Trim(b.String(), "._")
}

// SaveUpload writes r under the upload directory and returns the path. Every
// upload gets its own file, a random prefix followed by the sanitized name,
// so two requests never share an image on disk.
func (s *Service) SaveUpload(name string, r io.Reader) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", domain.NewError(domain.KindInvalidInput, "save upload", errors.New("empty image file name"))
	}
	safe := uuid.NewString() + ".jpg"
	if clean := SecureFilename(name); clean != "" {
		safe = uuid.NewString()[:8] + "-" + clean
	}

	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	path := filepath.Join(s.uploadDir, safe)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if n == 0 {
		os.Remove(path)
		return "", domain.NewError(domain.KindInvalidInput, "save upload", errors.New("empty image file"))
	}
	s.logger.Debug("upload saved", "path", path, "bytes", n)
	return path, nil
}
