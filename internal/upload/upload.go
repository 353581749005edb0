package upload

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/valyala/bytebufferpool"
)

const maxUploadBytes = 8 << 20

var (
	ErrUnsupportedType = errors.New("unsupported image type")
	ErrTooLarge        = errors.New("upload too large")
	ErrNotFound        = errors.New("upload not found")
)

// Extension by sniffed content type. Anything else is rejected.
var extByType = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Store keeps uploaded images as flat files under a single directory.
// The returned reference is the bare file name, which doubles as the
// image_ref clients attach to messages.
type Store struct {
	dir string
	log zerolog.Logger
}

func NewStore(dir string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir, log: log}, nil
}

func (s *Store) Dir() string { return s.dir }

// Save reads the image, verifies its type by sniffing the bytes, and
// writes it under a fresh name.
func (s *Store) Save(r io.Reader) (string, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	if _, err := buf.ReadFrom(io.LimitReader(r, maxUploadBytes+1)); err != nil {
		return "", err
	}
	if buf.Len() > maxUploadBytes {
		return "", ErrTooLarge
	}

	ct := http.DetectContentType(buf.Bytes())
	ext, ok := extByType[ct]
	if !ok {
		return "", ErrUnsupportedType
	}

	ref := uuid.NewString() + ext
	if err := os.WriteFile(filepath.Join(s.dir, ref), buf.Bytes(), 0o644); err != nil {
		return "", err
	}
	s.log.Debug().Str("ref", ref).Str("type", ct).Int("bytes", buf.Len()).Msg("image stored")
	return ref, nil
}

// Resolve maps a reference back to its path on disk. References are
// bare names, so anything with a path separator is rejected outright.
func (s *Store) Resolve(ref string) (string, error) {
	if ref == "" || filepath.Base(ref) != ref {
		return "", ErrNotFound
	}
	path := filepath.Join(s.dir, ref)
	if _, err := os.Stat(path); err != nil {
		return "", ErrNotFound
	}
	return path, nil
}
