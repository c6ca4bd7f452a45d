package media

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Storage writes media bytes somewhere addressable and returns the public path.
type Storage interface {
	Store(ctx context.Context, data []byte, ext string) (string, error)
}

// DiskStorage stores files with random names under Root, served under PublicPrefix.
type DiskStorage struct {
	Root         string
	PublicPrefix string
}

var _ Storage = (*DiskStorage)(nil)

func NewDiskStorage(root, publicPrefix string) (*DiskStorage, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrap(err, "create media root")
	}
	if publicPrefix == "" {
		publicPrefix = "/uploads"
	}
	return &DiskStorage{Root: root, PublicPrefix: publicPrefix}, nil
}

func (s *DiskStorage) Store(ctx context.Context, data []byte, ext string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", errors.New("empty media payload")
	}
	ext = NormalizeExt(ext)
	if ext == "" {
		ext = mimetype.Detect(data).Extension()
	}
	name := uuid.NewString() + ext
	if err := os.WriteFile(filepath.Join(s.Root, name), data, 0o644); err != nil {
		return "", errors.Wrap(err, "write media file")
	}
	return path.Join(s.PublicPrefix, name), nil
}

// NormalizeExt returns ".ext" in lower case, or "" for unusable input.
func NormalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" || strings.ContainsAny(ext, `/\. `) {
		return ""
	}
	return "." + ext
}

// ExtFromMime maps a mime type such as "image/jpeg; charset=binary" to ".jpg".
func ExtFromMime(mime string) string {
	if mime == "" {
		return ""
	}
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = mime[:i]
	}
	if m := mimetype.Lookup(strings.TrimSpace(mime)); m != nil {
		return m.Extension()
	}
	if i := strings.LastIndex(mime, "/"); i >= 0 {
		return NormalizeExt(mime[i+1:])
	}
	return ""
}
