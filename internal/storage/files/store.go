package files

import (
	"context"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Store keeps uploaded source files. Refs are opaque to callers.
type Store interface {
	Save(ctx context.Context, originalName string, r io.Reader, size int64) (ref, fileURL string, err error)
	// LocalPath makes the file available on disk until release is called.
	LocalPath(ctx context.Context, ref string) (path string, release func(), err error)
	// Remove deletes the file. A file that is already gone is not an error.
	Remove(ctx context.Context, ref string) error
}

// newRef builds a collision-free object name that keeps the original extension.
func newRef(originalName string) string {
	ext := strings.ToLower(filepath.Ext(originalName))
	if ext == "" {
		ext = ".pdf"
	}
	return uuid.NewString() + ext
}
