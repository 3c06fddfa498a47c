package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/docqa/backend/internal/apperrors"
	"github.com/docqa/backend/pkg/logger"
)

// LocalStore keeps files in a directory that is also served under urlPrefix.
type LocalStore struct {
	dir       string
	urlPrefix string
}

func NewLocalStore(dir, urlPrefix string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: failed to create upload dir: %w", apperrors.ErrFileStore, err)
	}
	logger.Info("Local file store initialized", zap.String("dir", dir))
	return &LocalStore{dir: dir, urlPrefix: urlPrefix}, nil
}

func (s *LocalStore) Dir() string {
	return s.dir
}

func (s *LocalStore) path(ref string) string {
	return filepath.Join(s.dir, filepath.Base(ref))
}

func (s *LocalStore) Save(_ context.Context, originalName string, r io.Reader, _ int64) (string, string, error) {
	ref := newRef(originalName)

	f, err := os.OpenFile(s.path(ref), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", "", fmt.Errorf("%w: failed to create file: %w", apperrors.ErrFileStore, err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", "", fmt.Errorf("%w: failed to write file: %w", apperrors.ErrFileStore, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", "", fmt.Errorf("%w: failed to close file: %w", apperrors.ErrFileStore, err)
	}

	return ref, path.Join(s.urlPrefix, ref), nil
}

func (s *LocalStore) LocalPath(_ context.Context, ref string) (string, func(), error) {
	p := s.path(ref)
	if _, err := os.Stat(p); err != nil {
		return "", nil, fmt.Errorf("%w: %w", apperrors.ErrFileStore, err)
	}
	return p, func() {}, nil
}

func (s *LocalStore) Remove(_ context.Context, ref string) error {
	err := os.Remove(s.path(ref))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: failed to remove file: %w", apperrors.ErrFileStore, err)
	}
	return nil
}
