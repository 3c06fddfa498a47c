package files

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_SaveLocalPathRemove(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(filepath.Join(t.TempDir(), "uploads"), "/uploads")
	require.NoError(t, err)

	ref, url, err := s.Save(ctx, "Student Handbook.PDF", strings.NewReader("%PDF-1.4"), 8)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(ref, ".pdf"))
	assert.Equal(t, "/uploads/"+ref, url)

	p, release, err := s.LocalPath(ctx, ref)
	require.NoError(t, err)
	defer release()
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))

	require.NoError(t, s.Remove(ctx, ref))
	_, err = os.Stat(p)
	assert.True(t, os.IsNotExist(err))
}

func TestLocalStore_RemoveMissingIsNotAnError(t *testing.T) {
	s, err := NewLocalStore(t.TempDir(), "/uploads")
	require.NoError(t, err)
	assert.NoError(t, s.Remove(context.Background(), "gone.pdf"))
}

func TestLocalStore_RefCannotEscapeDir(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir, "/uploads")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "passwd"), s.path("../../etc/passwd"))
}
