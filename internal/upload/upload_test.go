package upload

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckName(t *testing.T) {
	assert.NoError(t, CheckName("surgery.mp4"))
	assert.NoError(t, CheckName("SURGERY.MP4"))
	assert.True(t, errors.Is(CheckName(""), ErrNoFile))
	assert.True(t, errors.Is(CheckName("clip.avi"), ErrUnsupportedFormat))
	assert.True(t, errors.Is(CheckName("mp4"), ErrUnsupportedFormat))
}

func TestSaveReplacesPrevious(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, 1024)

	first, err := s.Save("a.mp4", strings.NewReader("first"))
	require.NoError(t, err)
	data, err := os.ReadFile(first.Path)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))
	assert.Equal(t, int64(5), first.Size)
	assert.Equal(t, dir, filepath.Dir(first.Path))

	second, err := s.Save("b.mp4", strings.NewReader("second"))
	require.NoError(t, err)
	assert.NotEqual(t, first.Path, second.Path)

	_, err = os.Stat(first.Path)
	assert.True(t, os.IsNotExist(err), "previous upload should be removed")
	assert.Equal(t, second.Path, s.Current().Path)

	require.NoError(t, s.Close())
	_, err = os.Stat(second.Path)
	assert.True(t, os.IsNotExist(err))
	assert.Nil(t, s.Current())
	require.NoError(t, s.Close())
}

func TestSaveRejects(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, 4)

	_, err := s.Save("big.mp4", strings.NewReader("12345"))
	assert.True(t, errors.Is(err, ErrTooLarge))

	_, err = s.Save("empty.mp4", strings.NewReader(""))
	assert.True(t, errors.Is(err, ErrNoFile))

	_, err = s.Save("clip.mov", strings.NewReader("123"))
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected uploads leave nothing behind")
	assert.Nil(t, s.Current())
}

func TestFailedSaveKeepsCurrent(t *testing.T) {
	s := NewStore(t.TempDir(), 4)
	ok, err := s.Save("ok.mp4", strings.NewReader("1234"))
	require.NoError(t, err)

	_, err = s.Save("big.mp4", strings.NewReader("12345"))
	require.Error(t, err)

	assert.Equal(t, ok.Path, s.Current().Path)
	_, err = os.Stat(ok.Path)
	assert.NoError(t, err)
}
