// Package upload keeps the temporary copy of the uploaded video.
//
// Only one upload is kept at a time. Saving a new one removes the previous
// file, and Close removes whatever is left.
package upload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/bryanchriswhite/DetectStreamer/internal/logger"
)

var (
	// ErrNoFile means the request carried no video.
	ErrNoFile = errors.New("no file uploaded")

	// ErrUnsupportedFormat means the file is not an accepted container.
	ErrUnsupportedFormat = errors.New("unsupported video format")

	// ErrTooLarge means the upload exceeded the configured size limit.
	ErrTooLarge = errors.New("upload too large")
)

// AcceptedExtensions lists the container formats accepted for upload.
var AcceptedExtensions = []string{".mp4"}

// File is a saved upload.
type File struct {
	Name string `json:"name"` // as supplied by the client
	Path string `json:"-"`
	Size int64  `json:"size"`
}

// Store writes uploads to a temp directory.
type Store struct {
	dir      string
	maxBytes int64

	mu      sync.Mutex
	current *File
}

// NewStore returns a store writing under dir (os.TempDir when empty).
func NewStore(dir string, maxBytes int64) *Store {
	if dir == "" {
		dir = os.TempDir()
	}
	return &Store{dir: dir, maxBytes: maxBytes}
}

// CheckName rejects names without an accepted extension.
func CheckName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrNoFile
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, a := range AcceptedExtensions {
		if ext == a {
			return nil
		}
	}
	return fmt.Errorf("%w: %q (accepted: %s)", ErrUnsupportedFormat, name, strings.Join(AcceptedExtensions, ", "))
}

// Save copies r into a new temp file and makes it the current upload.
// The previous upload is removed only once the new one is complete.
func (s *Store) Save(name string, r io.Reader) (*File, error) {
	if err := CheckName(name); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	path := filepath.Join(s.dir, "detectstreamer-"+uuid.NewString()+strings.ToLower(filepath.Ext(name)))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	// Read one byte past the limit to detect oversized bodies.
	n, err := io.Copy(f, io.LimitReader(r, s.maxBytes+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && n > s.maxBytes {
		err = fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, s.maxBytes)
	}
	if err == nil && n == 0 {
		err = ErrNoFile
	}
	if err != nil {
		os.Remove(path)
		return nil, err
	}

	saved := &File{Name: filepath.Base(name), Path: path, Size: n}

	s.mu.Lock()
	prev := s.current
	s.current = saved
	s.mu.Unlock()

	log := logger.WithComponent("upload")
	if prev != nil {
		removeFile(prev.Path)
	}
	log.Info().
		Str("name", saved.Name).
		Str("path", saved.Path).
		Int64("bytes", saved.Size).
		Msg("Upload saved")

	return saved, nil
}

// Current returns the current upload, or nil.
func (s *Store) Current() *File {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	f := *s.current
	return &f
}

// Close removes the current upload.
func (s *Store) Close() error {
	s.mu.Lock()
	cur := s.current
	s.current = nil
	s.mu.Unlock()

	if cur == nil {
		return nil
	}
	if err := os.Remove(cur.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove upload: %w", err)
	}
	return nil
}

func removeFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.WithComponent("upload").Warn().Err(err).Str("path", path).Msg("Failed to remove previous upload")
	}
}
