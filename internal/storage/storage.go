// Package storage keeps uploaded photo evidence on the local filesystem.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

type TooLargeError struct {
	MaxBytes int64
}

func (e TooLargeError) Error() string {
	return fmt.Sprintf("photo exceeds the %d byte limit", e.MaxBytes)
}

type UnsupportedTypeError struct {
	ContentType string
}

func (e UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported photo type %q", e.ContentType)
}

// UnavailableError wraps filesystem failures so callers can map them to a
// bad-gateway response instead of a generic server error.
type UnavailableError struct {
	Err error
}

func (e UnavailableError) Error() string {
	return "photo storage unavailable: " + e.Err.Error()
}

func (e UnavailableError) Unwrap() error {
	return e.Err
}

var extByType = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
}

// Store writes photos under Dir and hands back reference paths of the form
// /photos/<uuid>.<ext>. Case records keep only the reference, never bytes.
type Store struct {
	Dir          string
	MaxBytes     int64
	AllowedTypes []string
}

func New(dir string, maxBytes int64, allowedTypes []string) (Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Store{}, UnavailableError{Err: err}
	}
	return Store{Dir: dir, MaxBytes: maxBytes, AllowedTypes: allowedTypes}, nil
}

func (s Store) allowed(contentType string) bool {
	for _, t := range s.AllowedTypes {
		if strings.EqualFold(t, contentType) {
			return true
		}
	}
	return false
}

// Save validates type and size before anything touches disk, then streams the
// upload to a fresh file. Size is enforced again while copying in case the
// declared length lied.
func (s Store) Save(r io.Reader, contentType string, declaredSize int64) (string, error) {
	if !s.allowed(contentType) {
		return "", UnsupportedTypeError{ContentType: contentType}
	}
	if declaredSize > s.MaxBytes {
		return "", TooLargeError{MaxBytes: s.MaxBytes}
	}
	name := uuid.New().String() + extByType[strings.ToLower(contentType)]
	path := filepath.Join(s.Dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", UnavailableError{Err: err}
	}
	n, err := io.Copy(f, io.LimitReader(r, s.MaxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", UnavailableError{Err: err}
	}
	if n > s.MaxBytes {
		os.Remove(path)
		return "", TooLargeError{MaxBytes: s.MaxBytes}
	}
	return "/photos/" + name, nil
}

// Open resolves a /photos/<name> reference back to the file on disk. The
// name is cleaned to keep lookups inside Dir.
func (s Store) Open(ref string) (*os.File, error) {
	name := filepath.Base(strings.TrimPrefix(ref, "/photos/"))
	f, err := os.Open(filepath.Join(s.Dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, UnavailableError{Err: err}
	}
	return f, nil
}
