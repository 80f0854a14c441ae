package store

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
)

var (
	ErrNotFound         = errors.New("path not found")
	ErrAlreadyExists    = errors.New("path already exists")
	ErrRevisionConflict = errors.New("revision conflict")
)

// ConflictError is returned when a write carries a revision that is no longer
// the current one for the path.
type ConflictError struct {
	Path     string
	Expected string
	Current  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("revision conflict on %q: expected %q, current %q", e.Path, e.Expected, e.Current)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrRevisionConflict
}

// ReadResult is the outcome of reading a path. A missing path is reported with
// Found set to false and no error.
type ReadResult struct {
	Found    bool
	Content  []byte
	Revision string
}

type EntryType string

const (
	EntryFile EntryType = "file"
	EntryDir  EntryType = "dir"
)

type Entry struct {
	Name string
	Type EntryType
}

type ContentStorage interface {
	Read(ctx context.Context, path string) (ReadResult, error)
	Create(ctx context.Context, path string, content []byte, message string) (string, error)
	Update(ctx context.Context, path string, content []byte, message, revision string) (string, error)
	Delete(ctx context.Context, path, message, revision string) error
	ListChildren(ctx context.Context, path string) ([]Entry, error)
}

// NormalizePath strips leading slashes and cleans the path. The root is "".
func NormalizePath(p string) string {
	p = strings.TrimLeft(path.Clean("/"+p), "/")
	return p
}

// ChildEntries returns the immediate children of dir among the given file
// paths. Paths are expected to be normalized.
func ChildEntries(dir string, paths []string) []Entry {
	prefix := NormalizePath(dir)
	if prefix != "" {
		prefix += "/"
	}
	seen := make(map[string]EntryType)
	for _, p := range paths {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		if rest == "" {
			continue
		}
		if i := strings.Index(rest, "/"); i >= 0 {
			seen[rest[:i]] = EntryDir
			continue
		}
		if _, ok := seen[rest]; !ok {
			seen[rest] = EntryFile
		}
	}
	entries := make([]Entry, 0, len(seen))
	for name, t := range seen {
		entries = append(entries, Entry{Name: name, Type: t})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}
