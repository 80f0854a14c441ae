// Package inmem keeps revisioned content in process memory. It backs tests and
// the "memory" store backend.
package inmem

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/breez/data-store/store"
)

type entry struct {
	data     []byte
	revision int64
	message  string
}

type MemoryContentStorage struct {
	mu       sync.Mutex
	entries  map[string]*entry
	revision int64
}

func NewMemoryContentStorage() *MemoryContentStorage {
	return &MemoryContentStorage{entries: make(map[string]*entry)}
}

func (s *MemoryContentStorage) Read(_ context.Context, path string) (store.ReadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[store.NormalizePath(path)]
	if !ok {
		return store.ReadResult{}, nil
	}
	return store.ReadResult{
		Found:    true,
		Content:  bytes.Clone(e.data),
		Revision: strconv.FormatInt(e.revision, 10),
	}, nil
}

func (s *MemoryContentStorage) Create(_ context.Context, path string, content []byte, message string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path = store.NormalizePath(path)
	if _, ok := s.entries[path]; ok {
		return "", fmt.Errorf("failed to create %v: %w", path, store.ErrAlreadyExists)
	}
	s.revision++
	s.entries[path] = &entry{data: bytes.Clone(content), revision: s.revision, message: message}
	return strconv.FormatInt(s.revision, 10), nil
}

func (s *MemoryContentStorage) Update(_ context.Context, path string, content []byte, message, revision string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path = store.NormalizePath(path)
	e, err := s.current(path, revision)
	if err != nil {
		return "", err
	}
	s.revision++
	e.data = bytes.Clone(content)
	e.revision = s.revision
	e.message = message
	return strconv.FormatInt(s.revision, 10), nil
}

func (s *MemoryContentStorage) Delete(_ context.Context, path, message, revision string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path = store.NormalizePath(path)
	if _, err := s.current(path, revision); err != nil {
		return err
	}
	delete(s.entries, path)
	return nil
}

func (s *MemoryContentStorage) ListChildren(_ context.Context, dir string) ([]store.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.entries))
	for p := range s.entries {
		paths = append(paths, p)
	}
	return store.ChildEntries(dir, paths), nil
}

// LastMessage returns the message recorded by the latest write to path.
func (s *MemoryContentStorage) LastMessage(path string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[store.NormalizePath(path)]; ok {
		return e.message
	}
	return ""
}

func (s *MemoryContentStorage) current(path, revision string) (*entry, error) {
	e, ok := s.entries[path]
	if !ok {
		return nil, fmt.Errorf("failed to write %v: %w", path, store.ErrNotFound)
	}
	current := strconv.FormatInt(e.revision, 10)
	if current != revision {
		return nil, &store.ConflictError{Path: path, Expected: revision, Current: current}
	}
	return e, nil
}
