package codec

import (
	"fmt"
	"path"
	"strings"
	"sync"
)

// DefaultFormat is used for paths whose suffix no codec claims.
const DefaultFormat = "json"

type Registry struct {
	mu       sync.RWMutex
	byName   map[string]Codec
	byExt    map[string]Codec
	fallback string
}

func NewRegistry(codecs ...Codec) *Registry {
	r := &Registry{
		byName:   make(map[string]Codec),
		byExt:    make(map[string]Codec),
		fallback: DefaultFormat,
	}
	for _, c := range codecs {
		r.Register(c)
	}
	return r
}

// DefaultRegistry knows json, ndjson, csv, tsv and yaml.
func DefaultRegistry() *Registry {
	r := NewRegistry(NewJSON(), NewCSV(','), NewTSV())
	r.Register(NewNDJSON(), ".jsonl")
	r.Register(NewYAML(), ".yml")
	return r
}

// Register adds or replaces a codec. It claims its own extension plus any
// extra ones given.
func (r *Registry) Register(c Codec, extraExtensions ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[c.Name()] = c
	for _, ext := range append([]string{c.Extension()}, extraExtensions...) {
		r.byExt[strings.ToLower(ext)] = c
	}
}

func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
	r.fallback = name
	return nil
}

func (r *Registry) Get(name string) (Codec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
	return c, nil
}

// ForPath detects the codec from the path suffix, falling back to the default
// format.
func (r *Registry) ForPath(p string) Codec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.byExt[strings.ToLower(path.Ext(p))]; ok {
		return c
	}
	return r.byName[r.fallback]
}

// Resolve returns the named codec, or the one detected from p when name is
// empty.
func (r *Registry) Resolve(name, p string) (Codec, error) {
	if name != "" {
		return r.Get(name)
	}
	return r.ForPath(p), nil
}
