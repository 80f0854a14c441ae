// Package codec parses and serializes containers of documents in the encodings
// the store understands, and runs the conversion pipeline between them.
package codec

import (
	"errors"
	"fmt"
)

var (
	ErrMalformed     = errors.New("malformed content")
	ErrUnknownFormat = errors.New("unknown format")
)

// Document is an open mapping from field names to values.
type Document map[string]interface{}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case Document:
		return t.Clone()
	case map[string]interface{}:
		return map[string]interface{}(Document(t).Clone())
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

type Codec interface {
	Name() string
	Extension() string
	Parse(content []byte) ([]Document, error)
	Serialize(docs []Document) ([]byte, error)
}

// FormatError reports content that does not match its declared encoding. Line
// and Index are 1-based and zero when unknown.
type FormatError struct {
	Format string
	Line   int
	Index  int
	Err    error
}

func (e *FormatError) Error() string {
	switch {
	case e.Line > 0:
		return fmt.Sprintf("%s: line %d: %v", e.Format, e.Line, e.Err)
	case e.Index > 0:
		return fmt.Sprintf("%s: document %d: %v", e.Format, e.Index, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Format, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

func (e *FormatError) Is(target error) bool {
	return target == ErrMalformed
}
