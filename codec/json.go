package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

type jsonCodec struct{}

// NewJSON returns the whole-document codec: a single object or an array of
// objects. One document serializes back to a bare object, never to a
// one-element array.
func NewJSON() Codec {
	return jsonCodec{}
}

func (jsonCodec) Name() string      { return "json" }
func (jsonCodec) Extension() string { return ".json" }

func (c jsonCodec) Parse(content []byte) ([]Document, error) {
	if len(bytes.TrimSpace(content)) == 0 {
		return []Document{}, nil
	}
	v, err := decodeValue(content)
	if err != nil {
		return nil, &FormatError{Format: c.Name(), Err: err}
	}
	switch t := v.(type) {
	case map[string]interface{}:
		return []Document{t}, nil
	case []interface{}:
		docs := make([]Document, 0, len(t))
		for i, e := range t {
			m, ok := e.(map[string]interface{})
			if !ok {
				return nil, &FormatError{Format: c.Name(), Index: i + 1, Err: fmt.Errorf("element is %T, not an object", e)}
			}
			docs = append(docs, m)
		}
		return docs, nil
	default:
		return nil, &FormatError{Format: c.Name(), Err: fmt.Errorf("top level value is %T, not an object or array", v)}
	}
}

func (c jsonCodec) Serialize(docs []Document) ([]byte, error) {
	var v interface{}
	switch len(docs) {
	case 1:
		v = nonNilDocument(docs[0])
	default:
		all := make([]Document, len(docs))
		for i, d := range docs {
			all[i] = nonNilDocument(d)
		}
		v = all
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize json: %w", err)
	}
	return append(out, '\n'), nil
}

func nonNilDocument(d Document) Document {
	if d == nil {
		return Document{}
	}
	return d
}

// decodeValue decodes exactly one json value. Numbers stay json.Number so
// integers beyond float64 precision survive a round trip.
func decodeValue(content []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(content))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	var extra interface{}
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unexpected data after the top level value")
	}
	return v, nil
}
