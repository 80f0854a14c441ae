package codec

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

type ndjsonCodec struct{}

// NewNDJSON returns the line-delimited codec: one object per line, each line
// newline-terminated.
func NewNDJSON() Codec {
	return ndjsonCodec{}
}

func (ndjsonCodec) Name() string      { return "ndjson" }
func (ndjsonCodec) Extension() string { return ".ndjson" }

func (c ndjsonCodec) Parse(content []byte) ([]Document, error) {
	docs := []Document{}
	for i, line := range bytes.Split(content, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		v, err := decodeValue(line)
		if err != nil {
			return nil, &FormatError{Format: c.Name(), Line: i + 1, Err: err}
		}
		doc, ok := v.(map[string]interface{})
		if !ok {
			return nil, &FormatError{Format: c.Name(), Line: i + 1, Err: fmt.Errorf("line is %T, not an object", v)}
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (c ndjsonCodec) Serialize(docs []Document) ([]byte, error) {
	var buf bytes.Buffer
	for i, d := range docs {
		line, err := json.Marshal(nonNilDocument(d))
		if err != nil {
			return nil, fmt.Errorf("failed to serialize document %d: %w", i+1, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}
