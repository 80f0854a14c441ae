package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

type yamlCodec struct{}

// NewYAML returns the nested human-readable codec. Several documents are
// separated by a "---" line.
func NewYAML() Codec {
	return yamlCodec{}
}

func (yamlCodec) Name() string      { return "yaml" }
func (yamlCodec) Extension() string { return ".yaml" }

// Parse decodes content as a stream, so documents separated by "---" or
// ended by "..." all count.
func (c yamlCodec) Parse(content []byte) ([]Document, error) {
	if len(bytes.TrimSpace(content)) == 0 {
		return []Document{}, nil
	}
	return c.parseStream(content)
}

func (c yamlCodec) parseStream(content []byte) ([]Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(content))
	docs := []Document{}
	for index := 1; ; index++ {
		var v interface{}
		err := dec.Decode(&v)
		if err == io.EOF {
			return docs, nil
		}
		if err != nil {
			return nil, &FormatError{Format: c.Name(), Index: index, Err: err}
		}
		if docs, err = c.collect(docs, v, index); err != nil {
			return nil, err
		}
	}
}

// collect appends the documents held by one decoded yaml value: a mapping is
// one document, a sequence contributes each of its mappings.
func (c yamlCodec) collect(docs []Document, v interface{}, index int) ([]Document, error) {
	if docs == nil {
		docs = []Document{}
	}
	switch t := normalizeYAML(v).(type) {
	case nil:
		return docs, nil
	case map[string]interface{}:
		return append(docs, t), nil
	case []interface{}:
		for _, e := range t {
			m, ok := e.(map[string]interface{})
			if !ok {
				return nil, &FormatError{Format: c.Name(), Index: index, Err: fmt.Errorf("sequence element is %T, not a mapping", e)}
			}
			docs = append(docs, m)
		}
		return docs, nil
	default:
		return nil, &FormatError{Format: c.Name(), Index: index, Err: fmt.Errorf("document is %T, not a mapping", t)}
	}
}

func normalizeYAML(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = normalizeYAML(e)
		}
		return out
	case map[string]interface{}:
		for k, e := range t {
			t[k] = normalizeYAML(e)
		}
		return t
	case []interface{}:
		for i, e := range t {
			t[i] = normalizeYAML(e)
		}
		return t
	default:
		return v
	}
}

func (c yamlCodec) Serialize(docs []Document) ([]byte, error) {
	var buf bytes.Buffer
	if len(docs) == 0 {
		return []byte{}, nil
	}
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	for i, d := range docs {
		if err := enc.Encode(yamlValue(map[string]interface{}(nonNilDocument(d)))); err != nil {
			return nil, fmt.Errorf("failed to serialize document %d: %w", i+1, err)
		}
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to serialize yaml: %w", err)
	}
	return buf.Bytes(), nil
}

// yamlValue keeps json numbers numeric: their literal is written as a plain
// scalar instead of a quoted string.
func yamlValue(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		return &yaml.Node{Kind: yaml.ScalarNode, Value: t.String()}
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = yamlValue(e)
		}
		return out
	case Document:
		return yamlValue(map[string]interface{}(t))
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = yamlValue(e)
		}
		return out
	default:
		return v
	}
}
