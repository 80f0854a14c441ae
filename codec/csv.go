package codec

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/goccy/go-json"
)

type csvCodec struct {
	name      string
	extension string
	comma     rune
}

// NewCSV returns the tabular codec. The first row names the fields; quoted
// fields may hold the delimiter, quotes (doubled) and newlines. Parsed values
// are always strings.
func NewCSV(comma rune) Codec {
	return csvCodec{name: "csv", extension: ".csv", comma: comma}
}

// NewTSV is the tab separated flavour of the tabular codec.
func NewTSV() Codec {
	return csvCodec{name: "tsv", extension: ".tsv", comma: '\t'}
}

func (c csvCodec) Name() string      { return c.name }
func (c csvCodec) Extension() string { return c.extension }

func (c csvCodec) Parse(content []byte) ([]Document, error) {
	docs := []Document{}
	if len(bytes.TrimSpace(content)) == 0 {
		return docs, nil
	}
	r := csv.NewReader(bytes.NewReader(content))
	r.Comma = c.comma
	r.FieldsPerRecord = 0

	header, err := r.Read()
	if err != nil {
		return nil, c.formatError(err)
	}
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, c.formatError(err)
		}
		doc := make(Document, len(header))
		for i, field := range header {
			doc[field] = record[i]
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (c csvCodec) formatError(err error) error {
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return &FormatError{Format: c.name, Line: parseErr.Line, Err: parseErr.Err}
	}
	return &FormatError{Format: c.name, Err: err}
}

func (c csvCodec) Serialize(docs []Document) ([]byte, error) {
	if len(docs) == 0 {
		return []byte{}, nil
	}
	header := csvHeader(docs)
	if len(header) == 0 {
		return nil, fmt.Errorf("failed to serialize %s: %d documents without any field", c.name, len(docs))
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = c.comma
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	row := make([]string, len(header))
	for i, d := range docs {
		for j, field := range header {
			value, err := csvValue(d[field])
			if err != nil {
				return nil, fmt.Errorf("failed to serialize document %d field %q: %w", i+1, field, err)
			}
			row[j] = value
		}
		if len(row) == 1 && row[0] == "" {
			// a bare empty field is a blank line, which readers skip
			w.Flush()
			buf.WriteString("\"\"\n")
			continue
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write document %d: %w", i+1, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush %s: %w", c.name, err)
	}
	return buf.Bytes(), nil
}

// csvHeader lists the fields of the first document, then the fields first
// seen in later documents, each group sorted.
func csvHeader(docs []Document) []string {
	seen := make(map[string]bool)
	var header []string
	for _, d := range docs {
		var fresh []string
		for k := range d {
			if !seen[k] {
				seen[k] = true
				fresh = append(fresh, k)
			}
		}
		sort.Strings(fresh)
		header = append(header, fresh...)
	}
	return header
}

func csvValue(v interface{}) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case json.Number:
		return t.String(), nil
	case fmt.Stringer:
		return t.String(), nil
	case map[string]interface{}, Document, []interface{}:
		out, err := json.Marshal(t)
		if err != nil {
			return "", err
		}
		return string(out), nil
	default:
		return fmt.Sprint(t), nil
	}
}
