package codec

import (
	"fmt"
	"time"
)

// TimestampLayout renders stamped instants in UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// ConvertOptions drive the conversion pipeline. Stages always run in the same
// order: filter, transform, field renames, timestamp.
type ConvertOptions struct {
	SourceFormat   string
	TargetFormat   string
	Filter         func(Document) bool
	Transform      func(Document) Document
	FieldMap       map[string]string
	TimestampField string
	Now            func() time.Time
}

// ApplyPipeline runs the in-memory stages over copies of docs.
func ApplyPipeline(docs []Document, opts ConvertOptions) []Document {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	stamp := now().UTC().Format(TimestampLayout)

	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		d = d.Clone()
		if d == nil {
			d = Document{}
		}
		if opts.Filter != nil && !opts.Filter(d.Clone()) {
			continue
		}
		if opts.Transform != nil {
			if d = opts.Transform(d); d == nil {
				d = Document{}
			}
		}
		if len(opts.FieldMap) > 0 {
			d = RenameFields(d, opts.FieldMap)
		}
		if opts.TimestampField != "" {
			d[opts.TimestampField] = stamp
		}
		out = append(out, d)
	}
	return out
}

// RenameFields moves every mapped field to its new name. Unmapped fields pass
// through, a renamed field's old name disappears unless another mapping
// targets it, and renamed values win over pass-through fields of the same
// name.
func RenameFields(d Document, fieldMap map[string]string) Document {
	out := make(Document, len(d))
	renamed := make(Document)
	for k, v := range d {
		if to, ok := fieldMap[k]; ok {
			renamed[to] = v
			continue
		}
		out[k] = v
	}
	for k, v := range renamed {
		out[k] = v
	}
	return out
}

// ConvertContent parses content with from, runs the pipeline and serializes
// the result with to.
func (r *Registry) ConvertContent(content []byte, from, to Codec, opts ConvertOptions) ([]byte, error) {
	docs, err := from.Parse(content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s content: %w", from.Name(), err)
	}
	return r.ConvertDocuments(docs, to, opts)
}

// ConvertDocuments runs the pipeline over docs and serializes them with to.
func (r *Registry) ConvertDocuments(docs []Document, to Codec, opts ConvertOptions) ([]byte, error) {
	out, err := to.Serialize(ApplyPipeline(docs, opts))
	if err != nil {
		return nil, fmt.Errorf("failed to serialize %s content: %w", to.Name(), err)
	}
	return out, nil
}
