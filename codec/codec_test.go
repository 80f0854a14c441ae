package codec

import (
	"errors"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	testCases := []struct {
		name  string
		codec Codec
		docs  []Document
	}{
		{
			name:  "json single document",
			codec: NewJSON(),
			docs:  []Document{{"id": json.Number("1"), "name": "Alice", "tags": []interface{}{"a", "b"}}},
		},
		{
			name:  "json several documents",
			codec: NewJSON(),
			docs:  []Document{{"id": json.Number("1")}, {"id": json.Number("2"), "nested": map[string]interface{}{"ok": true, "ratio": json.Number("0.25")}}},
		},
		{
			name:  "ndjson",
			codec: NewNDJSON(),
			docs:  []Document{{"id": json.Number("1"), "age": json.Number("30")}, {"id": json.Number("2"), "age": json.Number("20")}},
		},
		{
			name:  "json integer beyond float64 precision",
			codec: NewJSON(),
			docs:  []Document{{"id": json.Number("9007199254740993")}},
		},
		{
			name:  "ndjson integer beyond float64 precision",
			codec: NewNDJSON(),
			docs:  []Document{{"id": json.Number("9007199254740993"), "big": json.Number("123456789012345678901234567890")}},
		},
		{
			name:  "csv with quoting",
			codec: NewCSV(','),
			docs:  []Document{{"id": "1", "name": "B,ob", "note": "say \"hi\"\nbye"}, {"id": "2", "name": "Alice", "note": ""}},
		},
		{
			name:  "tsv",
			codec: NewTSV(),
			docs:  []Document{{"id": "1", "name": "tab\there"}},
		},
		{
			name:  "csv single column with an empty value",
			codec: NewCSV(','),
			docs:  []Document{{"note": ""}, {"note": "x"}, {"note": ""}},
		},
		{
			name:  "yaml single document",
			codec: NewYAML(),
			docs:  []Document{{"id": 1, "name": "Alice", "address": map[string]interface{}{"city": "Paris"}}},
		},
		{
			name:  "yaml several documents",
			codec: NewYAML(),
			docs:  []Document{{"id": 1}, {"id": 2, "list": []interface{}{"x", "y"}}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			content, err := tc.codec.Serialize(tc.docs)
			require.NoError(t, err, "failed to serialize")
			docs, err := tc.codec.Parse(content)
			require.NoError(t, err, "failed to parse %q", content)
			require.Equal(t, tc.docs, docs)
		})
	}
}

func TestJSONSingleDocumentIsBareObject(t *testing.T) {
	c := NewJSON()
	content, err := c.Serialize([]Document{{"id": float64(1)}})
	require.NoError(t, err)
	require.Equal(t, "{\n  \"id\": 1\n}\n", string(content))

	docs, err := c.Parse(content)
	require.NoError(t, err)
	require.Equal(t, []Document{{"id": json.Number("1")}}, docs)

	docs, err = c.Parse([]byte(`[{"id":1}]`))
	require.NoError(t, err)
	require.Equal(t, []Document{{"id": json.Number("1")}}, docs)

	content, err = c.Serialize(nil)
	require.NoError(t, err)
	require.Equal(t, "[]\n", string(content))
}

func TestJSONParseEmpty(t *testing.T) {
	docs, err := NewJSON().Parse([]byte("  \n"))
	require.NoError(t, err)
	require.Empty(t, docs)
}

func TestNDJSONFormat(t *testing.T) {
	c := NewNDJSON()
	content, err := c.Serialize([]Document{{"id": float64(1)}, {"id": float64(2)}})
	require.NoError(t, err)
	require.Equal(t, "{\"id\":1}\n{\"id\":2}\n", string(content))

	content, err = c.Serialize([]Document{})
	require.NoError(t, err)
	require.Empty(t, content)

	docs, err := c.Parse([]byte(""))
	require.NoError(t, err)
	require.Empty(t, docs)

	docs, err = c.Parse([]byte("{\"id\":1}\r\n\n{\"id\":2}"))
	require.NoError(t, err)
	require.Equal(t, []Document{{"id": json.Number("1")}, {"id": json.Number("2")}}, docs)
}

func TestLargeIntegersSurvive(t *testing.T) {
	content := []byte("{\"id\":9007199254740993}\n")
	docs, err := NewNDJSON().Parse(content)
	require.NoError(t, err)
	out, err := NewNDJSON().Serialize(docs)
	require.NoError(t, err)
	require.Equal(t, string(content), string(out))

	out, err = NewJSON().Serialize(docs)
	require.NoError(t, err)
	require.Equal(t, "{\n  \"id\": 9007199254740993\n}\n", string(out))

	out, err = NewCSV(',').Serialize(docs)
	require.NoError(t, err)
	require.Equal(t, "id\n9007199254740993\n", string(out))

	out, err = NewYAML().Serialize(docs)
	require.NoError(t, err)
	require.Equal(t, "id: 9007199254740993\n", string(out))
	parsed, err := NewYAML().Parse(out)
	require.NoError(t, err)
	require.Equal(t, []Document{{"id": 9007199254740993}}, parsed)

	out, err = NewYAML().Serialize([]Document{{"ratio": json.Number("0.5")}})
	require.NoError(t, err)
	require.Equal(t, "ratio: 0.5\n", string(out))
}

func TestCSVParse(t *testing.T) {
	docs, err := NewCSV(',').Parse([]byte("id,name\n1,Alice\n2,\"B,ob\""))
	require.NoError(t, err)
	require.Equal(t, []Document{
		{"id": "1", "name": "Alice"},
		{"id": "2", "name": "B,ob"},
	}, docs)

	docs, err = NewCSV(',').Parse([]byte("id,quote\n1,\"she said \"\"hi\"\"\"\n"))
	require.NoError(t, err)
	require.Equal(t, []Document{{"id": "1", "quote": "she said \"hi\""}}, docs)

	docs, err = NewCSV(',').Parse([]byte("id,name\n"))
	require.NoError(t, err)
	require.Empty(t, docs)
}

func TestCSVSerialize(t *testing.T) {
	content, err := NewCSV(',').Serialize([]Document{
		{"name": "B,ob", "id": "2"},
		{"id": "3", "name": "Eve", "age": float64(41)},
	})
	require.NoError(t, err)
	require.Equal(t, "id,name,age\n2,\"B,ob\",\n3,Eve,41\n", string(content))

	content, err = NewCSV(',').Serialize([]Document{{"quote": "a \"b\""}})
	require.NoError(t, err)
	require.Equal(t, "quote\n\"a \"\"b\"\"\"\n", string(content))

	content, err = NewCSV(',').Serialize(nil)
	require.NoError(t, err)
	require.Empty(t, content)

	content, err = NewCSV(',').Serialize([]Document{{"note": ""}})
	require.NoError(t, err)
	require.Equal(t, "note\n\"\"\n", string(content))

	_, err = NewCSV(',').Serialize([]Document{{}, {}})
	require.Error(t, err, "documents without fields have no csv rendering")
}

func TestYAMLParse(t *testing.T) {
	c := NewYAML()
	docs, err := c.Parse([]byte("id: 1\nname: Alice\n---\nid: 2\nname: Bob\n"))
	require.NoError(t, err)
	require.Equal(t, []Document{{"id": 1, "name": "Alice"}, {"id": 2, "name": "Bob"}}, docs)

	docs, err = c.Parse([]byte("- id: 1\n- id: 2\n"))
	require.NoError(t, err)
	require.Equal(t, []Document{{"id": 1}, {"id": 2}}, docs)

	docs, err = c.Parse([]byte("---\nid: 1\n"))
	require.NoError(t, err)
	require.Equal(t, []Document{{"id": 1}}, docs)

	docs, err = c.Parse([]byte("\n"))
	require.NoError(t, err)
	require.Empty(t, docs)

	docs, err = c.Parse([]byte("id: 1\n...\nid: 2\n"))
	require.NoError(t, err)
	require.Equal(t, []Document{{"id": 1}, {"id": 2}}, docs)

	docs, err = c.Parse([]byte("id: 1\n...\n---\nid: 2\n...\n"))
	require.NoError(t, err)
	require.Equal(t, []Document{{"id": 1}, {"id": 2}}, docs)
}

func TestYAMLSerialize(t *testing.T) {
	content, err := NewYAML().Serialize([]Document{{"id": 1}, {"id": 2}})
	require.NoError(t, err)
	require.Equal(t, "id: 1\n---\nid: 2\n", string(content))
}

func TestFormatErrors(t *testing.T) {
	testCases := []struct {
		name    string
		codec   Codec
		content string
		line    int
		index   int
	}{
		{name: "json syntax", codec: NewJSON(), content: `{"id": `},
		{name: "json scalar", codec: NewJSON(), content: `42`},
		{name: "json array of scalars", codec: NewJSON(), content: `[{"id":1}, 2]`, index: 2},
		{name: "ndjson bad line", codec: NewNDJSON(), content: "{\"id\":1}\n{oops}\n", line: 2},
		{name: "ndjson non object", codec: NewNDJSON(), content: "{\"id\":1}\nnull\n", line: 2},
		{name: "csv field count", codec: NewCSV(','), content: "id,name\n1,Alice\n2\n", line: 3},
		{name: "csv bare quote", codec: NewCSV(','), content: "id,name\n1,Al\"ice\n", line: 2},
		{name: "yaml syntax", codec: NewYAML(), content: "id: [1, 2\n", index: 1},
		{name: "yaml scalar document", codec: NewYAML(), content: "id: 1\n---\njust text\n", index: 2},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.codec.Parse([]byte(tc.content))
			require.Error(t, err)
			require.ErrorIs(t, err, ErrMalformed)
			var formatErr *FormatError
			require.True(t, errors.As(err, &formatErr))
			require.Equal(t, tc.codec.Name(), formatErr.Format)
			require.Equal(t, tc.line, formatErr.Line)
			require.Equal(t, tc.index, formatErr.Index)
		})
	}
}

func TestDocumentClone(t *testing.T) {
	d := Document{"nested": map[string]interface{}{"a": 1}, "list": []interface{}{1, 2}}
	c := d.Clone()
	c["nested"].(map[string]interface{})["a"] = 2
	c["list"].([]interface{})[0] = 9
	require.Equal(t, 1, d["nested"].(map[string]interface{})["a"])
	require.Equal(t, 1, d["list"].([]interface{})[0])
}
