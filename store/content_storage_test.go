package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizePath(t *testing.T) {
	require.Equal(t, "a/b.json", NormalizePath("/a/b.json"))
	require.Equal(t, "a/b.json", NormalizePath("a//b.json"))
	require.Equal(t, "a/c.json", NormalizePath("a/b/../c.json"))
	require.Equal(t, "", NormalizePath("/"))
	require.Equal(t, "", NormalizePath(""))
}

func TestChildEntries(t *testing.T) {
	paths := []string{"data/a.json", "data/sub/b.json", "data/sub/c.json", "other/d.json", "root.json"}
	require.Equal(t, []Entry{
		{Name: "a.json", Type: EntryFile},
		{Name: "sub", Type: EntryDir},
	}, ChildEntries("data", paths))
	require.Equal(t, []Entry{
		{Name: "data", Type: EntryDir},
		{Name: "other", Type: EntryDir},
		{Name: "root.json", Type: EntryFile},
	}, ChildEntries("/", paths))
	require.Empty(t, ChildEntries("missing", paths))
}

func TestConflictErrorIs(t *testing.T) {
	err := error(&ConflictError{Path: "a.json", Expected: "1", Current: "2"})
	require.ErrorIs(t, err, ErrRevisionConflict)
	require.NotErrorIs(t, err, ErrNotFound)
}
