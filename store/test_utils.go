package store

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type StoreTest struct{}

func (s *StoreTest) TestCreateAndRead(t *testing.T, storage ContentStorage) {
	path := uuid.New().String() + "/users.ndjson"

	res, err := storage.Read(context.Background(), path)
	require.NoError(t, err, "failed to read missing path")
	require.False(t, res.Found)

	revision, err := storage.Create(context.Background(), path, []byte("data1"), "create")
	require.NoError(t, err, "failed to call Create")
	require.NotEmpty(t, revision)

	res, err = storage.Read(context.Background(), path)
	require.NoError(t, err, "failed to call Read")
	require.Equal(t, ReadResult{Found: true, Content: []byte("data1"), Revision: revision}, res)

	_, err = storage.Create(context.Background(), path, []byte("data2"), "create again")
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func (s *StoreTest) TestUpdate(t *testing.T, storage ContentStorage) {
	path := uuid.New().String() + "/users.json"
	revision, err := storage.Create(context.Background(), path, []byte("data1"), "create")
	require.NoError(t, err, "failed to call Create")

	newRevision, err := storage.Update(context.Background(), path, []byte("data2"), "update", revision)
	require.NoError(t, err, "failed to call Update")
	require.NotEqual(t, revision, newRevision)

	res, err := storage.Read(context.Background(), path)
	require.NoError(t, err, "failed to call Read")
	require.Equal(t, []byte("data2"), res.Content)
	require.Equal(t, newRevision, res.Revision)

	_, err = storage.Update(context.Background(), uuid.New().String()+".json", []byte("x"), "update", revision)
	require.ErrorIs(t, err, ErrNotFound)
}

func (s *StoreTest) TestConflict(t *testing.T, storage ContentStorage) {
	path := uuid.New().String() + "/users.json"
	revision, err := storage.Create(context.Background(), path, []byte("data1"), "create")
	require.NoError(t, err, "failed to call Create")
	_, err = storage.Update(context.Background(), path, []byte("data2"), "update", revision)
	require.NoError(t, err, "failed to call Update")

	_, err = storage.Update(context.Background(), path, []byte("data3"), "stale update", revision)
	require.Error(t, err, "should have returned with error")
	require.ErrorIs(t, err, ErrRevisionConflict)
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))

	res, err := storage.Read(context.Background(), path)
	require.NoError(t, err, "failed to call Read")
	require.Equal(t, []byte("data2"), res.Content, "stale write must leave content untouched")

	err = storage.Delete(context.Background(), path, "stale delete", revision)
	require.ErrorIs(t, err, ErrRevisionConflict)
}

func (s *StoreTest) TestDelete(t *testing.T, storage ContentStorage) {
	path := uuid.New().String() + "/users.json"
	revision, err := storage.Create(context.Background(), path, []byte("data1"), "create")
	require.NoError(t, err, "failed to call Create")

	require.NoError(t, storage.Delete(context.Background(), path, "delete", revision))
	res, err := storage.Read(context.Background(), path)
	require.NoError(t, err, "failed to call Read")
	require.False(t, res.Found)

	err = storage.Delete(context.Background(), path, "delete again", revision)
	require.ErrorIs(t, err, ErrNotFound)
}

func (s *StoreTest) TestListChildren(t *testing.T, storage ContentStorage) {
	root := uuid.New().String()
	for _, p := range []string{root + "/a.json", root + "/b.csv", root + "/nested/c.yaml", root + "/nested/deeper/d.json"} {
		_, err := storage.Create(context.Background(), p, []byte("{}"), "create")
		require.NoError(t, err, "failed to create %v", p)
	}

	entries, err := storage.ListChildren(context.Background(), "/"+root)
	require.NoError(t, err, "failed to call ListChildren")
	require.Equal(t, []Entry{
		{Name: "a.json", Type: EntryFile},
		{Name: "b.csv", Type: EntryFile},
		{Name: "nested", Type: EntryDir},
	}, entries)

	entries, err = storage.ListChildren(context.Background(), root+"/nested")
	require.NoError(t, err, "failed to call ListChildren")
	require.Equal(t, []Entry{
		{Name: "c.yaml", Type: EntryFile},
		{Name: "deeper", Type: EntryDir},
	}, entries)
}

func (s *StoreTest) RunAll(t *testing.T, storage ContentStorage) {
	t.Run("CreateAndRead", func(t *testing.T) { s.TestCreateAndRead(t, storage) })
	t.Run("Update", func(t *testing.T) { s.TestUpdate(t, storage) })
	t.Run("Conflict", func(t *testing.T) { s.TestConflict(t, storage) })
	t.Run("Delete", func(t *testing.T) { s.TestDelete(t, storage) })
	t.Run("ListChildren", func(t *testing.T) { s.TestListChildren(t, storage) })
}
