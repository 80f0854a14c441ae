package inmem

import (
	"context"
	"testing"

	"github.com/breez/data-store/store"
	"github.com/stretchr/testify/require"
)

func TestMemoryContentStorage(t *testing.T) {
	(&store.StoreTest{}).RunAll(t, NewMemoryContentStorage())
}

func TestLastMessage(t *testing.T) {
	storage := NewMemoryContentStorage()
	revision, err := storage.Create(context.Background(), "a.json", []byte("{}"), "first")
	require.NoError(t, err)
	_, err = storage.Update(context.Background(), "/a.json", []byte("[]"), "second", revision)
	require.NoError(t, err)
	require.Equal(t, "second", storage.LastMessage("a.json"))
	require.Equal(t, "", storage.LastMessage("missing.json"))
}
