package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wildfs/wildfs/pkg/types"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func container(name string, paths []string, backendTypes ...string) types.Container {
	c := types.Container{ID: uuid.New(), Name: name, Paths: paths}
	for _, bt := range backendTypes {
		c.Storages = append(c.Storages, types.Storage{
			ID:          uuid.New(),
			BackendType: bt,
			Config:      []byte(`{"volume":"` + name + `"}`),
		})
	}
	return c
}

func TestStoreSaveAndGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	c := container("home", []string{"/home", "/users"}, "InMemory", "S3")
	require.NoError(t, s.Save(ctx, c))

	got, err := s.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestStoreSaveReplacesStorages(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	c := container("data", []string{"/data"}, "InMemory", "InMemory")
	require.NoError(t, s.Save(ctx, c))

	c.Name = "renamed"
	c.Storages = []types.Storage{c.Storages[1]}
	require.NoError(t, s.Save(ctx, c))

	got, err := s.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	require.Len(t, got.Storages, 1)
	assert.Equal(t, c.Storages[0].ID, got.Storages[0].ID)
}

func TestStoreKeepsStorageOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	c := container("ordered", []string{"/ordered"}, "S3", "InMemory", "LocalFilesystem")
	require.NoError(t, s.Save(ctx, c))

	got, err := s.Get(ctx, c.ID)
	require.NoError(t, err)
	var order []string
	for _, st := range got.Storages {
		order = append(order, st.BackendType)
	}
	assert.Equal(t, []string{"S3", "InMemory", "LocalFilesystem"}, order)
}

func TestStoreDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	c := container("tmp", []string{"/tmp"}, "InMemory")
	require.NoError(t, s.Save(ctx, c))
	require.NoError(t, s.Delete(ctx, c.ID))

	_, err := s.Get(ctx, c.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, c.ID), ErrNotFound)

	// Storages went with the container, so their ids are free again.
	other := container("other", []string{"/other"})
	other.Storages = c.Storages
	assert.NoError(t, s.Save(ctx, other))
}

func TestStoreDeleteByPath(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	a := container("a", []string{"/projects"})
	b := container("b", []string{"/projects/x", "/elsewhere"})
	c := container("c", []string{"/projectsx"})
	for _, ct := range []types.Container{a, b, c} {
		require.NoError(t, s.Save(ctx, ct))
	}

	removed, err := s.DeleteByPath(ctx, "/projects", false)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a.ID}, removed)

	require.NoError(t, s.Save(ctx, a))
	removed, err = s.DeleteByPath(ctx, "/projects/", true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{a.ID, b.ID}, removed)

	left, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, c.ID, left[0].ID)
}

func TestStoreListOrderedByName(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, s.Save(ctx, container(name, []string{"/" + name})))
	}

	all, err := s.List(ctx)
	require.NoError(t, err)
	var names []string
	for _, c := range all {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)
}

func TestStorePersistsAcrossOpen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "catalog.db")

	s, err := Open(path, nil)
	require.NoError(t, err)
	c := container("persisted", []string{"/persisted"}, "InMemory")
	require.NoError(t, s.Save(ctx, c))
	require.NoError(t, s.Close())

	s, err = Open(path, nil)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	dup := uuid.New()
	tests := []struct {
		name string
		c    types.Container
	}{
		{"missing id", types.Container{Name: "x", Paths: []string{"/x"}}},
		{"missing name", types.Container{ID: uuid.New(), Paths: []string{"/x"}}},
		{"no paths", types.Container{ID: uuid.New(), Name: "x"}},
		{"relative path", types.Container{ID: uuid.New(), Name: "x", Paths: []string{"x"}}},
		{"storage without type", types.Container{ID: uuid.New(), Name: "x", Paths: []string{"/x"},
			Storages: []types.Storage{{ID: uuid.New()}}}},
		{"duplicate storage", types.Container{ID: uuid.New(), Name: "x", Paths: []string{"/x"},
			Storages: []types.Storage{{ID: dup, BackendType: "InMemory"}, {ID: dup, BackendType: "InMemory"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, Validate(tt.c), ErrInvalidContainer)
		})
	}

	s := openStore(t)
	assert.ErrorIs(t, s.Save(context.Background(), tests[0].c), ErrInvalidContainer)
}

func TestArenaReturnsCopies(t *testing.T) {
	t.Parallel()

	a := NewArena()
	c := container("home", []string{"/home"}, "InMemory")
	require.NoError(t, a.Put(c))

	// Mutating the original after Put does not reach the arena.
	c.Paths[0] = "/changed"
	c.Storages[0].Config[0] = 'X'

	got, ok := a.Get(c.ID)
	require.True(t, ok)
	assert.Equal(t, "/home", got.Paths[0])
	assert.Equal(t, byte('{'), got.Storages[0].Config[0])

	// Nor does mutating a returned copy.
	got.Paths[0] = "/again"
	again, _ := a.Get(c.ID)
	assert.Equal(t, "/home", again.Paths[0])
}

func TestArenaOperations(t *testing.T) {
	t.Parallel()

	a := NewArena()
	b := container("b", []string{"/b"})
	x := container("a", []string{"/a"})
	require.NoError(t, a.Put(b))
	require.NoError(t, a.Put(x))
	assert.Equal(t, 2, a.Len())

	list := a.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Name)

	assert.True(t, a.Remove(x.ID))
	assert.False(t, a.Remove(x.ID))
	_, ok := a.Get(x.ID)
	assert.False(t, ok)

	assert.ErrorIs(t, a.Put(types.Container{ID: uuid.New()}), ErrInvalidContainer)
}

func TestArenaLoad(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	c1 := container("one", []string{"/one"}, "InMemory")
	c2 := container("two", []string{"/two"})
	require.NoError(t, s.Save(ctx, c1))
	require.NoError(t, s.Save(ctx, c2))

	a := NewArena()
	require.NoError(t, a.Load(ctx, s))
	assert.Equal(t, 2, a.Len())
	got, ok := a.Get(c1.ID)
	require.True(t, ok)
	assert.Equal(t, c1, got)
}
