package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/m2osw/ipload/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SaveAndLoadAll(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "blocks.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	rec := &model.BlockRecord{
		IP:         "203.0.113.5",
		Scheme:     "http",
		BlockUntil: time.Now().Add(time.Hour).Truncate(time.Second).UTC(),
		Reason:     "flood",
		Status:     model.BlockBanned,
		BanCount:   2,
	}
	require.NoError(t, s.Save(ctx, rec))

	loaded, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, rec.IP, loaded[0].IP)
	assert.Equal(t, rec.Scheme, loaded[0].Scheme)
	assert.Equal(t, rec.BlockUntil, loaded[0].BlockUntil)
	assert.EqualValues(t, 2, loaded[0].BanCount)
}

func TestStore_SaveUpsertsOnConflict(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "blocks.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	rec := &model.BlockRecord{IP: "203.0.113.9", Scheme: "ssh", Status: model.BlockBanned, BlockUntil: time.Now().UTC()}
	require.NoError(t, s.Save(ctx, rec))

	rec.Scheme = "all"
	require.NoError(t, s.Save(ctx, rec))

	loaded, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "all", loaded[0].Scheme)
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "blocks.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	rec := &model.BlockRecord{IP: "203.0.113.10", Scheme: "http", Status: model.BlockBanned, BlockUntil: time.Now().UTC()}
	require.NoError(t, s.Save(ctx, rec))
	require.NoError(t, s.Delete(ctx, rec.IP))

	loaded, err := s.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}
