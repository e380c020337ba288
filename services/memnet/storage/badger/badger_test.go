// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/memnet/services/memnet/graph"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen(t *testing.T) {
	t.Run("persistent requires path", func(t *testing.T) {
		_, err := Open(Config{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "path is required")
	})

	t.Run("persistent survives reopen", func(t *testing.T) {
		dir := t.TempDir()
		cfg := DefaultConfig()
		cfg.Path = dir
		cfg.GCInterval = time.Hour

		db, err := Open(cfg)
		require.NoError(t, err)
		assert.Equal(t, dir, db.Path())
		assert.False(t, db.InMemory())
		require.NoError(t, db.WithTxn(context.Background(), func(txn *badger.Txn) error {
			return txn.Set([]byte("k"), []byte("v"))
		}))
		require.NoError(t, db.Close())

		db, err = Open(cfg)
		require.NoError(t, err)
		defer db.Close()
		require.NoError(t, db.WithReadTxn(context.Background(), func(txn *badger.Txn) error {
			item, err := txn.Get([]byte("k"))
			if err != nil {
				return err
			}
			return item.Value(func(val []byte) error {
				assert.Equal(t, []byte("v"), val)
				return nil
			})
		}))
	})
}

func TestDB_WithTxn(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	t.Run("error rolls back", func(t *testing.T) {
		boom := errors.New("boom")
		err := db.WithTxn(ctx, func(txn *badger.Txn) error {
			require.NoError(t, txn.Set([]byte("rolled"), []byte("back")))
			return boom
		})
		assert.ErrorIs(t, err, boom)

		err = db.WithReadTxn(ctx, func(txn *badger.Txn) error {
			_, err := txn.Get([]byte("rolled"))
			return err
		})
		assert.ErrorIs(t, err, badger.ErrKeyNotFound)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := db.WithTxn(cctx, func(*badger.Txn) error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
		err = db.WithReadTxn(cctx, func(*badger.Txn) error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestGCRunner(t *testing.T) {
	db := openTestDB(t)

	_, err := NewGCRunner(nil, time.Second, 0.5, nil)
	assert.Error(t, err)
	_, err = NewGCRunner(db.DB, 0, 0.5, nil)
	assert.Error(t, err)
	_, err = NewGCRunner(db.DB, time.Second, 1.5, nil)
	assert.Error(t, err)

	runner, err := NewGCRunner(db.DB, 10*time.Millisecond, 0.5, nil)
	require.NoError(t, err)
	runner.Start()
	runner.Start()
	time.Sleep(30 * time.Millisecond)
	runner.Stop()
	runner.Stop()

	idle, err := NewGCRunner(db.DB, time.Second, 0.5, nil)
	require.NoError(t, err)
	idle.Stop()
}

func kitchenGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.New()
	for _, a := range []graph.Attributes{
		graph.MustAttrs("uuid", "a1", "type", "action", "memory", "stm", "utterances", []string{"pour"}),
		graph.MustAttrs("uuid", "o1", "type", "object", "utterances", []string{"glass", "cup"}, "weight", 0.25),
		graph.MustAttrs("uuid", "o2", "type", "object", "fragile", true),
	} {
		_, err := g.AddNode(a)
		require.NoError(t, err)
	}
	_, err := g.AddLink("a1", "o1", graph.LinkHasPart)
	require.NoError(t, err)
	_, err = g.AddLink("o1", "o2", graph.LinkSpecTo)
	require.NoError(t, err)
	return g
}

func TestSnapshotStore_SaveLoad(t *testing.T) {
	store := NewSnapshotStore(openTestDB(t), nil)
	ctx := context.Background()
	g := kitchenGraph(t)

	info, err := store.Save(ctx, "kitchen", g)
	require.NoError(t, err)
	assert.Equal(t, 3, info.Nodes)
	assert.Equal(t, 2, info.Links)
	assert.Positive(t, info.SizeBytes)

	back, err := store.Load(ctx, "kitchen")
	require.NoError(t, err)
	assert.Equal(t, g.NodeIDs(), back.NodeIDs())
	for n := range g.Nodes() {
		got, ok := back.GetNode(n.ID)
		require.True(t, ok)
		assert.True(t, n.Attrs.Equal(got.Attrs), "node %s", n.ID)
		assert.Equal(t, n.Attrs.Keys(), got.Attrs.Keys())
	}
	assert.True(t, back.HasLink("a1", "o1", graph.LinkHasPart))
	assert.True(t, back.HasLink("o1", "o2", graph.LinkSpecTo))
}

func TestSnapshotStore_Overwrite(t *testing.T) {
	store := NewSnapshotStore(openTestDB(t), nil)
	ctx := context.Background()

	_, err := store.Save(ctx, "s", kitchenGraph(t))
	require.NoError(t, err)

	small := graph.New()
	_, err = small.AddNode(graph.MustAttrs("uuid", "only"))
	require.NoError(t, err)
	_, err = store.Save(ctx, "s", small)
	require.NoError(t, err)

	back, err := store.Load(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, back.NodeIDs())
	assert.Zero(t, back.LinkCount())
}

func TestSnapshotStore_ListDelete(t *testing.T) {
	store := NewSnapshotStore(openTestDB(t), nil)
	ctx := context.Background()

	for _, name := range []string{"b", "a", "a.b"} {
		_, err := store.Save(ctx, name, kitchenGraph(t))
		require.NoError(t, err)
	}
	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "a", list[0].Name)
	assert.Equal(t, "a.b", list[1].Name)
	assert.Equal(t, "b", list[2].Name)

	require.NoError(t, store.Delete(ctx, "a"))
	_, err = store.Load(ctx, "a")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
	err = store.Delete(ctx, "a")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)

	back, err := store.Load(ctx, "a.b")
	require.NoError(t, err)
	assert.Equal(t, 3, back.NodeCount())
}

func TestSnapshotStore_Errors(t *testing.T) {
	db := openTestDB(t)
	store := NewSnapshotStore(db, nil)
	ctx := context.Background()

	_, err := store.Save(ctx, "a/b", graph.New())
	assert.ErrorIs(t, err, ErrInvalidSnapshotName)
	_, err = store.Load(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidSnapshotName)
	_, err = store.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)

	t.Run("crc mismatch", func(t *testing.T) {
		_, err := store.Save(ctx, "bad", kitchenGraph(t))
		require.NoError(t, err)
		require.NoError(t, db.WithTxn(ctx, func(txn *badger.Txn) error {
			return txn.Set(entryKey(nodePrefix("bad"), 1), []byte{0, 0, 0, 0, '{', '}'})
		}))
		_, err = store.Load(ctx, "bad")
		assert.ErrorIs(t, err, ErrSnapshotCorrupted)
	})

	t.Run("count mismatch", func(t *testing.T) {
		_, err := store.Save(ctx, "short", kitchenGraph(t))
		require.NoError(t, err)
		require.NoError(t, db.WithTxn(ctx, func(txn *badger.Txn) error {
			return txn.Delete(entryKey(linkPrefix("short"), 1))
		}))
		_, err = store.Load(ctx, "short")
		assert.ErrorIs(t, err, ErrSnapshotCorrupted)
	})
}
