// Copyright (C) 2025 Survey Sensei Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surveysensei/sensei/services/surveyengine/datatypes"
)

func newStore(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleSnapshot(id string) *datatypes.Snapshot {
	snap := datatypes.NewSnapshot(id, "user-1", "item-1", nil, nil)
	snap.Questions = []datatypes.Question{
		{Text: "How was it?", Options: []string{"Good", "Bad"}},
	}
	snap.AskedTexts = []string{"How was it?"}
	return snap
}

func TestBadgerStore_CreateAndLoad(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	snap := sampleSnapshot("sess-1")
	require.NoError(t, s.Create(ctx, snap))
	assert.Equal(t, uint64(1), snap.Version)

	got, err := s.Load(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.Equal(t, uint64(1), got.Version)
	require.Len(t, got.Questions, 1)
	assert.Equal(t, "How was it?", got.Questions[0].Text)

	// Loaded copies are private.
	got.Questions[0].Text = "mutated"
	again, err := s.Load(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "How was it?", again.Questions[0].Text)
}

func TestBadgerStore_CreateDuplicate(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, sampleSnapshot("sess-1")))
	err := s.Create(ctx, sampleSnapshot("sess-1"))
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestBadgerStore_LoadMissing(t *testing.T) {
	s := newStore(t)
	_, err := s.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBadgerStore_ReplaceBumpsVersion(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	snap := sampleSnapshot("sess-1")
	require.NoError(t, s.Create(ctx, snap))

	snap.TotalTurns = 1
	require.NoError(t, s.Replace(ctx, snap))
	assert.Equal(t, uint64(2), snap.Version)

	got, err := s.Load(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Version)
	assert.Equal(t, 1, got.TotalTurns)
}

func TestBadgerStore_ReplaceStaleVersion(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, sampleSnapshot("sess-1")))

	a, err := s.Load(ctx, "sess-1")
	require.NoError(t, err)
	b, err := s.Load(ctx, "sess-1")
	require.NoError(t, err)

	require.NoError(t, s.Replace(ctx, a))
	err = s.Replace(ctx, b)
	assert.ErrorIs(t, err, ErrVersionConflict)

	// The first write is still intact.
	got, err := s.Load(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Version)
}

func TestBadgerStore_ReplaceMissing(t *testing.T) {
	s := newStore(t)
	err := s.Replace(context.Background(), sampleSnapshot("ghost"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBadgerStore_Delete(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, sampleSnapshot("sess-1")))
	require.NoError(t, s.Delete(ctx, "sess-1"))
	_, err := s.Load(ctx, "sess-1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting again is a no-op.
	assert.NoError(t, s.Delete(ctx, "sess-1"))
}

// TestBadgerStore_ConcurrentReplace hammers one session from many
// goroutines, each retrying on conflict. Exactly every increment must land.
func TestBadgerStore_ConcurrentReplace(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, sampleSnapshot("sess-1")))

	const writers = 8
	const perWriter = 10

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				for {
					snap, err := s.Load(ctx, "sess-1")
					if err != nil {
						t.Error(err)
						return
					}
					snap.TotalTurns++
					err = s.Replace(ctx, snap)
					if err == nil {
						break
					}
					if err != ErrVersionConflict {
						t.Error(err)
						return
					}
				}
			}
		}()
	}
	wg.Wait()

	got, err := s.Load(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, writers*perWriter, got.TotalTurns)
	assert.Equal(t, uint64(writers*perWriter+1), got.Version)
}

func TestBadgerStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Path = dir
	cfg.GCInterval = 0

	s, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Create(context.Background(), sampleSnapshot("sess-1")))
	require.NoError(t, s.Close())

	s, err = Open(cfg)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Load(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", got.SessionID)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path")
}

func TestBadgerStore_ContextCancelled(t *testing.T) {
	s := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for name, err := range map[string]error{
		"create":  s.Create(ctx, sampleSnapshot(fmt.Sprintf("sess-%d", 1))),
		"replace": s.Replace(ctx, sampleSnapshot("sess-1")),
		"delete":  s.Delete(ctx, "sess-1"),
	} {
		assert.ErrorIs(t, err, context.Canceled, name)
	}
	_, err := s.Load(ctx, "sess-1")
	assert.ErrorIs(t, err, context.Canceled)
}
