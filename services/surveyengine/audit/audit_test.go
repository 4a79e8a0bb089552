// Copyright (C) 2025 Survey Sensei Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEntries(t *testing.T, path string) []Entry {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		out = append(out, e)
	}
	require.NoError(t, scanner.Err())
	return out
}

func TestFileSink_AppendsJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	s, err := NewFileSink(path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Record(ctx, Entry{SessionID: "sess-1", Kind: KindSessionStarted}))
	require.NoError(t, s.Record(ctx, Entry{
		SessionID:      "sess-1",
		Kind:           KindAnswerRecorded,
		QuestionNumber: 1,
		Question:       "How was it?",
		Detail:         "Great",
	}))
	require.NoError(t, s.Close())

	entries := readEntries(t, path)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1), entries[0].Sequence)
	assert.Equal(t, int64(2), entries[1].Sequence)
	assert.Equal(t, KindAnswerRecorded, entries[1].Kind)
	assert.False(t, entries[0].Timestamp.IsZero())
}

func TestFileSink_SequenceSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	ctx := context.Background()

	s, err := NewFileSink(path)
	require.NoError(t, err)
	require.NoError(t, s.Record(ctx, Entry{SessionID: "sess-1", Kind: KindSessionStarted}))
	require.NoError(t, s.Close())

	s, err = NewFileSink(path)
	require.NoError(t, err)
	require.NoError(t, s.Record(ctx, Entry{SessionID: "sess-1", Kind: KindQuestionAsked}))
	require.NoError(t, s.Close())

	entries := readEntries(t, path)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(2), entries[1].Sequence)
}

func TestFileSink_ConcurrentWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	s, err := NewFileSink(path)
	require.NoError(t, err)

	const writers = 10
	const perWriter = 20
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_ = s.Record(context.Background(), Entry{SessionID: "sess-1", Kind: KindAnswerRecorded})
			}
		}()
	}
	wg.Wait()
	require.NoError(t, s.Close())

	entries := readEntries(t, path)
	require.Len(t, entries, writers*perWriter)
	seen := make(map[int64]bool, len(entries))
	for _, e := range entries {
		assert.False(t, seen[e.Sequence], "duplicate sequence %d", e.Sequence)
		seen[e.Sequence] = true
	}
}

type failingSink struct{ err error }

func (f failingSink) Record(context.Context, Entry) error { return f.err }
func (f failingSink) Close() error                        { return f.err }

type countingSink struct{ records int }

func (c *countingSink) Record(context.Context, Entry) error { c.records++; return nil }
func (c *countingSink) Close() error                        { return nil }

func TestMultiSink_RecordsAllDespiteFailure(t *testing.T) {
	boom := errors.New("boom")
	counter := &countingSink{}
	m := NewMultiSink(failingSink{err: boom}, counter)

	err := m.Record(context.Background(), Entry{SessionID: "sess-1", Kind: KindSessionStarted})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, counter.records)
}

func TestNopSink(t *testing.T) {
	var s NopSink
	assert.NoError(t, s.Record(context.Background(), Entry{}))
	assert.NoError(t, s.Close())
}
