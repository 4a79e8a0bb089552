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
	"fmt"
	"os"
	"sync"
	"time"
)

// auditLogFileMode restricts read/write to owner only. The trail records
// what a user answered about their purchases, which is itself sensitive.
const auditLogFileMode = 0600

// FileSink appends entries to a JSONL file, one record per line. Writes
// are serialized by a mutex and carry a monotonically increasing sequence
// number initialized from the existing file on open.
type FileSink struct {
	file     *os.File
	path     string
	mu       sync.Mutex
	sequence int64
}

var _ Sink = (*FileSink)(nil)

// NewFileSink opens (or creates) the audit file at path.
func NewFileSink(path string) (*FileSink, error) {
	sequence, err := lastSequence(path)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, auditLogFileMode)
	if err != nil {
		return nil, fmt.Errorf("open audit log %s: %w", path, err)
	}
	return &FileSink{file: f, path: path, sequence: sequence}, nil
}

// lastSequence scans an existing audit file for the highest sequence
// number so the chain continues across restarts.
func lastSequence(path string) (int64, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open audit log %s: %w", path, err)
	}
	defer f.Close()

	var last int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		if e.Sequence > last {
			last = e.Sequence
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan audit log %s: %w", path, err)
	}
	return last, nil
}

func (s *FileSink) Record(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sequence++
	entry.Sequence = s.sequence

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	if _, err := s.file.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
