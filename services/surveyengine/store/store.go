// Copyright (C) 2025 Survey Sensei Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store persists survey session snapshots.
//
// The only implementation is an embedded BadgerDB store. Snapshots carry a
// monotonically increasing version; Replace refuses to overwrite a snapshot
// whose stored version differs from the one the caller loaded, so a lost
// update can never silently drop a turn even if two writers race past the
// session manager's per-session lock.
package store

import (
	"context"
	"errors"

	"github.com/surveysensei/sensei/services/surveyengine/datatypes"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrNotFound is returned when no session exists under the given id.
	ErrNotFound = errors.New("session not found")

	// ErrAlreadyExists is returned by Create when the session id is taken.
	ErrAlreadyExists = errors.New("session already exists")

	// ErrVersionConflict is returned by Replace when the stored snapshot
	// has moved past the version the caller loaded.
	ErrVersionConflict = errors.New("session version conflict")
)

// =============================================================================
// Interface
// =============================================================================

// SessionStore is the persistence boundary for session snapshots.
//
// Implementations must be safe for concurrent use. Load returns a private
// copy the caller may mutate freely.
type SessionStore interface {
	// Create persists a new snapshot at version 1. Fails with
	// ErrAlreadyExists if the session id is already present.
	Create(ctx context.Context, snap *datatypes.Snapshot) error

	// Load fetches the snapshot for a session id, or ErrNotFound.
	Load(ctx context.Context, sessionID string) (*datatypes.Snapshot, error)

	// Replace overwrites the stored snapshot if and only if its stored
	// version equals snap.Version. On success the stored (and passed)
	// snapshot's version is bumped by one. A mismatch returns
	// ErrVersionConflict and leaves the stored state untouched.
	Replace(ctx context.Context, snap *datatypes.Snapshot) error

	// Delete removes a session. Deleting an absent id is not an error.
	Delete(ctx context.Context, sessionID string) error

	// Close releases the underlying database.
	Close() error
}
