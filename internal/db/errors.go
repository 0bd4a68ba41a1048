// Package db provides GORM-based persistence for recall.
package db

import "errors"

var (
	// ErrSessionNotRegistered is returned when a write references a memory
	// session whose parent session row does not exist. Callers wrap it with
	// the offending session id.
	ErrSessionNotRegistered = errors.New("session not registered")

	// ErrMemorySessionMismatch is returned when a session already carries a
	// different memory session id than the one being written.
	ErrMemorySessionMismatch = errors.New("memory session id mismatch")

	// ErrSessionNotFound is returned when a session lookup by id finds nothing.
	ErrSessionNotFound = errors.New("session not found")

	// ErrProjectExists is returned by rename when the target project already
	// holds rows in any table.
	ErrProjectExists = errors.New("project already exists")

	// ErrProjectNotFound is returned when a project operation references a
	// project with no rows in any table.
	ErrProjectNotFound = errors.New("project not found")

	// ErrSameProject is returned when a rename or merge names the same
	// project on both sides.
	ErrSameProject = errors.New("source and target project are the same")
)
