package stats

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// ErrConflict reports a uniqueness conflict on insert: another writer
	// created the row first.
	ErrConflict = errors.New("row already exists")

	// ErrVersionConflict reports that the global aggregate changed between
	// read and conditional write.
	ErrVersionConflict = errors.New("global aggregate version changed")

	ErrInvalidEvent = errors.New("invalid event")

	// ErrStatisticsNotRecorded is returned when an event was saved but its
	// contribution could not be applied to the aggregates.
	ErrStatisticsNotRecorded = errors.New("could not record statistics")
)
