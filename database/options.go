package database

import (
	"time"

	"github.com/stupid-simple/intake-backup/model"
)

type findRecordsOptions struct {
	limit         int
	types         []model.BackupType
	statuses      []model.Status
	startedBefore time.Time
	oldestFirst   bool
	withArtifacts bool
}

type FindRecordsOptions func(*findRecordsOptions)

// Limit the number of records returned.
func WithLimit(limit int) FindRecordsOptions {
	return func(o *findRecordsOptions) {
		o.limit = limit
	}
}

// Only return records of the given types.
func WithTypes(types ...model.BackupType) FindRecordsOptions {
	return func(o *findRecordsOptions) {
		o.types = append(o.types, types...)
	}
}

// Only return records in one of the given statuses.
func WithStatuses(statuses ...model.Status) FindRecordsOptions {
	return func(o *findRecordsOptions) {
		o.statuses = append(o.statuses, statuses...)
	}
}

// Only return records started strictly before t.
func WithStartedBefore(t time.Time) FindRecordsOptions {
	return func(o *findRecordsOptions) {
		o.startedBefore = t
	}
}

// Return records oldest first. Newest first is the default.
func WithOldestFirst() FindRecordsOptions {
	return func(o *findRecordsOptions) {
		o.oldestFirst = true
	}
}

// Load the artifacts of every returned record.
func WithArtifacts() FindRecordsOptions {
	return func(o *findRecordsOptions) {
		o.withArtifacts = true
	}
}
