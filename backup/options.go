package backup

import (
	"time"
)

type options struct {
	now       func() time.Time
	newID     func() string
	retention Policy
	notifier  Notifier
	auditor   Auditor
}

type Option func(o *options)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithIDGenerator replaces the record id generator.
func WithIDGenerator(newID func() string) Option {
	return func(o *options) {
		o.newID = newID
	}
}

// WithRetention sets the policy applied after every successful backup.
func WithRetention(p Policy) Option {
	return func(o *options) {
		o.retention = p
	}
}

// WithNotifier sets who is told about failed backups that ask for it.
func WithNotifier(n Notifier) Option {
	return func(o *options) {
		o.notifier = n
	}
}

// WithAuditor records deletions in the audit sink.
func WithAuditor(a Auditor) Option {
	return func(o *options) {
		o.auditor = a
	}
}
