// Package model defines the entities kept in the metadata store.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type BackupType string

const (
	TypeDatabase BackupType = "database"
	TypeFiles    BackupType = "files"
	TypeConfig   BackupType = "config"
	TypeFull     BackupType = "full"
)

var BackupTypes = []BackupType{TypeDatabase, TypeFiles, TypeConfig, TypeFull}

func ParseBackupType(s string) (BackupType, error) {
	t := BackupType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range BackupTypes {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown backup type %q", s)
}

// Resources returns the live resources a backup of this type reads, in the
// order their leases must be taken.
func (t BackupType) Resources() []string {
	switch t {
	case TypeFull:
		return []string{"config", "database", "files"}
	default:
		return []string{string(t)}
	}
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

const (
	FlagSafetyBackup = "safetyBackup"
	FlagTest         = "test"
)

// Options echoes the configuration a backup was created with.
type Options struct {
	Compress        bool            `json:"compress"`
	Description     string          `json:"description,omitempty"`
	NotifyOnFailure bool            `json:"notifyOnFailure,omitempty"`
	Flags           map[string]bool `json:"flags,omitempty"`
}

func (o Options) Flag(name string) bool {
	return o.Flags[name]
}

// WithFlag returns a copy of o with the flag set.
func (o Options) WithFlag(name string, value bool) Options {
	flags := make(map[string]bool, len(o.Flags)+1)
	for k, v := range o.Flags {
		flags[k] = v
	}
	flags[name] = value
	o.Flags = flags
	return o
}

type Record struct {
	ID          string     `gorm:"primaryKey"`
	Type        BackupType `gorm:"index;not null"`
	Status      Status     `gorm:"index;not null"`
	StartedAt   time.Time  `gorm:"index"`
	CompletedAt *time.Time
	SizeBytes   int64
	Error       string
	Options     Options    `gorm:"serializer:json"`
	Artifacts   []Artifact `gorm:"foreignKey:BackupID;constraint:OnDelete:CASCADE"`
}

func (Record) TableName() string {
	return "backup_record"
}

// Artifact is one file produced by a backup. Seq keeps the production order.
type Artifact struct {
	BackupID string `gorm:"primaryKey"`
	Seq      int    `gorm:"primaryKey;autoIncrement:false"`
	Path     string `gorm:"not null"`
	Size     int64
	Hash     int64
}

func (Artifact) TableName() string {
	return "backup_artifact"
}

// Files returns the artifact paths in production order.
func (r *Record) Files() []string {
	files := make([]string, 0, len(r.Artifacts))
	for _, a := range r.Artifacts {
		files = append(files, a.Path)
	}
	return files
}

func (r *Record) IsSafetyBackup() bool {
	return r.Options.Flag(FlagSafetyBackup)
}

func (r *Record) MarshalZerologObject(e *zerolog.Event) {
	e.Str("id", r.ID)
	e.Str("type", string(r.Type))
	e.Str("status", string(r.Status))
	e.Time("started_at", r.StartedAt)
	if r.CompletedAt != nil {
		e.Time("completed_at", *r.CompletedAt)
	}
	if r.SizeBytes > 0 {
		e.Int64("size", r.SizeBytes)
	}
	if r.Error != "" {
		e.Str("error", r.Error)
	}
	if r.Options.Description != "" {
		e.Str("description", r.Options.Description)
	}
}
