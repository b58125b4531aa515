package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case Daily, Weekly, Monthly:
		return f, nil
	default:
		return "", fmt.Errorf("unknown frequency %q", s)
	}
}

type ScheduleEntry struct {
	ID        string     `gorm:"primaryKey"`
	Type      BackupType `gorm:"not null"`
	Frequency Frequency  `gorm:"not null"`
	Enabled   bool       `gorm:"index"`
	// Anchor is the original scheduling time. Runs keep its clock time and,
	// for monthly schedules, its day of month.
	Anchor    time.Time
	LastRun   *time.Time
	NextRun   time.Time `gorm:"index"`
	CreatedAt time.Time
	Options   Options `gorm:"serializer:json"`
}

func (ScheduleEntry) TableName() string {
	return "schedule_entry"
}

func (s *ScheduleEntry) MarshalZerologObject(e *zerolog.Event) {
	e.Str("id", s.ID)
	e.Str("type", string(s.Type))
	e.Str("frequency", string(s.Frequency))
	e.Bool("enabled", s.Enabled)
	e.Time("next_run", s.NextRun)
	if s.LastRun != nil {
		e.Time("last_run", *s.LastRun)
	}
}
