package model

import "time"

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type AuditEvent struct {
	ID       string    `gorm:"primaryKey"`
	At       time.Time `gorm:"index"`
	Severity Severity  `gorm:"index"`
	Action   string    `gorm:"index"`
	Subject  string
	Details  map[string]string `gorm:"serializer:json"`
}

func (AuditEvent) TableName() string {
	return "audit_event"
}
