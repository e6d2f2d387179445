package models

import (
	"time"
)

// Severity classifies how serious a security event is. The four values are
// ordered: low < medium < high < critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Weight returns the risk score contribution of one event at this severity.
func (s Severity) Weight() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 3
	case SeverityHigh:
		return 7
	case SeverityCritical:
		return 15
	default:
		return 3
	}
}

// SecurityEvent is one append-only audit record. Rows are never updated or
// deleted; the threat and pattern analyzers read them within sliding windows.
type SecurityEvent struct {
	ID                uint      `json:"id" gorm:"primaryKey"`
	UUID              string    `json:"uuid" gorm:"uniqueIndex"`
	EventType         string    `json:"event_type" gorm:"index"`
	Category          string    `json:"category"`
	Severity          Severity  `json:"severity" gorm:"index"`
	DeviceFingerprint string    `json:"device_fingerprint" gorm:"index"`
	SessionID         string    `json:"session_id"`
	Details           string    `json:"details" gorm:"type:text"`
	Request           string    `json:"request" gorm:"type:text"` // redacted copy of the offending request
	Timestamp         int64     `json:"timestamp" gorm:"index"`   // epoch ms
	CreatedAt         time.Time `json:"created_at"`
}
