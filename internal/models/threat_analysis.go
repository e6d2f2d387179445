package models

import (
	"time"
)

// ThreatAnalysis is the audit record of one threat evaluation: the triggering
// event, the resolved level and the actions taken.
type ThreatAnalysis struct {
	ID                uint      `json:"id" gorm:"primaryKey"`
	UUID              string    `json:"uuid" gorm:"uniqueIndex"`
	DeviceFingerprint string    `json:"device_fingerprint" gorm:"index"`
	EventType         string    `json:"event_type"`
	ThreatLevel       string    `json:"threat_level"`
	RiskScore         int       `json:"risk_score"`
	Actions           string    `json:"actions"` // comma separated
	Timestamp         int64     `json:"timestamp"`
	CreatedAt         time.Time `json:"created_at"`
}

// AdminAlert flags incidents that need operator attention, written by the
// instant-critical path and fanned out to the configured notification URLs.
type AdminAlert struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UUID      string    `json:"uuid" gorm:"uniqueIndex"`
	Type      string    `json:"type"`
	Details   string    `json:"details" gorm:"type:text"`
	Resolved  bool      `json:"resolved" gorm:"default:false"`
	CreatedAt time.Time `json:"created_at"`
}
