package models

import (
	"time"
)

// Claim kinds tracked by the quota ledger.
const (
	ClaimKindToken = "token"
	ClaimKindAd    = "ad"
)

// DailyQuota accumulates a device's reward issuance for one calendar day and
// claim kind. Created on the first claim of the day, mutated only through
// atomic increments, never deleted.
type DailyQuota struct {
	DeviceFingerprint string    `json:"device_fingerprint" gorm:"primaryKey;size:128"`
	Date              string    `json:"date" gorm:"primaryKey;size:10"` // YYYY-MM-DD
	Kind              string    `json:"kind" gorm:"primaryKey;size:8"`
	Total             int       `json:"total"`
	RequestCount      int       `json:"request_count"`
	ViewTimeTotal     int64     `json:"view_time_total"` // ms, ad claims only
	UpdatedAt         time.Time `json:"updated_at"`
}

// LastRequest records the most recent accepted claim per device. Overwritten
// on every commit; the ledger reads it to enforce the minimum interval.
type LastRequest struct {
	DeviceFingerprint string    `json:"device_fingerprint" gorm:"primaryKey;size:128"`
	Timestamp         int64     `json:"timestamp"` // epoch ms
	TaskType          string    `json:"task_type"`
	Amount            int       `json:"amount"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ClaimRecord is the per-claim history row the pattern analyzer reads. One row
// per committed claim, kind discriminates token versus ad claims.
type ClaimRecord struct {
	ID                uint      `json:"id" gorm:"primaryKey"`
	DeviceFingerprint string    `json:"device_fingerprint" gorm:"index"`
	Kind              string    `json:"kind" gorm:"index;size:8"`
	TaskType          string    `json:"task_type"` // task type or ad unit id
	SessionID         string    `json:"session_id" gorm:"index"`
	Amount            int       `json:"amount"`
	ViewTime          int64     `json:"view_time"` // ms, ad claims only
	Success           bool      `json:"success"`
	Timestamp         int64     `json:"timestamp" gorm:"index"` // epoch ms
	CreatedAt         time.Time `json:"created_at"`
}
