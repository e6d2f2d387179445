package models

import (
	"time"
)

// DeviceBlock bars a device from reward issuance. A block is either temporary
// (BlockUntil set, Permanent false) or permanent (Permanent true, BlockUntil
// ignored). Upgrading temporary to permanent is allowed, the reverse is not.
type DeviceBlock struct {
	DeviceFingerprint string    `json:"device_fingerprint" gorm:"primaryKey;size:128"`
	Reason            string    `json:"reason"`
	BlockedAt         time.Time `json:"blocked_at"`
	BlockUntil        int64     `json:"block_until"` // epoch ms, 0 when permanent
	Permanent         bool      `json:"permanent"`
	ThreatLevel       string    `json:"threat_level"`
	RiskScore         int       `json:"risk_score"`
	AutoBlocked       bool      `json:"auto_blocked"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ActiveAt reports whether the block is in force at the given epoch-ms instant.
func (b *DeviceBlock) ActiveAt(now int64) bool {
	return b.Permanent || b.BlockUntil > now
}

// Outranks reports whether this block is at least as restrictive as other.
// Permanent beats temporary; between temporaries the later expiry wins.
func (b *DeviceBlock) Outranks(other *DeviceBlock) bool {
	if b.Permanent {
		return true
	}
	if other.Permanent {
		return false
	}
	return b.BlockUntil >= other.BlockUntil
}

// DeviceProfile stores the hardware identity first reported by a device.
// Later integrity checks compare against it to detect fingerprint reuse.
type DeviceProfile struct {
	DeviceFingerprint string    `json:"device_fingerprint" gorm:"primaryKey;size:128"`
	Brand             string    `json:"brand"`
	Model             string    `json:"model"`
	SystemVersion     string    `json:"system_version"`
	BuildID           string    `json:"build_id"`
	FirstSeen         time.Time `json:"first_seen"`
	LastSeen          time.Time `json:"last_seen"`
}
