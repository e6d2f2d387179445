package services

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/postyhq/rewardguard/internal/logger"
	"github.com/postyhq/rewardguard/internal/metrics"
	"github.com/postyhq/rewardguard/internal/models"
)

// Auto-block sweep tuning: per-event weights, the aggregate threshold and the
// TTL handed to devices the sweep catches.
const (
	sweepLookback      = time.Hour
	sweepCriticalScore = 10
	sweepHighScore     = 5
	sweepThreshold     = 20
	sweepBlockTTL      = 24 * time.Hour
)

// BlockStatus is the answer to an IsBlocked query.
type BlockStatus struct {
	Blocked bool
	Reason  string
}

// BlockRegistry persists and checks device blocks. Writes never weaken an
// existing block: the registry keeps the more restrictive of the stored and
// incoming records, so a maintenance sweep racing a real-time critical block
// cannot shorten it.
type BlockRegistry struct {
	db *gorm.DB
}

func NewBlockRegistry(db *gorm.DB) *BlockRegistry {
	return &BlockRegistry{db: db}
}

// IsBlocked reports whether the device is blocked at the given epoch-ms
// instant. Store errors fail open.
func (r *BlockRegistry) IsBlocked(device string, now int64) BlockStatus {
	var block models.DeviceBlock
	err := r.db.First(&block, "device_fingerprint = ?", device).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			logger.WithFields(map[string]interface{}{"device": device, "error": err}).
				Warn("device block read failed, failing open")
		}
		return BlockStatus{}
	}

	if block.Permanent {
		return BlockStatus{Blocked: true, Reason: "device permanently blocked"}
	}
	if block.BlockUntil > now {
		until := time.UnixMilli(block.BlockUntil).UTC().Format(time.RFC3339)
		return BlockStatus{Blocked: true, Reason: fmt.Sprintf("device blocked until %s", until)}
	}
	return BlockStatus{}
}

// Block writes a TTL block. See upsert for the keep-stronger merge.
func (r *BlockRegistry) Block(device, reason string, ttl time.Duration, now int64) error {
	return r.upsert(&models.DeviceBlock{
		DeviceFingerprint: device,
		Reason:            reason,
		BlockedAt:         time.UnixMilli(now),
		BlockUntil:        now + ttl.Milliseconds(),
	})
}

// BlockPermanent writes a permanent block.
func (r *BlockRegistry) BlockPermanent(device, reason, threatLevel string, now int64) error {
	return r.upsert(&models.DeviceBlock{
		DeviceFingerprint: device,
		Reason:            reason,
		BlockedAt:         time.UnixMilli(now),
		Permanent:         true,
		ThreatLevel:       threatLevel,
	})
}

// upsert stores the block, keeping the more restrictive of the incoming and
// any existing record. Runs in a transaction so a concurrent sweep and a
// real-time block serialize instead of last-write-wins clobbering.
func (r *BlockRegistry) upsert(incoming *models.DeviceBlock) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var existing models.DeviceBlock
		err := tx.First(&existing, "device_fingerprint = ?", incoming.DeviceFingerprint).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(incoming).Error
		}
		if err != nil {
			return err
		}

		if existing.Outranks(incoming) {
			// Existing block is at least as strong; refresh metadata only.
			if incoming.RiskScore > existing.RiskScore {
				existing.RiskScore = incoming.RiskScore
			}
			return tx.Save(&existing).Error
		}
		return tx.Save(incoming).Error
	})
	if err != nil {
		return fmt.Errorf("persist device block: %w", err)
	}
	metrics.IncDeviceBlock()
	return nil
}

// SweepSuspicious scans the last hour of high and critical events, scores
// each device and blocks every one crossing the threshold for 24 hours.
// Idempotent and safe to run while claims are being processed.
func (r *BlockRegistry) SweepSuspicious(events *EventLog, now int64) (int, error) {
	recent, err := events.HighSeveritySince(now - sweepLookback.Milliseconds())
	if err != nil {
		return 0, fmt.Errorf("load recent events: %w", err)
	}

	scores := map[string]int{}
	for _, ev := range recent {
		if ev.Severity == models.SeverityCritical {
			scores[ev.DeviceFingerprint] += sweepCriticalScore
		} else {
			scores[ev.DeviceFingerprint] += sweepHighScore
		}
	}

	blocked := 0
	for device, score := range scores {
		if score < sweepThreshold {
			continue
		}
		block := &models.DeviceBlock{
			DeviceFingerprint: device,
			Reason:            "auto-blocked for suspicious activity",
			BlockedAt:         time.UnixMilli(now),
			BlockUntil:        now + sweepBlockTTL.Milliseconds(),
			RiskScore:         score,
			AutoBlocked:       true,
		}
		if err := r.upsert(block); err != nil {
			logger.WithFields(map[string]interface{}{"device": device, "error": err}).
				Warn("sweep block failed")
			continue
		}
		blocked++
	}

	if blocked > 0 {
		logger.WithFields(map[string]interface{}{"count": blocked}).Info("auto-blocked suspicious devices")
	}
	return blocked, nil
}

// CountBlocked returns the number of block records on file.
func (r *BlockRegistry) CountBlocked() (int64, error) {
	var n int64
	err := r.db.Model(&models.DeviceBlock{}).Count(&n).Error
	return n, err
}
