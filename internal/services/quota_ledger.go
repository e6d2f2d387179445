package services

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/postyhq/rewardguard/internal/logger"
	"github.com/postyhq/rewardguard/internal/models"
)

// Daily issuance caps and the minimum spacing between accepted claims.
const (
	MaxDailyTokens     = 50
	MaxDailyAds        = 10
	MinRequestInterval = time.Minute
)

// QuotaLedger enforces per-device daily caps and minimum request spacing.
// Checks read current state; the quota is charged only at Commit time so a
// claim rejected by a later stage never consumes budget.
//
// Store failures fail open: availability over strictness is a deliberate
// product decision here, not an oversight.
type QuotaLedger struct {
	db *gorm.DB
}

func NewQuotaLedger(db *gorm.DB) *QuotaLedger {
	return &QuotaLedger{db: db}
}

// CheckDaily denies a claim that would push the device past its daily cap.
// Token budgets are spent in reward units, ad budgets in accepted claims.
// Returns nil when the claim fits or the store is unavailable.
func (l *QuotaLedger) CheckDaily(device, kind string, amount, max int, now int64) *VerificationResult {
	var quota models.DailyQuota
	err := l.db.Where("device_fingerprint = ? AND date = ? AND kind = ?",
		device, dateOf(now), kind).First(&quota).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			logger.WithFields(map[string]interface{}{"device": device, "error": err}).
				Warn("daily quota read failed, failing open")
		}
		return nil
	}

	used := quota.Total
	if kind == models.ClaimKindAd {
		used = quota.RequestCount
	}
	if used+amount > max {
		return &VerificationResult{
			Reason: fmt.Sprintf("daily limit exceeded (%d/%d)", used, max),
		}
	}
	return nil
}

// CheckInterval denies a claim arriving before the minimum spacing has
// elapsed and reports when the next claim will be accepted.
func (l *QuotaLedger) CheckInterval(device string, now int64) *VerificationResult {
	var last models.LastRequest
	err := l.db.First(&last, "device_fingerprint = ?", device).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			logger.WithFields(map[string]interface{}{"device": device, "error": err}).
				Warn("last request read failed, failing open")
		}
		return nil
	}

	elapsed := now - last.Timestamp
	if elapsed < MinRequestInterval.Milliseconds() {
		return &VerificationResult{
			Reason:          "request interval too short",
			NextAllowedTime: last.Timestamp + MinRequestInterval.Milliseconds(),
		}
	}
	return nil
}

// Commit charges the quota for an accepted claim: the per-claim history row,
// the atomic daily counter increment and the last-request marker. All three
// writes are best effort. The quota day is derived from the server clock the
// checks ran against, never the client timestamp.
func (l *QuotaLedger) Commit(record *models.ClaimRecord, now int64) {
	if err := l.db.Create(record).Error; err != nil {
		logger.WithFields(map[string]interface{}{"device": record.DeviceFingerprint, "error": err}).
			Warn("claim record write failed")
	}

	quota := models.DailyQuota{
		DeviceFingerprint: record.DeviceFingerprint,
		Date:              dateOf(now),
		Kind:              record.Kind,
		Total:             record.Amount,
		RequestCount:      1,
		ViewTimeTotal:     record.ViewTime,
	}
	// Single-statement upsert; the store serializes concurrent increments.
	err := l.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "device_fingerprint"}, {Name: "date"}, {Name: "kind"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"total":           gorm.Expr("total + ?", record.Amount),
			"request_count":   gorm.Expr("request_count + 1"),
			"view_time_total": gorm.Expr("view_time_total + ?", record.ViewTime),
			"updated_at":      time.Now(),
		}),
	}).Create(&quota).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{"device": record.DeviceFingerprint, "error": err}).
			Warn("daily quota update failed")
	}

	marker := models.LastRequest{
		DeviceFingerprint: record.DeviceFingerprint,
		Timestamp:         record.Timestamp,
		TaskType:          record.TaskType,
		Amount:            record.Amount,
	}
	if err := l.db.Save(&marker).Error; err != nil {
		logger.WithFields(map[string]interface{}{"device": record.DeviceFingerprint, "error": err}).
			Warn("last request marker write failed")
	}
}

// RecentClaims returns a device's committed claims of one kind since the
// given instant, newest first, capped at limit.
func (l *QuotaLedger) RecentClaims(device, kind string, since int64, limit int) ([]models.ClaimRecord, error) {
	var records []models.ClaimRecord
	q := l.db.Where("device_fingerprint = ? AND kind = ? AND timestamp > ?", device, kind, since).
		Order("timestamp desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&records).Error
	return records, err
}

func dateOf(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02")
}
