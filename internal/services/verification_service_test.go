package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"github.com/postyhq/rewardguard/internal/models"
)

func newTestVerificationService(db *gorm.DB) (*VerificationService, *Authenticator) {
	auth := NewAuthenticator("test-token-secret", "test-ad-secret")
	events := NewEventLog(db)
	blocks := NewBlockRegistry(db)
	alerts := NewAlertService(db, nil)
	threats := NewThreatAnalyzer(db, events, blocks, alerts)
	ledger := NewQuotaLedger(db)
	patterns := NewPatternAnalyzer(ledger, DefaultPatternThresholds())
	return NewVerificationService(db, auth, ledger, patterns, threats, blocks, events, false), auth
}

func TestVerificationService_TokenClaim(t *testing.T) {
	db := setupTestDB(t)
	svc, auth := newTestVerificationService(db)

	t.Run("valid claim rewards", func(t *testing.T) {
		claim := validTokenClaim(auth, time.Now().UnixMilli())
		result := svc.VerifyTokenClaim(claim)
		assert.True(t, result.Success)
		assert.Equal(t, 2, result.Reward)
		assert.False(t, result.Suspicious)

		var rec models.ClaimRecord
		assert.NoError(t, db.First(&rec, "device_fingerprint = ?", "device-1").Error)
		assert.Equal(t, "watch_ad", rec.TaskType)
	})

	t.Run("second claim too soon", func(t *testing.T) {
		claim := validTokenClaim(auth, time.Now().UnixMilli())
		result := svc.VerifyTokenClaim(claim)
		assert.False(t, result.Success)
		assert.Equal(t, "request interval too short", result.Reason)
		assert.NotZero(t, result.NextAllowedTime)
	})

	t.Run("forged signature leaves an audit trail", func(t *testing.T) {
		claim := validTokenClaim(auth, time.Now().UnixMilli())
		claim.DeviceFingerprint = "device-forger"
		// Signature still covers device-1, so verification fails.
		result := svc.VerifyTokenClaim(claim)
		assert.False(t, result.Success)
		assert.True(t, result.Blocked)

		var ev models.SecurityEvent
		assert.NoError(t, db.First(&ev, "device_fingerprint = ? AND event_type = ?",
			"device-forger", EventInvalidSignature).Error)

		var analysis models.ThreatAnalysis
		assert.NoError(t, db.First(&analysis, "device_fingerprint = ?", "device-forger").Error)
	})

	t.Run("daily cap reached", func(t *testing.T) {
		now := time.Now().UnixMilli()
		db.Create(&models.DailyQuota{
			DeviceFingerprint: "device-capped",
			Date:              dateOf(now),
			Kind:              models.ClaimKindToken,
			Total:             49,
		})
		claim := &TokenClaim{
			DeviceFingerprint: "device-capped",
			TaskType:          "daily_login",
			Timestamp:         now,
			Amount:            2,
		}
		claim.Signature = auth.TokenSignature(claim)

		result := svc.VerifyTokenClaim(claim)
		assert.False(t, result.Success)
		assert.Equal(t, "daily limit exceeded (49/50)", result.Reason)
	})

	t.Run("blocked device short-circuits", func(t *testing.T) {
		now := time.Now().UnixMilli()
		blocks := NewBlockRegistry(db)
		assert.NoError(t, blocks.BlockPermanent("device-banned", "fraud", "critical", now))

		claim := &TokenClaim{
			DeviceFingerprint: "device-banned",
			TaskType:          "watch_ad",
			Timestamp:         now,
			Amount:            1,
		}
		claim.Signature = auth.TokenSignature(claim)

		result := svc.VerifyTokenClaim(claim)
		assert.False(t, result.Success)
		assert.True(t, result.Blocked)
		assert.Equal(t, "device permanently blocked", result.Reason)
	})
}

func TestVerificationService_AdClaim(t *testing.T) {
	db := setupTestDB(t)
	svc, auth := newTestVerificationService(db)

	t.Run("valid claim rewards", func(t *testing.T) {
		claim := validAdClaim(auth, time.Now().UnixMilli())
		result := svc.VerifyAdClaim(claim)
		assert.True(t, result.Success)
		assert.Equal(t, 2, result.Reward)
	})

	t.Run("ad daily cap reached", func(t *testing.T) {
		now := time.Now().UnixMilli()
		db.Create(&models.DailyQuota{
			DeviceFingerprint: "device-adcap",
			Date:              dateOf(now),
			Kind:              models.ClaimKindAd,
			Total:             20,
			RequestCount:      10,
		})
		claim := &AdClaim{
			DeviceFingerprint: "device-adcap",
			AdUnitID:          "unit-main",
			SessionID:         "sess-1",
			Timestamp:         now,
			ViewTime:          47500,
			RewardAmount:      2,
		}
		claim.Signature = auth.AdSignature(claim)

		result := svc.VerifyAdClaim(claim)
		assert.False(t, result.Success)
		assert.Equal(t, "daily limit exceeded (10/10)", result.Reason)
	})

	t.Run("eleventh ad of the day denied", func(t *testing.T) {
		now := time.Now().UnixMilli()
		viewTimes := []int64{16500, 47123, 95321, 112777, 31919, 78301, 105911, 22391, 88103, 53717}

		for i, vt := range viewTimes {
			claim := &AdClaim{
				DeviceFingerprint: "device-eleven",
				AdUnitID:          "unit-main",
				SessionID:         fmt.Sprintf("sess-%d", i),
				Timestamp:         now - 590000 + int64(i)*55000,
				ViewTime:          vt,
				RewardAmount:      2,
			}
			claim.Signature = auth.AdSignature(claim)
			result := svc.VerifyAdClaim(claim)
			assert.True(t, result.Success, "ad %d should be accepted", i+1)
			assert.Equal(t, 2, result.Reward)
		}

		claim := &AdClaim{
			DeviceFingerprint: "device-eleven",
			AdUnitID:          "unit-main",
			SessionID:         "sess-11",
			Timestamp:         now,
			ViewTime:          47500,
			RewardAmount:      2,
		}
		claim.Signature = auth.AdSignature(claim)

		result := svc.VerifyAdClaim(claim)
		assert.False(t, result.Success)
		assert.Equal(t, "daily limit exceeded (10/10)", result.Reason)
		assert.False(t, result.Blocked)
	})

	t.Run("scripted view times trigger a block", func(t *testing.T) {
		now := time.Now().UnixMilli()
		// History of five identical view times; the sixth claim trips the
		// variance heuristic.
		seedClaims(t, db, "device-bot", models.ClaimKindAd, "s1",
			[]int64{45123, 45123, 45123, 45123, 45123},
			[]int64{71321, 83777, 65431, 92113}, now)

		claim := &AdClaim{
			DeviceFingerprint: "device-bot",
			AdUnitID:          "unit-main",
			SessionID:         "sess-2",
			Timestamp:         now,
			ViewTime:          45123,
			RewardAmount:      2,
		}
		claim.Signature = auth.AdSignature(claim)

		result := svc.VerifyAdClaim(claim)
		assert.False(t, result.Success)
		assert.True(t, result.Blocked)
		assert.Equal(t, "suspicious ad view pattern detected", result.Reason)

		var block models.DeviceBlock
		assert.NoError(t, db.First(&block, "device_fingerprint = ?", "device-bot").Error)
		assert.Equal(t, ReasonConsistentViewTimes, block.Reason)
	})
}

func TestVerificationService_AdNetworkStrictMode(t *testing.T) {
	db := setupTestDB(t)
	auth := NewAuthenticator("test-token-secret", "test-ad-secret")
	events := NewEventLog(db)
	blocks := NewBlockRegistry(db)
	alerts := NewAlertService(db, nil)
	threats := NewThreatAnalyzer(db, events, blocks, alerts)
	ledger := NewQuotaLedger(db)
	patterns := NewPatternAnalyzer(ledger, DefaultPatternThresholds())
	svc := NewVerificationService(db, auth, ledger, patterns, threats, blocks, events, true)

	now := time.Now().UnixMilli()

	t.Run("missing impression blocks as a critical threat", func(t *testing.T) {
		claim := validAdClaim(auth, now)
		result := svc.VerifyAdClaim(claim)
		assert.False(t, result.Success)
		assert.True(t, result.Blocked)
		assert.Equal(t, "ad network verification data missing", result.Reason)

		var block models.DeviceBlock
		assert.NoError(t, db.First(&block, "device_fingerprint = ?", claim.DeviceFingerprint).Error)
		assert.True(t, block.Permanent)

		var alert models.AdminAlert
		assert.NoError(t, db.First(&alert, "type = ?", "critical_threat").Error)
	})

	t.Run("impression present passes", func(t *testing.T) {
		claim := &AdClaim{
			DeviceFingerprint: "device-imp",
			AdUnitID:          "unit-main",
			SessionID:         "sess-1",
			Timestamp:         now,
			ViewTime:          47500,
			RewardAmount:      2,
			ImpressionID:      "imp-123",
		}
		claim.Signature = auth.AdSignature(claim)
		result := svc.VerifyAdClaim(claim)
		assert.True(t, result.Success)
	})
}

func TestVerificationService_DeviceIntegrity(t *testing.T) {
	db := setupTestDB(t)
	svc, _ := newTestVerificationService(db)
	now := time.Now().UnixMilli()

	first := &IntegrityRequest{
		DeviceFingerprint: "device-1",
		HardwareInfo: HardwareInfo{
			Brand: "google", Model: "Pixel 8", SystemVersion: "14", BuildID: "UQ1A",
		},
		Timestamp: now,
	}

	t.Run("first sighting registers the profile", func(t *testing.T) {
		result := svc.VerifyDeviceIntegrity(first)
		assert.True(t, result.Success)

		var profile models.DeviceProfile
		assert.NoError(t, db.First(&profile, "device_fingerprint = ?", "device-1").Error)
		assert.Equal(t, "Pixel 8", profile.Model)
	})

	t.Run("matching hardware passes", func(t *testing.T) {
		result := svc.VerifyDeviceIntegrity(first)
		assert.True(t, result.Success)
	})

	t.Run("changed hardware flags and blocks", func(t *testing.T) {
		changed := &IntegrityRequest{
			DeviceFingerprint: "device-1",
			HardwareInfo: HardwareInfo{
				Brand: "samsung", Model: "SM-S918B", SystemVersion: "14",
			},
			Timestamp: now,
		}
		result := svc.VerifyDeviceIntegrity(changed)
		assert.False(t, result.Success)
		assert.True(t, result.Suspicious)
		assert.Equal(t, "device information mismatch", result.Reason)

		var ev models.SecurityEvent
		assert.NoError(t, db.First(&ev, "device_fingerprint = ? AND event_type = ?",
			"device-1", EventHardwareMismatch).Error)

		// Hardware mismatch is a critical threat; the analyzer blocks.
		var block models.DeviceBlock
		assert.NoError(t, db.First(&block, "device_fingerprint = ?", "device-1").Error)
		assert.True(t, block.Permanent)
	})
}
