package services

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/postyhq/rewardguard/internal/logger"
	"github.com/postyhq/rewardguard/internal/metrics"
	"github.com/postyhq/rewardguard/internal/models"
)

// Event categories recorded alongside security events.
const (
	categoryTokenVerification = "token_verification"
	categoryAdVerification    = "ad_verification"
	categoryDeviceIntegrity   = "device_integrity"
)

const patternBlockTTL = 24 * time.Hour

// VerificationService is the claim pipeline: authenticate, short-circuit on
// blocks, enforce quotas, analyze patterns, escalate threats, then commit.
// Each call is stateless; all cross-call state lives in the store.
type VerificationService struct {
	auth            *Authenticator
	ledger          *QuotaLedger
	patterns        *PatternAnalyzer
	threats         *ThreatAnalyzer
	blocks          *BlockRegistry
	events          *EventLog
	db              *gorm.DB
	strictAdNetwork bool
	now             func() time.Time
}

func NewVerificationService(db *gorm.DB, auth *Authenticator, ledger *QuotaLedger,
	patterns *PatternAnalyzer, threats *ThreatAnalyzer, blocks *BlockRegistry,
	events *EventLog, strictAdNetwork bool) *VerificationService {
	return &VerificationService{
		auth:            auth,
		ledger:          ledger,
		patterns:        patterns,
		threats:         threats,
		blocks:          blocks,
		events:          events,
		db:              db,
		strictAdNetwork: strictAdNetwork,
		now:             time.Now,
	}
}

// VerifyTokenClaim validates a generic reward claim end to end and returns
// the result envelope. Rejections stemming from adversarial input leave an
// audit event behind before returning.
func (s *VerificationService) VerifyTokenClaim(claim *TokenClaim) VerificationResult {
	now := s.now().UnixMilli()

	if rej := s.auth.VetTokenClaim(claim, now); rej != nil {
		s.events.Append(rej.EventType, categoryTokenVerification, claim.DeviceFingerprint,
			claim.SessionID, rej.Result.Reason, claim, now)
		if rej.EventType == EventInvalidSignature {
			s.threats.Analyze(&ThreatRequest{
				DeviceFingerprint: claim.DeviceFingerprint,
				EventType:         EventInvalidSignature,
				Timestamp:         now,
			})
		}
		metrics.IncClaim(models.ClaimKindToken, "rejected")
		return rej.Result
	}

	if status := s.blocks.IsBlocked(claim.DeviceFingerprint, now); status.Blocked {
		metrics.IncClaim(models.ClaimKindToken, "blocked")
		return VerificationResult{Reason: status.Reason, Blocked: true}
	}

	if deny := s.ledger.CheckDaily(claim.DeviceFingerprint, models.ClaimKindToken,
		claim.Amount, MaxDailyTokens, now); deny != nil {
		metrics.IncClaim(models.ClaimKindToken, "rejected")
		return *deny
	}

	if deny := s.ledger.CheckInterval(claim.DeviceFingerprint, now); deny != nil {
		metrics.IncClaim(models.ClaimKindToken, "rejected")
		return *deny
	}

	report := s.patterns.AnalyzeTokenClaims(claim.DeviceFingerprint, claim.SessionID, now)
	if report.Suspicious {
		s.events.Append(EventSuspiciousPattern, categoryTokenVerification, claim.DeviceFingerprint,
			claim.SessionID, strings.Join(report.Reasons, ","), claim, now)
		s.threats.Analyze(&ThreatRequest{
			DeviceFingerprint: claim.DeviceFingerprint,
			EventType:         EventSuspiciousPattern,
			Timestamp:         now,
		})
	}

	s.ledger.Commit(&models.ClaimRecord{
		DeviceFingerprint: claim.DeviceFingerprint,
		Kind:              models.ClaimKindToken,
		TaskType:          claim.TaskType,
		SessionID:         claim.SessionID,
		Amount:            claim.Amount,
		Success:           true,
		Timestamp:         claim.Timestamp,
	}, now)

	metrics.IncClaim(models.ClaimKindToken, "accepted")
	return VerificationResult{Success: true, Reward: claim.Amount, Suspicious: report.Suspicious}
}

// VerifyAdClaim validates a rewarded-ad completion claim. Pattern heuristics
// strong enough to block trigger a 24-hour device block naming the heuristic.
func (s *VerificationService) VerifyAdClaim(claim *AdClaim) VerificationResult {
	now := s.now().UnixMilli()

	if rej := s.auth.VetAdClaim(claim, now); rej != nil {
		s.events.Append(rej.EventType, categoryAdVerification, claim.DeviceFingerprint,
			claim.SessionID, rej.Result.Reason, claim, now)
		if rej.EventType == EventAdInvalidSignature {
			s.threats.Analyze(&ThreatRequest{
				DeviceFingerprint: claim.DeviceFingerprint,
				EventType:         EventAdInvalidSignature,
				Timestamp:         now,
			})
		}
		metrics.IncClaim(models.ClaimKindAd, "rejected")
		return rej.Result
	}

	if status := s.blocks.IsBlocked(claim.DeviceFingerprint, now); status.Blocked {
		metrics.IncClaim(models.ClaimKindAd, "blocked")
		return VerificationResult{Reason: status.Reason, Blocked: true}
	}

	if deny := s.ledger.CheckDaily(claim.DeviceFingerprint, models.ClaimKindAd,
		1, MaxDailyAds, now); deny != nil {
		metrics.IncClaim(models.ClaimKindAd, "rejected")
		return *deny
	}

	report := s.patterns.AnalyzeAdClaims(claim.DeviceFingerprint, claim.SessionID, now)
	if report.Blocked {
		reason := "suspicious_ad_pattern"
		if len(report.Reasons) > 0 {
			reason = report.Reasons[0]
		}
		if err := s.blocks.Block(claim.DeviceFingerprint, reason, patternBlockTTL, now); err != nil {
			logger.WithFields(map[string]interface{}{"device": claim.DeviceFingerprint, "error": err}).
				Error("pattern block failed")
		}
		s.events.Append(EventSuspiciousPattern, categoryAdVerification, claim.DeviceFingerprint,
			claim.SessionID, strings.Join(report.Reasons, ","), claim, now)
		metrics.IncClaim(models.ClaimKindAd, "blocked")
		return VerificationResult{Reason: "suspicious ad view pattern detected", Blocked: true}
	}

	if rej := s.checkAdNetwork(claim, now); rej != nil {
		metrics.IncClaim(models.ClaimKindAd, "rejected")
		return rej.Result
	}

	s.ledger.Commit(&models.ClaimRecord{
		DeviceFingerprint: claim.DeviceFingerprint,
		Kind:              models.ClaimKindAd,
		TaskType:          claim.AdUnitID,
		SessionID:         claim.SessionID,
		Amount:            claim.RewardAmount,
		ViewTime:          claim.ViewTime,
		Success:           true,
		Timestamp:         claim.Timestamp,
	}, now)

	metrics.IncClaim(models.ClaimKindAd, "accepted")
	return VerificationResult{Success: true, Reward: claim.RewardAmount, Suspicious: report.Suspicious}
}

// checkAdNetwork requires an ad network impression id when the server runs in
// strict (production) mode. Full server-side verification happens through the
// ad network callback; this only rejects claims with no impression at all.
// A missing impression in strict mode is treated as a confirmed critical
// threat and takes the instant block path.
func (s *VerificationService) checkAdNetwork(claim *AdClaim, now int64) *Rejection {
	if claim.ImpressionID != "" || !s.strictAdNetwork {
		return nil
	}
	rej := &Rejection{
		EventType: EventAdNetworkCheckFailed,
		Result:    VerificationResult{Reason: "ad network verification data missing", Blocked: true},
	}
	s.events.Append(rej.EventType, categoryAdVerification, claim.DeviceFingerprint,
		claim.SessionID, rej.Result.Reason, claim, now)
	s.threats.HandleCriticalThreat(claim.DeviceFingerprint, EventAdNetworkCheckFailed, now)
	return rej
}

// VerifyDeviceIntegrity compares reported hardware against the profile stored
// when the fingerprint was first seen. A brand or model change means the
// fingerprint has moved between physical devices.
func (s *VerificationService) VerifyDeviceIntegrity(req *IntegrityRequest) VerificationResult {
	now := s.now().UnixMilli()

	var profile models.DeviceProfile
	err := s.db.First(&profile, "device_fingerprint = ?", req.DeviceFingerprint).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		profile = models.DeviceProfile{
			DeviceFingerprint: req.DeviceFingerprint,
			Brand:             req.HardwareInfo.Brand,
			Model:             req.HardwareInfo.Model,
			SystemVersion:     req.HardwareInfo.SystemVersion,
			BuildID:           req.HardwareInfo.BuildID,
			FirstSeen:         time.UnixMilli(now),
			LastSeen:          time.UnixMilli(now),
		}
		if err := s.db.Create(&profile).Error; err != nil {
			logger.WithFields(map[string]interface{}{"device": req.DeviceFingerprint, "error": err}).
				Warn("device profile create failed")
			return VerificationResult{Reason: "device verification error"}
		}
		return VerificationResult{Success: true}
	}
	if err != nil {
		return VerificationResult{Reason: "device verification error"}
	}

	if profile.Brand != req.HardwareInfo.Brand || profile.Model != req.HardwareInfo.Model {
		s.events.Append(EventHardwareMismatch, categoryDeviceIntegrity, req.DeviceFingerprint,
			"", "hardware information changed", req, now)
		s.threats.Analyze(&ThreatRequest{
			DeviceFingerprint: req.DeviceFingerprint,
			EventType:         EventHardwareMismatch,
			Timestamp:         now,
		})
		return VerificationResult{Reason: "device information mismatch", Suspicious: true}
	}

	profile.LastSeen = time.UnixMilli(now)
	if err := s.db.Save(&profile).Error; err != nil {
		logger.WithFields(map[string]interface{}{"device": req.DeviceFingerprint, "error": err}).
			Warn("device profile touch failed")
	}
	return VerificationResult{Success: true}
}
