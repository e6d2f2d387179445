package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Authenticator vets the shape, freshness and keyed signature of incoming
// reward claims. It holds no store handle: every check is pure so the
// orchestrator decides what to log and when.
type Authenticator struct {
	tokenSecret []byte
	adSecret    []byte
}

const (
	tokenSkewWindow = 5 * time.Minute
	adSkewWindow    = 10 * time.Minute

	adRewardAmount = 2
	minAdViewTime  = 15000  // ms
	maxAdViewTime  = 120000 // ms
)

var validTokenAmounts = map[int]bool{1: true, 2: true, 3: true, 5: true, 10: true}

var validTaskTypes = map[string]bool{
	"watch_ad":      true,
	"invite_friend": true,
	"rate_app":      true,
	"share_social":  true,
	"daily_login":   true,
}

func NewAuthenticator(tokenSecret, adSecret string) *Authenticator {
	return &Authenticator{tokenSecret: []byte(tokenSecret), adSecret: []byte(adSecret)}
}

// VetTokenClaim runs the ordered token claim checks: field presence, skew
// window, sanctioned amount, allow-listed task type, then the signature.
// Returns nil when the claim passes.
func (a *Authenticator) VetTokenClaim(claim *TokenClaim, now int64) *Rejection {
	if claim.DeviceFingerprint == "" || claim.TaskType == "" || claim.Signature == "" {
		return &Rejection{
			EventType: EventBasicValidationFailed,
			Result:    VerificationResult{Reason: "missing required fields"},
		}
	}

	if absDiff(now, claim.Timestamp) > tokenSkewWindow.Milliseconds() {
		return &Rejection{
			EventType: EventBasicValidationFailed,
			Result:    VerificationResult{Reason: "request timestamp outside allowed window"},
		}
	}

	if !validTokenAmounts[claim.Amount] {
		return &Rejection{
			EventType: EventBasicValidationFailed,
			Result:    VerificationResult{Reason: "invalid reward amount", Suspicious: true},
		}
	}

	if !validTaskTypes[claim.TaskType] {
		return &Rejection{
			EventType: EventBasicValidationFailed,
			Result:    VerificationResult{Reason: "invalid task type"},
		}
	}

	if !a.verify(a.tokenSecret, tokenCanonical(claim), claim.Signature) {
		return &Rejection{
			EventType: EventInvalidSignature,
			Result:    VerificationResult{Reason: "request signature invalid", Blocked: true},
		}
	}

	return nil
}

// VetAdClaim runs the ad claim checks: field presence, skew window, the fixed
// reward amount, signature, then view-time plausibility.
func (a *Authenticator) VetAdClaim(claim *AdClaim, now int64) *Rejection {
	if claim.DeviceFingerprint == "" || claim.SessionID == "" || claim.Signature == "" {
		return &Rejection{
			EventType: EventAdValidationFailed,
			Result:    VerificationResult{Reason: "missing required fields"},
		}
	}

	if absDiff(now, claim.Timestamp) > adSkewWindow.Milliseconds() {
		return &Rejection{
			EventType: EventAdValidationFailed,
			Result:    VerificationResult{Reason: "request timestamp outside allowed window"},
		}
	}

	if claim.RewardAmount != adRewardAmount {
		return &Rejection{
			EventType: EventAdValidationFailed,
			Result:    VerificationResult{Reason: "invalid reward amount", Suspicious: true},
		}
	}

	if !a.verify(a.adSecret, adCanonical(claim), claim.Signature) {
		return &Rejection{
			EventType: EventAdInvalidSignature,
			Result:    VerificationResult{Reason: "ad request signature invalid", Blocked: true},
		}
	}

	if rej := vetViewTime(claim.ViewTime); rej != nil {
		return rej
	}

	return nil
}

// vetViewTime rejects implausible view durations. A duration that is an exact
// second multiple at 30 s or more reads as scripted rather than human.
func vetViewTime(viewTime int64) *Rejection {
	switch {
	case viewTime < minAdViewTime:
		return &Rejection{
			EventType: EventAdInvalidViewTime,
			Result:    VerificationResult{Reason: "ad view time too short", Suspicious: true},
		}
	case viewTime > maxAdViewTime:
		return &Rejection{
			EventType: EventAdInvalidViewTime,
			Result:    VerificationResult{Reason: "ad view time implausibly long", Suspicious: true},
		}
	case viewTime%1000 == 0 && viewTime >= 30000:
		return &Rejection{
			EventType: EventAdInvalidViewTime,
			Result:    VerificationResult{Reason: "suspicious ad view pattern", Suspicious: true},
		}
	}
	return nil
}

// TokenSignature computes the expected signature for a token claim. Exposed
// for trusted clients and tests.
func (a *Authenticator) TokenSignature(claim *TokenClaim) string {
	return sign(a.tokenSecret, tokenCanonical(claim))
}

// AdSignature computes the expected signature for an ad claim.
func (a *Authenticator) AdSignature(claim *AdClaim) string {
	return sign(a.adSecret, adCanonical(claim))
}

// tokenCanonical builds the signed string for token claims. Field order is
// part of the wire contract: device, task, timestamp, amount.
func tokenCanonical(claim *TokenClaim) string {
	return fmt.Sprintf("%s-%s-%d-%d", claim.DeviceFingerprint, claim.TaskType, claim.Timestamp, claim.Amount)
}

// adCanonical builds the signed string for ad claims: ad unit, timestamp,
// amount, device, session.
func adCanonical(claim *AdClaim) string {
	return fmt.Sprintf("%s-%d-%d-%s-%s", claim.AdUnitID, claim.Timestamp, claim.RewardAmount,
		claim.DeviceFingerprint, claim.SessionID)
}

func sign(secret []byte, canonical string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}

// verify compares in constant time so the check leaks no timing signal.
func (a *Authenticator) verify(secret []byte, canonical, signature string) bool {
	expected := sign(secret, canonical)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
