package services

// TokenClaim is a generic reward claim (task completion, daily login, etc).
// Transient: it exists only for the duration of one verification call.
type TokenClaim struct {
	DeviceFingerprint string                 `json:"deviceFingerprint"`
	TaskType          string                 `json:"taskType"`
	Timestamp         int64                  `json:"timestamp"` // client epoch ms
	Amount            int                    `json:"amount"`
	Signature         string                 `json:"signature"`
	SessionID         string                 `json:"sessionId,omitempty"`
	UserAgent         string                 `json:"userAgent,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

// AdClaim is a rewarded-ad completion claim.
type AdClaim struct {
	DeviceFingerprint string `json:"deviceFingerprint"`
	AdUnitID          string `json:"adUnitId"`
	SessionID         string `json:"sessionId"`
	Timestamp         int64  `json:"timestamp"`
	ViewTime          int64  `json:"viewTime"` // ms
	RewardAmount      int    `json:"rewardAmount"`
	Signature         string `json:"signature"`
	ImpressionID      string `json:"impressionId,omitempty"`
}

// HardwareInfo is the device identity reported by integrity checks.
type HardwareInfo struct {
	Brand         string `json:"brand"`
	Model         string `json:"model"`
	SystemVersion string `json:"systemVersion"`
	BuildID       string `json:"buildId"`
}

// IntegrityRequest asks whether a device's reported hardware still matches
// what was recorded when the fingerprint was first seen.
type IntegrityRequest struct {
	DeviceFingerprint string       `json:"deviceFingerprint"`
	HardwareInfo      HardwareInfo `json:"hardwareInfo"`
	Timestamp         int64        `json:"timestamp"`
}

// VerificationResult is the envelope every claim verification returns. A
// rejected claim and an errored claim both come back with Success false; the
// Reason distinguishes them for the client.
type VerificationResult struct {
	Success         bool   `json:"success"`
	Reward          int    `json:"reward,omitempty"`
	Reason          string `json:"reason,omitempty"`
	Blocked         bool   `json:"blocked,omitempty"`
	Suspicious      bool   `json:"suspicious,omitempty"`
	NextAllowedTime int64  `json:"nextAllowedTime,omitempty"`
}

// Rejection couples a failed verification result with the security event type
// to record for it. A nil *Rejection means the check passed.
type Rejection struct {
	EventType string
	Result    VerificationResult
}
