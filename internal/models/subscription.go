package models

import (
	"time"
)

// Subscription platforms and verification environments.
const (
	PlatformIOS     = "ios"
	PlatformAndroid = "android"

	EnvironmentSandbox    = "sandbox"
	EnvironmentProduction = "production"
)

// Subscription plan tiers, ordered free < starter < premium < pro.
const (
	PlanFree    = "free"
	PlanStarter = "starter"
	PlanPremium = "premium"
	PlanPro     = "pro"
)

// AppUser carries the denormalized subscription fields the app reads directly,
// plus the blocked flag the receipt verifier honors.
type AppUser struct {
	UserID                string     `json:"user_id" gorm:"primaryKey;size:128"`
	Blocked               bool       `json:"blocked" gorm:"default:false"`
	SubscriptionPlan      string     `json:"subscription_plan" gorm:"default:'free'"`
	SubscriptionExpiresAt *time.Time `json:"subscription_expires_at,omitempty"`
	SubscriptionAutoRenew bool       `json:"subscription_auto_renew"`
	LastVerifiedAt        *time.Time `json:"last_verified_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// SubscriptionVerification logs every receipt verification attempt, success or
// failure. The receipt token index backs the cross-user reuse check; the most
// recent successful row per user is the authoritative subscription status.
type SubscriptionVerification struct {
	ID            uint   `json:"id" gorm:"primaryKey"`
	UUID          string `json:"uuid" gorm:"uniqueIndex"`
	UserID        string `json:"user_id" gorm:"index"`
	Platform      string `json:"platform"`
	ReceiptData   string `json:"-" gorm:"index;type:text"` // raw receipt token, not serialized
	ProductID     string `json:"product_id"`
	TransactionID string `json:"transaction_id"`
	Success       bool   `json:"success"`
	Error         string `json:"error,omitempty"`

	// Resolved status snapshot, populated on success.
	IsActive              bool   `json:"is_active"`
	Plan                  string `json:"plan"`
	ExpiresAt             int64  `json:"expires_at"` // epoch ms
	AutoRenew             bool   `json:"auto_renew"`
	OriginalTransactionID string `json:"original_transaction_id"`
	Environment           string `json:"environment"`

	Timestamp int64     `json:"timestamp" gorm:"index"` // epoch ms
	CreatedAt time.Time `json:"created_at"`
}
