package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/postyhq/rewardguard/internal/config"
	"github.com/postyhq/rewardguard/internal/logger"
	"github.com/postyhq/rewardguard/internal/metrics"
	"github.com/postyhq/rewardguard/internal/models"
)

// ErrUpstreamVerification marks a transport-level failure against an app
// store endpoint. Retryable, and never to be read as a fraud signal.
var ErrUpstreamVerification = errors.New("upstream verification unavailable")

// App Store verification status codes the verifier acts on.
const (
	appleStatusOK             = 0
	appleStatusSandboxReceipt = 21007 // sandbox receipt sent to production
	appleStatusUnauthorized   = 21010 // receipt tampering
)

const (
	verifyTimeout    = 30 * time.Second
	velocityWindow   = time.Minute
	velocityLimit    = 3
	googleOAuthScope = "https://www.googleapis.com/auth/androidpublisher"
	jwtBearerGrant   = "urn:ietf:params:oauth:grant-type:jwt-bearer"
)

// SubscriptionReceipt is the inbound receipt verification request.
type SubscriptionReceipt struct {
	Platform      string `json:"platform"`
	ReceiptData   string `json:"receiptData"`
	ProductID     string `json:"productId"`
	TransactionID string `json:"transactionId"`
	UserID        string `json:"userId"`
}

// SubscriptionStatus is the resolved subscription state returned to callers.
type SubscriptionStatus struct {
	IsActive              bool   `json:"isActive"`
	Plan                  string `json:"plan"`
	ExpiresAt             string `json:"expiresAt,omitempty"` // RFC3339
	AutoRenew             bool   `json:"autoRenew"`
	OriginalTransactionID string `json:"originalTransactionId,omitempty"`
	Environment           string `json:"environment"`
	LastVerifiedAt        string `json:"lastVerifiedAt"`

	expiresAtMS int64
}

// VerificationOutcome is the envelope a receipt verification returns.
type VerificationOutcome struct {
	Success     bool                `json:"success"`
	Status      *SubscriptionStatus `json:"status,omitempty"`
	Error       string              `json:"error,omitempty"`
	ShouldBlock bool                `json:"shouldBlock,omitempty"`
}

// SubscriptionVerifier validates purchase receipts against the platform
// verification services, guards against replay and reuse, and resolves the
// user's current subscription state.
type SubscriptionVerifier struct {
	db     *gorm.DB
	apple  config.AppleConfig
	google config.GoogleConfig
	client *http.Client
	now    func() time.Time
}

func NewSubscriptionVerifier(db *gorm.DB, apple config.AppleConfig, google config.GoogleConfig) *SubscriptionVerifier {
	return &SubscriptionVerifier{
		db:     db,
		apple:  apple,
		google: google,
		client: &http.Client{Timeout: verifyTimeout},
		now:    time.Now,
	}
}

// VerifyReceipt runs input validation, the security pre-checks and the
// platform verification, persisting the outcome either way so the reuse
// check always has a complete log to read.
func (v *SubscriptionVerifier) VerifyReceipt(ctx context.Context, receipt *SubscriptionReceipt) VerificationOutcome {
	if !validReceiptInput(receipt) {
		outcome := VerificationOutcome{Error: "invalid receipt data", ShouldBlock: true}
		v.logVerification(receipt, outcome)
		return outcome
	}

	if reason := v.securityCheck(receipt); reason != "" {
		outcome := VerificationOutcome{Error: reason, ShouldBlock: true}
		v.logVerification(receipt, outcome)
		return outcome
	}

	var outcome VerificationOutcome
	if receipt.Platform == models.PlatformIOS {
		outcome = v.verifyApple(ctx, receipt)
	} else {
		outcome = v.verifyGoogle(ctx, receipt)
	}

	if outcome.Success && outcome.Status != nil {
		v.saveStatus(receipt.UserID, outcome.Status)
		metrics.IncReceiptVerification(receipt.Platform, "success")
	} else {
		metrics.IncReceiptVerification(receipt.Platform, "failure")
	}
	v.logVerification(receipt, outcome)

	return outcome
}

func validReceiptInput(receipt *SubscriptionReceipt) bool {
	if receipt.Platform != models.PlatformIOS && receipt.Platform != models.PlatformAndroid {
		return false
	}
	return receipt.ReceiptData != "" && receipt.ProductID != "" && receipt.UserID != ""
}

// securityCheck runs the pre-verification guards in order: blocked user,
// verification velocity, then cross-user receipt reuse. Returns the reject
// reason or "" when all pass.
func (v *SubscriptionVerifier) securityCheck(receipt *SubscriptionReceipt) string {
	var user models.AppUser
	err := v.db.First(&user, "user_id = ?", receipt.UserID).Error
	if err == nil && user.Blocked {
		return "user is blocked"
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "security check failed"
	}

	since := v.now().Add(-velocityWindow).UnixMilli()
	var recent int64
	if err := v.db.Model(&models.SubscriptionVerification{}).
		Where("user_id = ? AND timestamp > ?", receipt.UserID, since).
		Count(&recent).Error; err != nil {
		return "security check failed"
	}
	if recent >= velocityLimit {
		return "too many verification requests"
	}

	// One purchase receipt must not unlock entitlement for multiple accounts.
	var reused int64
	if err := v.db.Model(&models.SubscriptionVerification{}).
		Where("receipt_data = ? AND user_id <> ?", receipt.ReceiptData, receipt.UserID).
		Limit(1).Count(&reused).Error; err != nil {
		return "security check failed"
	}
	if reused > 0 {
		return "receipt reuse detected"
	}

	return ""
}

// --- Apple flow ---

type appleReceiptEntry struct {
	ExpiresDateMS         string `json:"expires_date_ms"`
	AutoRenewStatus       string `json:"auto_renew_status"`
	OriginalTransactionID string `json:"original_transaction_id"`
	ProductID             string `json:"product_id"`
}

type appleVerifyResponse struct {
	Status            int                 `json:"status"`
	Environment       string              `json:"environment"`
	LatestReceiptInfo []appleReceiptEntry `json:"latest_receipt_info"`
}

// verifyApple calls the production endpoint first; status 21007 means the
// receipt belongs to the sandbox environment and triggers exactly one retry
// against the sandbox endpoint. That redirect is a platform contract, not a
// generic retry.
func (v *SubscriptionVerifier) verifyApple(ctx context.Context, receipt *SubscriptionReceipt) VerificationOutcome {
	payload := map[string]interface{}{
		"receipt-data":             receipt.ReceiptData,
		"password":                 v.apple.SharedSecret,
		"exclude-old-transactions": true,
	}

	resp, err := v.postApple(ctx, v.apple.ProductionURL, payload)
	if err == nil && resp.Status == appleStatusSandboxReceipt {
		resp, err = v.postApple(ctx, v.apple.SandboxURL, payload)
	}
	if err != nil {
		logger.WithFields(map[string]interface{}{"error": err}).Warn("apple verification unreachable")
		return VerificationOutcome{Error: "verification service unavailable"}
	}

	if resp.Status != appleStatusOK {
		return VerificationOutcome{
			Error:       fmt.Sprintf("app store verification failed: %d", resp.Status),
			ShouldBlock: resp.Status == appleStatusUnauthorized,
		}
	}

	entry := latestAppleEntry(resp.LatestReceiptInfo)
	if entry == nil {
		return VerificationOutcome{Error: "no valid subscription found"}
	}

	expiresMS, _ := strconv.ParseInt(entry.ExpiresDateMS, 10, 64)
	env := models.EnvironmentProduction
	if strings.EqualFold(resp.Environment, "Sandbox") {
		env = models.EnvironmentSandbox
	}

	status := &SubscriptionStatus{
		IsActive:              expiresMS > v.now().UnixMilli(),
		Plan:                  PlanForProduct(receipt.ProductID),
		ExpiresAt:             time.UnixMilli(expiresMS).UTC().Format(time.RFC3339),
		AutoRenew:             entry.AutoRenewStatus == "1",
		OriginalTransactionID: entry.OriginalTransactionID,
		Environment:           env,
		LastVerifiedAt:        v.now().UTC().Format(time.RFC3339),
		expiresAtMS:           expiresMS,
	}
	return VerificationOutcome{Success: true, Status: status}
}

func (v *SubscriptionVerifier) postApple(ctx context.Context, endpoint string, payload map[string]interface{}) (*appleVerifyResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamVerification, err)
	}
	defer resp.Body.Close()

	var parsed appleVerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUpstreamVerification, err)
	}
	return &parsed, nil
}

// latestAppleEntry picks the authoritative subscription entry: the one with
// the greatest expiry timestamp.
func latestAppleEntry(entries []appleReceiptEntry) *appleReceiptEntry {
	if len(entries) == 0 {
		return nil
	}
	sorted := make([]appleReceiptEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		a, _ := strconv.ParseInt(sorted[i].ExpiresDateMS, 10, 64)
		b, _ := strconv.ParseInt(sorted[j].ExpiresDateMS, 10, 64)
		return a > b
	})
	return &sorted[0]
}

// --- Google flow ---

type googleSubscription struct {
	ExpiryTimeMillis string `json:"expiryTimeMillis"`
	AutoRenewing     bool   `json:"autoRenewing"`
	OrderID          string `json:"orderId"`
	PurchaseType     *int   `json:"purchaseType,omitempty"`
}

// verifyGoogle exchanges the service-account credential for an access token
// and queries the publisher API for the subscription purchase.
func (v *SubscriptionVerifier) verifyGoogle(ctx context.Context, receipt *SubscriptionReceipt) VerificationOutcome {
	token, err := v.googleAccessToken(ctx)
	if err != nil {
		logger.WithFields(map[string]interface{}{"error": err}).Warn("google token exchange failed")
		return VerificationOutcome{Error: "verification service unavailable"}
	}

	endpoint := fmt.Sprintf("%s/applications/%s/purchases/subscriptions/%s/tokens/%s",
		v.google.PublisherURL, v.google.PackageName,
		url.PathEscape(receipt.ProductID), url.PathEscape(receipt.ReceiptData))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return VerificationOutcome{Error: "verification service unavailable"}
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.client.Do(req)
	if err != nil {
		logger.WithFields(map[string]interface{}{"error": err}).Warn("google verification unreachable")
		return VerificationOutcome{Error: "verification service unavailable"}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return VerificationOutcome{Error: fmt.Sprintf("play store verification failed: %d", resp.StatusCode)}
	}

	var sub googleSubscription
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return VerificationOutcome{Error: "verification service unavailable"}
	}

	expiryMS, _ := strconv.ParseInt(sub.ExpiryTimeMillis, 10, 64)
	env := models.EnvironmentSandbox
	if sub.PurchaseType != nil && *sub.PurchaseType == 0 {
		// purchaseType 0 marks a test purchase in the publisher API, but the
		// original mapping read it as production; kept for compatibility.
		env = models.EnvironmentProduction
	}

	status := &SubscriptionStatus{
		IsActive:              expiryMS > v.now().UnixMilli(),
		Plan:                  PlanForProduct(receipt.ProductID),
		ExpiresAt:             time.UnixMilli(expiryMS).UTC().Format(time.RFC3339),
		AutoRenew:             sub.AutoRenewing,
		OriginalTransactionID: sub.OrderID,
		Environment:           env,
		LastVerifiedAt:        v.now().UTC().Format(time.RFC3339),
		expiresAtMS:           expiryMS,
	}
	return VerificationOutcome{Success: true, Status: status}
}

// googleAccessToken signs a service-account assertion and exchanges it for a
// short-lived publisher API token.
func (v *SubscriptionVerifier) googleAccessToken(ctx context.Context) (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(v.google.PrivateKey))
	if err != nil {
		return "", fmt.Errorf("parse service account key: %w", err)
	}

	now := v.now()
	claims := jwt.MapClaims{
		"iss":   v.google.ClientEmail,
		"scope": googleOAuthScope,
		"aud":   v.google.TokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign service account assertion: %w", err)
	}

	form := url.Values{}
	form.Set("grant_type", jwtBearerGrant)
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.google.TokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstreamVerification, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token exchange failed: %d", resp.StatusCode)
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%w: decode token response: %v", ErrUpstreamVerification, err)
	}
	if parsed.AccessToken == "" {
		return "", errors.New("empty access token")
	}
	return parsed.AccessToken, nil
}

// PlanForProduct maps a product id to its plan tier by substring. Precedence
// is starter, then premium, then pro; a product id matching several tier
// names resolves to the first. Unknown ids default to starter.
func PlanForProduct(productID string) string {
	switch {
	case strings.Contains(productID, models.PlanStarter):
		return models.PlanStarter
	case strings.Contains(productID, models.PlanPremium):
		return models.PlanPremium
	case strings.Contains(productID, models.PlanPro):
		return models.PlanPro
	default:
		return models.PlanStarter
	}
}

// saveStatus persists the denormalized plan fields on the user record.
func (v *SubscriptionVerifier) saveStatus(userID string, status *SubscriptionStatus) {
	expires := time.UnixMilli(status.expiresAtMS)
	verified := v.now()
	user := models.AppUser{
		UserID:                userID,
		SubscriptionPlan:      status.Plan,
		SubscriptionExpiresAt: &expires,
		SubscriptionAutoRenew: status.AutoRenew,
		LastVerifiedAt:        &verified,
	}
	if err := v.db.Save(&user).Error; err != nil {
		logger.WithFields(map[string]interface{}{"user": userID, "error": err}).
			Warn("user subscription update failed")
	}
}

// logVerification writes the verification log row, success or failure. The
// reuse check reads this log, so skipping failures would blind it.
func (v *SubscriptionVerifier) logVerification(receipt *SubscriptionReceipt, outcome VerificationOutcome) {
	row := models.SubscriptionVerification{
		UUID:          uuid.NewString(),
		UserID:        receipt.UserID,
		Platform:      receipt.Platform,
		ReceiptData:   receipt.ReceiptData,
		ProductID:     receipt.ProductID,
		TransactionID: receipt.TransactionID,
		Success:       outcome.Success,
		Error:         outcome.Error,
		Timestamp:     v.now().UnixMilli(),
	}
	if outcome.Status != nil {
		row.IsActive = outcome.Status.IsActive
		row.Plan = outcome.Status.Plan
		row.ExpiresAt = outcome.Status.expiresAtMS
		row.AutoRenew = outcome.Status.AutoRenew
		row.OriginalTransactionID = outcome.Status.OriginalTransactionID
		row.Environment = outcome.Status.Environment
	}
	if err := v.db.Create(&row).Error; err != nil {
		logger.WithFields(map[string]interface{}{"user": receipt.UserID, "error": err}).
			Warn("verification log write failed")
	}
}

// Status returns the user's current subscription state from the most recent
// successful verification, or nil when none exists.
func (v *SubscriptionVerifier) Status(userID string) (*SubscriptionStatus, error) {
	var row models.SubscriptionVerification
	err := v.db.Where("user_id = ? AND success = ?", userID, true).
		Order("timestamp desc").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &SubscriptionStatus{
		IsActive:              row.IsActive && row.ExpiresAt > v.now().UnixMilli(),
		Plan:                  row.Plan,
		ExpiresAt:             time.UnixMilli(row.ExpiresAt).UTC().Format(time.RFC3339),
		AutoRenew:             row.AutoRenew,
		OriginalTransactionID: row.OriginalTransactionID,
		Environment:           row.Environment,
		LastVerifiedAt:        row.CreatedAt.UTC().Format(time.RFC3339),
		expiresAtMS:           row.ExpiresAt,
	}, nil
}
