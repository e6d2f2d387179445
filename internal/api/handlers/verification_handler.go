package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/postyhq/rewardguard/internal/services"
)

// VerificationHandler exposes the reward claim pipeline over HTTP.
type VerificationHandler struct {
	verifier *services.VerificationService
	threats  *services.ThreatAnalyzer
}

// NewVerificationHandler creates a new verification handler.
func NewVerificationHandler(verifier *services.VerificationService, threats *services.ThreatAnalyzer) *VerificationHandler {
	return &VerificationHandler{verifier: verifier, threats: threats}
}

// RegisterRoutes registers claim verification routes.
func (h *VerificationHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/verify/token", h.VerifyToken)
	router.POST("/verify/ad", h.VerifyAd)
	router.POST("/verify/device", h.VerifyDevice)
	router.POST("/verify/threat", h.AnalyzeThreat)
}

// VerifyToken validates a generic reward claim.
func (h *VerificationHandler) VerifyToken(c *gin.Context) {
	var claim services.TokenClaim
	if err := c.ShouldBindJSON(&claim); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, h.verifier.VerifyTokenClaim(&claim))
}

// VerifyAd validates a rewarded-ad completion claim.
func (h *VerificationHandler) VerifyAd(c *gin.Context) {
	var claim services.AdClaim
	if err := c.ShouldBindJSON(&claim); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, h.verifier.VerifyAdClaim(&claim))
}

// VerifyDevice checks reported hardware against the stored device profile.
func (h *VerificationHandler) VerifyDevice(c *gin.Context) {
	var req services.IntegrityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, h.verifier.VerifyDeviceIntegrity(&req))
}

// AnalyzeThreat runs a standalone threat evaluation for a reported event.
func (h *VerificationHandler) AnalyzeThreat(c *gin.Context) {
	var req services.ThreatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.DeviceFingerprint == "" || req.EventType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "deviceFingerprint and eventType are required"})
		return
	}
	if req.Timestamp == 0 {
		req.Timestamp = time.Now().UnixMilli()
	}

	c.JSON(http.StatusOK, h.threats.Analyze(&req))
}
