package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/postyhq/rewardguard/internal/services"
)

// SubscriptionHandler exposes receipt verification and subscription status.
type SubscriptionHandler struct {
	verifier *services.SubscriptionVerifier
}

// NewSubscriptionHandler creates a new subscription handler.
func NewSubscriptionHandler(verifier *services.SubscriptionVerifier) *SubscriptionHandler {
	return &SubscriptionHandler{verifier: verifier}
}

// RegisterRoutes registers subscription routes.
func (h *SubscriptionHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/subscriptions/verify", h.Verify)
	router.GET("/subscriptions/:userID/status", h.Status)
}

// Verify validates a purchase receipt against the platform store.
func (h *SubscriptionHandler) Verify(c *gin.Context) {
	var receipt services.SubscriptionReceipt
	if err := c.ShouldBindJSON(&receipt); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, h.verifier.VerifyReceipt(c.Request.Context(), &receipt))
}

// Status returns the user's current subscription state.
func (h *SubscriptionHandler) Status(c *gin.Context) {
	userID := c.Param("userID")

	status, err := h.verifier.Status(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if status == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no subscription found"})
		return
	}

	c.JSON(http.StatusOK, status)
}
