package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	claimsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rewardguard_claims_total",
		Help: "Total number of reward claims processed, by kind and outcome",
	}, []string{"kind", "outcome"})
	securityEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rewardguard_security_events_total",
		Help: "Total number of security events recorded, by severity",
	}, []string{"severity"})
	deviceBlocksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rewardguard_device_blocks_total",
		Help: "Total number of device block writes",
	})
	receiptVerificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rewardguard_receipt_verifications_total",
		Help: "Total number of subscription receipt verifications, by platform and outcome",
	}, []string{"platform", "outcome"})
)

// Register registers Prometheus collectors. Call once at startup.
func Register(registry *prometheus.Registry) {
	registry.MustRegister(claimsTotal, securityEventsTotal, deviceBlocksTotal, receiptVerificationsTotal)
}

// IncClaim increments the claims counter for the given kind and outcome.
func IncClaim(kind, outcome string) { claimsTotal.WithLabelValues(kind, outcome).Inc() }

// IncSecurityEvent increments the security event counter for a severity.
func IncSecurityEvent(severity string) { securityEventsTotal.WithLabelValues(severity).Inc() }

// IncDeviceBlock increments the device block counter.
func IncDeviceBlock() { deviceBlocksTotal.Inc() }

// IncReceiptVerification increments the receipt verification counter.
func IncReceiptVerification(platform, outcome string) {
	receiptVerificationsTotal.WithLabelValues(platform, outcome).Inc()
}
