package services

import (
	"time"

	"github.com/postyhq/rewardguard/internal/logger"
	"github.com/postyhq/rewardguard/internal/models"
)

// PatternThresholds tune the anomaly heuristics. Zero values fall back to the
// defaults below.
type PatternThresholds struct {
	MinViewTimeSamples  int     // samples before view-time variance applies
	ViewTimeVariance    float64 // ms², below this reads as scripted
	MinIntervalSamples  int     // samples before interval checks apply
	ExactIntervalUnit   int64   // ms, the round unit bots land on
	ExactIntervalRatio  float64 // share of deltas on the unit that flags
	IntervalVariance    float64 // ms², token claims only
	MaxSessionAds       int
	MaxSessionTokens    int
	MinSuccessSamples   int
	AdSuccessRate       float64 // at or above flags (ads: perfect runs)
	TokenSuccessRate    float64 // strictly above flags
	AdLookback          time.Duration
	TokenLookback       time.Duration
	MaxAnalyzedRecords  int
}

// DefaultPatternThresholds mirrors the tuned production values.
func DefaultPatternThresholds() PatternThresholds {
	return PatternThresholds{
		MinViewTimeSamples: 5,
		ViewTimeVariance:   1000000,
		MinIntervalSamples: 3,
		ExactIntervalUnit:  60000,
		ExactIntervalRatio: 0.8,
		IntervalVariance:   1000,
		MaxSessionAds:      5,
		MaxSessionTokens:   10,
		MinSuccessSamples:  10,
		AdSuccessRate:      1.0,
		TokenSuccessRate:   0.95,
		AdLookback:         2 * time.Hour,
		TokenLookback:      time.Hour,
		MaxAnalyzedRecords: 20,
	}
}

// Pattern reason labels, also used as block reasons.
const (
	ReasonConsistentViewTimes = "consistent_view_times"
	ReasonExactIntervals      = "exact_intervals"
	ReasonExcessiveSession    = "excessive_session_claims"
	ReasonPerfectSuccessRate  = "perfect_success_rate"
	ReasonConsistentIntervals = "very_consistent_intervals"
	ReasonAbnormalSuccessRate = "abnormal_success_rate"
)

// PatternReport is the analyzer verdict. Blocked means a heuristic strong
// enough to justify an immediate device block fired; Suspicious alone only
// flags the claim.
type PatternReport struct {
	Suspicious bool
	Blocked    bool
	Reasons    []string
}

// PatternAnalyzer inspects a device's recent claim history for statistical
// anomalies: bot-like regularity, session flooding and implausible success
// rates. Analysis errors degrade to a clean report; detection is advisory,
// never a reason to fail a claim outright.
type PatternAnalyzer struct {
	ledger *QuotaLedger
	th     PatternThresholds
}

func NewPatternAnalyzer(ledger *QuotaLedger, th PatternThresholds) *PatternAnalyzer {
	def := DefaultPatternThresholds()
	if th.MinViewTimeSamples == 0 {
		th.MinViewTimeSamples = def.MinViewTimeSamples
	}
	if th.ViewTimeVariance == 0 {
		th.ViewTimeVariance = def.ViewTimeVariance
	}
	if th.MinIntervalSamples == 0 {
		th.MinIntervalSamples = def.MinIntervalSamples
	}
	if th.ExactIntervalUnit == 0 {
		th.ExactIntervalUnit = def.ExactIntervalUnit
	}
	if th.ExactIntervalRatio == 0 {
		th.ExactIntervalRatio = def.ExactIntervalRatio
	}
	if th.IntervalVariance == 0 {
		th.IntervalVariance = def.IntervalVariance
	}
	if th.MaxSessionAds == 0 {
		th.MaxSessionAds = def.MaxSessionAds
	}
	if th.MaxSessionTokens == 0 {
		th.MaxSessionTokens = def.MaxSessionTokens
	}
	if th.MinSuccessSamples == 0 {
		th.MinSuccessSamples = def.MinSuccessSamples
	}
	if th.AdSuccessRate == 0 {
		th.AdSuccessRate = def.AdSuccessRate
	}
	if th.TokenSuccessRate == 0 {
		th.TokenSuccessRate = def.TokenSuccessRate
	}
	if th.AdLookback == 0 {
		th.AdLookback = def.AdLookback
	}
	if th.TokenLookback == 0 {
		th.TokenLookback = def.TokenLookback
	}
	if th.MaxAnalyzedRecords == 0 {
		th.MaxAnalyzedRecords = def.MaxAnalyzedRecords
	}
	return &PatternAnalyzer{ledger: ledger, th: th}
}

// AnalyzeAdClaims inspects the trailing ad-claim window for one device.
func (p *PatternAnalyzer) AnalyzeAdClaims(device, sessionID string, now int64) PatternReport {
	var report PatternReport

	since := now - p.th.AdLookback.Milliseconds()
	records, err := p.ledger.RecentClaims(device, models.ClaimKindAd, since, p.th.MaxAnalyzedRecords)
	if err != nil {
		logger.WithFields(map[string]interface{}{"device": device, "error": err}).
			Warn("ad pattern analysis read failed")
		return report
	}

	if len(records) >= p.th.MinViewTimeSamples {
		viewTimes := make([]float64, len(records))
		for i, r := range records {
			viewTimes[i] = float64(r.ViewTime)
		}
		if variance(viewTimes) < p.th.ViewTimeVariance {
			report.Suspicious = true
			report.Blocked = true
			report.Reasons = append(report.Reasons, ReasonConsistentViewTimes)
		}
	}

	if len(records) >= p.th.MinIntervalSamples {
		deltas := intervalsOf(records)
		exact := 0
		for _, d := range deltas {
			if d%p.th.ExactIntervalUnit == 0 {
				exact++
			}
		}
		if len(deltas) > 0 && float64(exact) > float64(len(deltas))*p.th.ExactIntervalRatio {
			report.Suspicious = true
			report.Blocked = true
			report.Reasons = append(report.Reasons, ReasonExactIntervals)
		}
	}

	if countSession(records, sessionID) > p.th.MaxSessionAds {
		report.Suspicious = true
		report.Reasons = append(report.Reasons, ReasonExcessiveSession)
	}

	if len(records) >= p.th.MinSuccessSamples && successRate(records) >= p.th.AdSuccessRate {
		report.Suspicious = true
		report.Reasons = append(report.Reasons, ReasonPerfectSuccessRate)
	}

	return report
}

// AnalyzeTokenClaims inspects the trailing token-claim window for one device.
// These heuristics only flag; none of them block on their own.
func (p *PatternAnalyzer) AnalyzeTokenClaims(device, sessionID string, now int64) PatternReport {
	var report PatternReport

	since := now - p.th.TokenLookback.Milliseconds()
	records, err := p.ledger.RecentClaims(device, models.ClaimKindToken, since, p.th.MaxAnalyzedRecords)
	if err != nil {
		logger.WithFields(map[string]interface{}{"device": device, "error": err}).
			Warn("token pattern analysis read failed")
		return report
	}

	if len(records) >= p.th.MinIntervalSamples {
		deltas := intervalsOf(records)
		fs := make([]float64, len(deltas))
		for i, d := range deltas {
			fs[i] = float64(d)
		}
		if len(fs) > 0 && variance(fs) < p.th.IntervalVariance {
			report.Suspicious = true
			report.Reasons = append(report.Reasons, ReasonConsistentIntervals)
		}
	}

	if len(records) >= p.th.MinSuccessSamples && successRate(records) > p.th.TokenSuccessRate {
		report.Suspicious = true
		report.Reasons = append(report.Reasons, ReasonAbnormalSuccessRate)
	}

	if sessionID != "" && countSession(records, sessionID) > p.th.MaxSessionTokens {
		report.Suspicious = true
		report.Reasons = append(report.Reasons, ReasonExcessiveSession)
	}

	return report
}

// intervalsOf returns the deltas between consecutive records, which arrive
// newest first.
func intervalsOf(records []models.ClaimRecord) []int64 {
	var deltas []int64
	for i := 0; i < len(records)-1; i++ {
		deltas = append(deltas, records[i].Timestamp-records[i+1].Timestamp)
	}
	return deltas
}

func countSession(records []models.ClaimRecord, sessionID string) int {
	n := 0
	for _, r := range records {
		if r.SessionID == sessionID {
			n++
		}
	}
	return n
}

func successRate(records []models.ClaimRecord) float64 {
	if len(records) == 0 {
		return 0
	}
	ok := 0
	for _, r := range records {
		if r.Success {
			ok++
		}
	}
	return float64(ok) / float64(len(records))
}

func variance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	v := 0.0
	for _, x := range xs {
		v += (x - mean) * (x - mean)
	}
	return v / float64(len(xs))
}
