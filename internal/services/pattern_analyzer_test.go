package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"github.com/postyhq/rewardguard/internal/models"
)

// seedClaims writes records spaced by the given deltas, oldest first, ending
// just before now.
func seedClaims(t *testing.T, db *gorm.DB, device, kind, session string, viewTimes []int64, deltas []int64, now int64) {
	ts := now - int64(len(viewTimes))*120000
	for i, vt := range viewTimes {
		if i > 0 {
			ts += deltas[i-1]
		}
		rec := models.ClaimRecord{
			DeviceFingerprint: device,
			Kind:              kind,
			SessionID:         session,
			ViewTime:          vt,
			Success:           true,
			Timestamp:         ts,
		}
		assert.NoError(t, db.Create(&rec).Error)
	}
}

func TestPatternAnalyzer_ConsistentViewTimes(t *testing.T) {
	db := setupTestDB(t)
	p := NewPatternAnalyzer(NewQuotaLedger(db), DefaultPatternThresholds())
	now := time.Now().UnixMilli()

	// Five near-identical view times with irregular spacing.
	seedClaims(t, db, "device-1", models.ClaimKindAd, "s1",
		[]int64{45123, 45123, 45123, 45123, 45123},
		[]int64{71321, 83777, 65431, 92113}, now)

	report := p.AnalyzeAdClaims("device-1", "s-other", now)
	assert.True(t, report.Blocked)
	assert.Contains(t, report.Reasons, ReasonConsistentViewTimes)
}

func TestPatternAnalyzer_ExactIntervals(t *testing.T) {
	db := setupTestDB(t)
	p := NewPatternAnalyzer(NewQuotaLedger(db), DefaultPatternThresholds())
	now := time.Now().UnixMilli()

	// Widely spread view times so the variance check stays quiet; the claims
	// land exactly on the minute.
	seedClaims(t, db, "device-1", models.ClaimKindAd, "s1",
		[]int64{16500, 47500, 95500, 112500},
		[]int64{60000, 120000, 60000}, now)

	report := p.AnalyzeAdClaims("device-1", "s-other", now)
	assert.True(t, report.Blocked)
	assert.Contains(t, report.Reasons, ReasonExactIntervals)
}

func TestPatternAnalyzer_SessionFlood(t *testing.T) {
	db := setupTestDB(t)
	p := NewPatternAnalyzer(NewQuotaLedger(db), DefaultPatternThresholds())
	now := time.Now().UnixMilli()

	seedClaims(t, db, "device-1", models.ClaimKindAd, "burst",
		[]int64{16500, 47500, 95500, 112500, 31700, 78300},
		[]int64{71321, 83777, 65431, 92113, 70007}, now)

	report := p.AnalyzeAdClaims("device-1", "burst", now)
	assert.True(t, report.Suspicious)
	assert.False(t, report.Blocked)
	assert.Contains(t, report.Reasons, ReasonExcessiveSession)
}

func TestPatternAnalyzer_TokenConsistentIntervals(t *testing.T) {
	db := setupTestDB(t)
	p := NewPatternAnalyzer(NewQuotaLedger(db), DefaultPatternThresholds())
	now := time.Now().UnixMilli()

	// Four claims spaced with clockwork regularity.
	seedClaims(t, db, "device-1", models.ClaimKindToken, "s1",
		[]int64{0, 0, 0, 0},
		[]int64{61007, 61007, 61007}, now)

	report := p.AnalyzeTokenClaims("device-1", "", now)
	assert.True(t, report.Suspicious)
	assert.False(t, report.Blocked)
	assert.Contains(t, report.Reasons, ReasonConsistentIntervals)
}

func TestPatternAnalyzer_TokenSuccessRate(t *testing.T) {
	db := setupTestDB(t)
	p := NewPatternAnalyzer(NewQuotaLedger(db), DefaultPatternThresholds())
	now := time.Now().UnixMilli()

	// Ten claims, all successful, irregular spacing.
	deltas := []int64{71321, 83777, 65431, 92113, 70007, 88493, 61871, 97231, 74111}
	viewTimes := make([]int64, 10)
	seedClaims(t, db, "device-1", models.ClaimKindToken, "s1", viewTimes, deltas, now)

	report := p.AnalyzeTokenClaims("device-1", "", now)
	assert.True(t, report.Suspicious)
	assert.Contains(t, report.Reasons, ReasonAbnormalSuccessRate)
}

func TestPatternAnalyzer_AdPerfectSuccessRate(t *testing.T) {
	db := setupTestDB(t)
	p := NewPatternAnalyzer(NewQuotaLedger(db), DefaultPatternThresholds())
	now := time.Now().UnixMilli()

	// Ten successful ads with human-looking view times and spacing; the only
	// anomaly is that not one of them ever failed.
	seedClaims(t, db, "device-1", models.ClaimKindAd, "s1",
		[]int64{16500, 47123, 95321, 112777, 31919, 78301, 105911, 22391, 88103, 53717},
		[]int64{71321, 83777, 65431, 92113, 70007, 88493, 61871, 97231, 74111}, now)

	report := p.AnalyzeAdClaims("device-1", "s-other", now)
	assert.True(t, report.Suspicious)
	assert.False(t, report.Blocked)
	assert.Contains(t, report.Reasons, ReasonPerfectSuccessRate)
}

func TestNewPatternAnalyzer_PartialThresholds(t *testing.T) {
	db := setupTestDB(t)
	p := NewPatternAnalyzer(NewQuotaLedger(db), PatternThresholds{ViewTimeVariance: 500})

	def := DefaultPatternThresholds()
	assert.Equal(t, float64(500), p.th.ViewTimeVariance)
	assert.Equal(t, def.MinViewTimeSamples, p.th.MinViewTimeSamples)
	assert.Equal(t, def.ExactIntervalUnit, p.th.ExactIntervalUnit)
	assert.Equal(t, def.MinSuccessSamples, p.th.MinSuccessSamples)
	assert.Equal(t, def.AdLookback, p.th.AdLookback)
	assert.Equal(t, def.MaxAnalyzedRecords, p.th.MaxAnalyzedRecords)
}

func TestPatternAnalyzer_CleanHistory(t *testing.T) {
	db := setupTestDB(t)
	p := NewPatternAnalyzer(NewQuotaLedger(db), DefaultPatternThresholds())
	now := time.Now().UnixMilli()

	seedClaims(t, db, "device-1", models.ClaimKindAd, "s1",
		[]int64{16500, 47500},
		[]int64{71321}, now)

	report := p.AnalyzeAdClaims("device-1", "s-other", now)
	assert.False(t, report.Suspicious)
	assert.False(t, report.Blocked)
	assert.Empty(t, report.Reasons)
}
