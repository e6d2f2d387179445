package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/postyhq/rewardguard/internal/logger"
	"github.com/postyhq/rewardguard/internal/models"
)

const statsWindow = 7 * 24 * time.Hour

// Recommendation thresholds for the daily report.
const (
	reportCriticalAlarm = 10
	reportBlockedAlarm  = 100
	reportTopTypeAlarm  = 50
)

// TypeCount is one (event type, count) pair in a statistics breakdown.
type TypeCount struct {
	EventType string `json:"eventType" gorm:"column:event_type"`
	Count     int64  `json:"count"`
}

// SecurityStatistics is the trailing-week overview served to operators.
type SecurityStatistics struct {
	TotalEvents    int64            `json:"totalEvents"`
	BySeverity     map[string]int64 `json:"bySeverity"`
	BlockedDevices int64            `json:"blockedDevices"`
	TopThreatTypes []TypeCount      `json:"topThreatTypes"`
	EventsPerDay   map[string]int64 `json:"eventsPerDay"`
	GeneratedAt    time.Time        `json:"generatedAt"`
}

// DailySummary is the body of one generated security report.
type DailySummary struct {
	Date           string           `json:"date"`
	TotalEvents    int64            `json:"totalEvents"`
	BySeverity     map[string]int64 `json:"bySeverity"`
	ByEventType    map[string]int64 `json:"byEventType"`
	BlockedDevices int64            `json:"blockedDevices"`
}

// ReportService aggregates the event log into operator-facing statistics and
// the scheduled daily report.
type ReportService struct {
	db     *gorm.DB
	blocks *BlockRegistry
	now    func() time.Time
}

func NewReportService(db *gorm.DB, blocks *BlockRegistry) *ReportService {
	return &ReportService{db: db, blocks: blocks, now: time.Now}
}

// Statistics computes the trailing seven-day view straight from the event
// log and the block registry.
func (s *ReportService) Statistics() (*SecurityStatistics, error) {
	now := s.now()
	since := now.Add(-statsWindow).UnixMilli()

	stats := &SecurityStatistics{
		BySeverity:   map[string]int64{},
		EventsPerDay: map[string]int64{},
		GeneratedAt:  now,
	}

	if err := s.db.Model(&models.SecurityEvent{}).
		Where("timestamp > ?", since).Count(&stats.TotalEvents).Error; err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}

	var bySeverity []struct {
		Severity string
		Count    int64
	}
	if err := s.db.Model(&models.SecurityEvent{}).
		Select("severity, count(*) as count").
		Where("timestamp > ?", since).
		Group("severity").Scan(&bySeverity).Error; err != nil {
		return nil, fmt.Errorf("group by severity: %w", err)
	}
	for _, row := range bySeverity {
		stats.BySeverity[row.Severity] = row.Count
	}

	if err := s.db.Model(&models.SecurityEvent{}).
		Select("event_type, count(*) as count").
		Where("timestamp > ?", since).
		Group("event_type").Order("count desc").Limit(10).
		Scan(&stats.TopThreatTypes).Error; err != nil {
		return nil, fmt.Errorf("top threat types: %w", err)
	}

	var perDay []models.DailyMetric
	cutoff := now.AddDate(0, 0, -7).UTC().Format("2006-01-02")
	if err := s.db.Where("dimension = ? AND name = ? AND date >= ?", "total", "events", cutoff).
		Find(&perDay).Error; err != nil {
		return nil, fmt.Errorf("per-day counts: %w", err)
	}
	for _, cell := range perDay {
		stats.EventsPerDay[cell.Date] = cell.Count
	}

	blocked, err := s.blocks.CountBlocked()
	if err != nil {
		return nil, fmt.Errorf("count blocked: %w", err)
	}
	stats.BlockedDevices = blocked

	return stats, nil
}

// GenerateDailyReport builds and persists the report for yesterday (UTC).
// Re-running for the same date overwrites the previous report.
func (s *ReportService) GenerateDailyReport() (*models.SecurityReport, error) {
	now := s.now().UTC()
	day := now.AddDate(0, 0, -1)
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	date := start.Format("2006-01-02")

	summary := DailySummary{
		Date:        date,
		BySeverity:  map[string]int64{},
		ByEventType: map[string]int64{},
	}

	var events []models.SecurityEvent
	if err := s.db.Where("timestamp >= ? AND timestamp < ?",
		start.UnixMilli(), end.UnixMilli()).Find(&events).Error; err != nil {
		return nil, fmt.Errorf("load events for %s: %w", date, err)
	}
	summary.TotalEvents = int64(len(events))
	for _, ev := range events {
		summary.BySeverity[string(ev.Severity)]++
		summary.ByEventType[ev.EventType]++
	}

	blocked, err := s.blocks.CountBlocked()
	if err != nil {
		return nil, fmt.Errorf("count blocked: %w", err)
	}
	summary.BlockedDevices = blocked

	raw, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("encode summary: %w", err)
	}

	report := &models.SecurityReport{
		Date:            date,
		Summary:         string(raw),
		Recommendations: strings.Join(recommend(&summary), "\n"),
		GeneratedAt:     now,
	}
	if err := s.db.Save(report).Error; err != nil {
		return nil, fmt.Errorf("persist report: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"date":   date,
		"events": summary.TotalEvents,
	}).Info("daily security report generated")
	return report, nil
}

// Report returns the persisted report for a date, nil when none exists.
func (s *ReportService) Report(date string) (*models.SecurityReport, error) {
	var report models.SecurityReport
	err := s.db.First(&report, "date = ?", date).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// recommend derives operator guidance from a day's numbers.
func recommend(sum *DailySummary) []string {
	var recs []string

	if sum.BySeverity[string(models.SeverityCritical)] > reportCriticalAlarm {
		recs = append(recs, "critical event volume is elevated, review threat analyses for the day")
	}
	if sum.BlockedDevices > reportBlockedAlarm {
		recs = append(recs, "blocked device count is high, consider tightening client-side validation")
	}

	var topType string
	var topCount int64
	for t, n := range sum.ByEventType {
		if n > topCount {
			topType, topCount = t, n
		}
	}
	if topCount > reportTopTypeAlarm {
		recs = append(recs, fmt.Sprintf("event type %q dominated with %d occurrences, investigate its source", topType, topCount))
	}

	if len(recs) == 0 {
		recs = append(recs, "no anomalies detected")
	}
	return recs
}
