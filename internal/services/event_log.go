package services

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/postyhq/rewardguard/internal/logger"
	"github.com/postyhq/rewardguard/internal/metrics"
	"github.com/postyhq/rewardguard/internal/models"
)

// Security event types recorded by the engine.
const (
	EventBasicValidationFailed = "basic_validation_failed"
	EventInvalidSignature      = "invalid_signature"
	EventSuspiciousPattern     = "suspicious_pattern"
	EventHardwareMismatch      = "hardware_mismatch"
	EventValidationError       = "validation_error"
	EventAdValidationFailed    = "ad_basic_validation_failed"
	EventAdInvalidSignature    = "ad_invalid_signature"
	EventAdInvalidViewTime     = "ad_invalid_view_time"
	EventAdNetworkCheckFailed  = "ad_network_check_failed"
	EventExcessiveEvents       = "excessive_events"
)

// severityByEvent is the total severity mapping for known event types.
// Unknown types default to medium.
var severityByEvent = map[string]models.Severity{
	EventBasicValidationFailed: models.SeverityLow,
	EventInvalidSignature:      models.SeverityHigh,
	EventSuspiciousPattern:     models.SeverityMedium,
	EventHardwareMismatch:      models.SeverityCritical,
	EventValidationError:       models.SeverityMedium,
	EventAdValidationFailed:    models.SeverityLow,
	EventAdInvalidSignature:    models.SeverityHigh,
	EventAdInvalidViewTime:     models.SeverityMedium,
	EventAdNetworkCheckFailed:  models.SeverityCritical,
	EventExcessiveEvents:       models.SeverityHigh,
}

// SeverityFor resolves the severity of an event type.
func SeverityFor(eventType string) models.Severity {
	if s, ok := severityByEvent[eventType]; ok {
		return s
	}
	return models.SeverityMedium
}

// EventLog is the append-only security audit trail. Every other engine
// component writes to it; the threat and pattern analyzers read from it.
type EventLog struct {
	db *gorm.DB
}

func NewEventLog(db *gorm.DB) *EventLog {
	return &EventLog{db: db}
}

// Append records a security event. The write is best effort: a store failure
// is logged and swallowed so it never blocks the primary reward path.
func (l *EventLog) Append(eventType, category, device, sessionID, details string, request interface{}, now int64) {
	ev := models.SecurityEvent{
		UUID:              uuid.NewString(),
		EventType:         eventType,
		Category:          category,
		Severity:          SeverityFor(eventType),
		DeviceFingerprint: device,
		SessionID:         sessionID,
		Details:           details,
		Request:           redactRequest(request),
		Timestamp:         now,
	}
	if err := l.db.Create(&ev).Error; err != nil {
		logger.WithFields(map[string]interface{}{"event_type": eventType, "error": err}).
			Warn("security event write failed")
		return
	}

	metrics.IncSecurityEvent(string(ev.Severity))
	l.bumpDailyMetrics(&ev)
}

// bumpDailyMetrics rolls the event into the per-day counters with atomic
// single-statement increments.
func (l *EventLog) bumpDailyMetrics(ev *models.SecurityEvent) {
	date := time.UnixMilli(ev.Timestamp).UTC().Format("2006-01-02")
	cells := []models.DailyMetric{
		{Date: date, Dimension: "total", Name: "events", Count: 1},
		{Date: date, Dimension: "event_type", Name: ev.EventType, Count: 1},
		{Date: date, Dimension: "severity", Name: string(ev.Severity), Count: 1},
	}
	for i := range cells {
		err := l.db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "date"}, {Name: "dimension"}, {Name: "name"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"count":      gorm.Expr("count + 1"),
				"updated_at": time.Now(),
			}),
		}).Create(&cells[i]).Error
		if err != nil {
			logger.WithFields(map[string]interface{}{"error": err}).Warn("daily metric update failed")
		}
	}
}

// RecentByDevice returns a device's events since the given epoch-ms instant,
// newest first, capped at limit.
func (l *EventLog) RecentByDevice(device string, since int64, limit int) ([]models.SecurityEvent, error) {
	var events []models.SecurityEvent
	q := l.db.Where("device_fingerprint = ? AND timestamp > ?", device, since).
		Order("timestamp desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// CountByDeviceAndType counts a device's events of one type since an instant.
func (l *EventLog) CountByDeviceAndType(device, eventType string, since int64) (int64, error) {
	var n int64
	err := l.db.Model(&models.SecurityEvent{}).
		Where("device_fingerprint = ? AND event_type = ? AND timestamp > ?", device, eventType, since).
		Count(&n).Error
	return n, err
}

// CountByDevice counts all of a device's events since an instant.
func (l *EventLog) CountByDevice(device string, since int64) (int64, error) {
	var n int64
	err := l.db.Model(&models.SecurityEvent{}).
		Where("device_fingerprint = ? AND timestamp > ?", device, since).
		Count(&n).Error
	return n, err
}

// ByTypeSince returns every event of one type since an instant, across all
// devices. The threat analyzer uses it to spot coordinated activity.
func (l *EventLog) ByTypeSince(eventType string, since int64) ([]models.SecurityEvent, error) {
	var events []models.SecurityEvent
	err := l.db.Where("event_type = ? AND timestamp > ?", eventType, since).Find(&events).Error
	return events, err
}

// HighSeveritySince returns high and critical events since an instant,
// feeding the auto-block sweep.
func (l *EventLog) HighSeveritySince(since int64) ([]models.SecurityEvent, error) {
	var events []models.SecurityEvent
	err := l.db.Where("timestamp > ? AND severity IN ?", since,
		[]models.Severity{models.SeverityHigh, models.SeverityCritical}).Find(&events).Error
	return events, err
}

// redactRequest serializes a request copy with the signature truncated so the
// audit trail never stores a full valid digest.
func redactRequest(request interface{}) string {
	if request == nil {
		return ""
	}
	raw, err := json.Marshal(request)
	if err != nil {
		return ""
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return string(raw)
	}
	if sig, ok := m["signature"].(string); ok && len(sig) > 10 {
		m["signature"] = sig[:10] + "..."
	}
	out, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(out)
}
