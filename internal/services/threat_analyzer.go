package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/postyhq/rewardguard/internal/logger"
	"github.com/postyhq/rewardguard/internal/models"
)

// ThreatLevel is the four-step classification derived from an event and the
// device's historical risk score.
type ThreatLevel int

const (
	ThreatLow ThreatLevel = iota
	ThreatMedium
	ThreatHigh
	ThreatCritical
)

func (t ThreatLevel) String() string {
	switch t {
	case ThreatLow:
		return "low"
	case ThreatMedium:
		return "medium"
	case ThreatHigh:
		return "high"
	case ThreatCritical:
		return "critical"
	default:
		return "medium"
	}
}

// Escalate moves one step up. Critical stays critical: escalation is
// monotonic within a single evaluation.
func (t ThreatLevel) Escalate() ThreatLevel {
	if t >= ThreatCritical {
		return ThreatCritical
	}
	return t + 1
}

// baseThreatLevels maps event types to their starting level. Unknown event
// types start at medium.
var baseThreatLevels = map[string]ThreatLevel{
	EventBasicValidationFailed: ThreatLow,
	EventInvalidSignature:      ThreatHigh,
	EventSuspiciousPattern:     ThreatMedium,
	EventHardwareMismatch:      ThreatCritical,
	EventAdInvalidSignature:    ThreatHigh,
	EventAdNetworkCheckFailed:  ThreatCritical,
	EventExcessiveEvents:       ThreatHigh,
}

// Scoring thresholds and block durations.
const (
	historyWindow         = 7 * 24 * time.Hour
	realtimeWindow        = time.Hour
	escalateScore         = 30 // history score above this escalates the level
	highBlockScore        = 20 // high level blocks only past this score
	absoluteBlockScore    = 50 // blocks regardless of level
	sameEventLimit        = 5
	anyEventLimit         = 20
	coordinatedDevices    = 10
	coordinatedEvents     = 50
	defaultBlockTTL       = time.Hour
	highBlockTTL          = 24 * time.Hour
	sigFailureBonusAt     = 3
	sigFailureBonus       = 20
	suspiciousBonusAt     = 5
	suspiciousBonus       = 15
	hardwareMismatchBonus = 25
)

// ThreatRequest asks for a threat evaluation of one security event.
type ThreatRequest struct {
	DeviceFingerprint string                 `json:"deviceFingerprint"`
	EventType         string                 `json:"eventType"`
	Timestamp         int64                  `json:"timestamp"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

// ThreatResult is the outcome of one evaluation.
type ThreatResult struct {
	ThreatLevel string   `json:"threatLevel"`
	Blocked     bool     `json:"blocked"`
	Reason      string   `json:"reason,omitempty"`
	Actions     []string `json:"actions"`
}

// ThreatAnalyzer converts security events plus history into a threat level
// and a block decision. Levels only ever escalate within one evaluation.
type ThreatAnalyzer struct {
	db     *gorm.DB
	events *EventLog
	blocks *BlockRegistry
	alerts *AlertService
}

func NewThreatAnalyzer(db *gorm.DB, events *EventLog, blocks *BlockRegistry, alerts *AlertService) *ThreatAnalyzer {
	return &ThreatAnalyzer{db: db, events: events, blocks: blocks, alerts: alerts}
}

// Analyze evaluates one event for a device. Evaluation errors degrade to a
// non-blocking medium verdict rather than failing the caller.
func (t *ThreatAnalyzer) Analyze(req *ThreatRequest) ThreatResult {
	if req.Timestamp == 0 {
		req.Timestamp = time.Now().UnixMilli()
	}

	level := baseLevelFor(req.EventType)
	actions := []string{}

	score, escalate := t.historyScore(req.DeviceFingerprint, req.Timestamp)
	if escalate {
		level = level.Escalate()
		actions = append(actions, "threat_escalated")
	}

	if suspicious, patterns := t.realtimePatterns(req); suspicious {
		level = level.Escalate()
		actions = append(actions, "pattern_suspicious")
		actions = append(actions, patterns...)
	}

	blocked := shouldBlock(level, score)
	if blocked {
		t.executeBlock(req.DeviceFingerprint, level, req.EventType, score, req.Timestamp)
		actions = append(actions, "device_blocked")
	}

	t.record(req, level, score, actions)

	result := ThreatResult{ThreatLevel: level.String(), Blocked: blocked, Actions: actions}
	if blocked {
		result.Reason = fmt.Sprintf("threat level: %s", level)
	}
	return result
}

// HandleCriticalThreat is the instant path for externally confirmed critical
// events: an immediate permanent block, no scoring arithmetic, plus an
// operator alert.
func (t *ThreatAnalyzer) HandleCriticalThreat(device, eventType string, now int64) {
	if device != "" {
		reason := fmt.Sprintf("critical threat: %s", eventType)
		if err := t.blocks.BlockPermanent(device, reason, ThreatCritical.String(), now); err != nil {
			logger.WithFields(map[string]interface{}{"device": device, "error": err}).
				Error("critical threat block failed")
		}
	}

	t.alerts.Critical("critical_threat",
		fmt.Sprintf("device %s triggered %s", device, eventType))
}

// historyScore accumulates the device's severity-weighted events over the
// trailing window, plus flat bonuses for repeated patterns.
func (t *ThreatAnalyzer) historyScore(device string, now int64) (int, bool) {
	since := now - historyWindow.Milliseconds()
	events, err := t.events.RecentByDevice(device, since, 0)
	if err != nil {
		logger.WithFields(map[string]interface{}{"device": device, "error": err}).
			Warn("history score read failed")
		return 0, false
	}

	score := 0
	counts := map[string]int{}
	for _, ev := range events {
		score += ev.Severity.Weight()
		counts[ev.EventType]++
	}

	if counts[EventInvalidSignature] > sigFailureBonusAt {
		score += sigFailureBonus
	}
	if counts[EventSuspiciousPattern] > suspiciousBonusAt {
		score += suspiciousBonus
	}
	if counts[EventHardwareMismatch] > 0 {
		score += hardwareMismatchBonus
	}

	return score, score > escalateScore
}

// realtimePatterns checks whether the current request itself belongs to an
// active abuse burst: the same event repeating, any events flooding, or many
// distinct devices producing the same event within the hour.
func (t *ThreatAnalyzer) realtimePatterns(req *ThreatRequest) (bool, []string) {
	since := req.Timestamp - realtimeWindow.Milliseconds()
	var patterns []string

	if n, err := t.events.CountByDeviceAndType(req.DeviceFingerprint, req.EventType, since); err == nil && n > sameEventLimit {
		patterns = append(patterns, "frequent_same_event")
	}

	if n, err := t.events.CountByDevice(req.DeviceFingerprint, since); err == nil && n > anyEventLimit {
		patterns = append(patterns, "excessive_events")
	}

	if global, err := t.events.ByTypeSince(req.EventType, since); err == nil {
		devices := map[string]bool{}
		for _, ev := range global {
			devices[ev.DeviceFingerprint] = true
		}
		if len(devices) > coordinatedDevices && len(global) > coordinatedEvents {
			patterns = append(patterns, "coordinated_attack")
		}
	}

	return len(patterns) > 0, patterns
}

// shouldBlock applies the block policy: critical always, high past the
// secondary score threshold, or any score past the absolute ceiling.
func shouldBlock(level ThreatLevel, score int) bool {
	if level == ThreatCritical {
		return true
	}
	if level == ThreatHigh && score > highBlockScore {
		return true
	}
	return score > absoluteBlockScore
}

// executeBlock issues the level-dependent block. Critical threats get a
// permanent block alongside the long TTL.
func (t *ThreatAnalyzer) executeBlock(device string, level ThreatLevel, eventType string, score int, now int64) {
	reason := fmt.Sprintf("threat level: %s, event: %s", level, eventType)

	var err error
	switch level {
	case ThreatCritical:
		err = t.blocks.BlockPermanent(device, reason, level.String(), now)
	case ThreatHigh:
		err = t.blocks.Block(device, reason, highBlockTTL, now)
	default:
		err = t.blocks.Block(device, reason, defaultBlockTTL, now)
	}
	if err != nil {
		logger.WithFields(map[string]interface{}{"device": device, "error": err}).
			Error("threat block failed")
	}
}

// record persists the audit row for one evaluation; best effort.
func (t *ThreatAnalyzer) record(req *ThreatRequest, level ThreatLevel, score int, actions []string) {
	row := models.ThreatAnalysis{
		UUID:              uuid.NewString(),
		DeviceFingerprint: req.DeviceFingerprint,
		EventType:         req.EventType,
		ThreatLevel:       level.String(),
		RiskScore:         score,
		Actions:           strings.Join(actions, ","),
		Timestamp:         req.Timestamp,
	}
	if err := t.db.Create(&row).Error; err != nil {
		logger.WithFields(map[string]interface{}{"device": req.DeviceFingerprint, "error": err}).
			Warn("threat analysis record failed")
	}
}

func baseLevelFor(eventType string) ThreatLevel {
	if lvl, ok := baseThreatLevels[eventType]; ok {
		return lvl
	}
	return ThreatMedium
}
