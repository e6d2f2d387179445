package models

import (
	"time"
)

// DailyMetric is one counter cell of the per-day security metrics rollup.
// Dimension is "total", "event_type" or "severity"; Name is the bucket.
type DailyMetric struct {
	Date      string    `json:"date" gorm:"primaryKey;size:10"`
	Dimension string    `json:"dimension" gorm:"primaryKey;size:16"`
	Name      string    `json:"name" gorm:"primaryKey;size:64"`
	Count     int64     `json:"count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SecurityReport is the persisted daily report the scheduler generates.
type SecurityReport struct {
	Date            string    `json:"date" gorm:"primaryKey;size:10"`
	Summary         string    `json:"summary" gorm:"type:text"` // JSON
	Recommendations string    `json:"recommendations" gorm:"type:text"`
	GeneratedAt     time.Time `json:"generated_at"`
}
