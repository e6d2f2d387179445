package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/postyhq/rewardguard/internal/models"
	"github.com/postyhq/rewardguard/internal/services"
)

func TestScheduler_StartStop(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(
		&models.SecurityEvent{},
		&models.DeviceBlock{},
		&models.DailyMetric{},
		&models.SecurityReport{},
	))

	events := services.NewEventLog(db)
	blocks := services.NewBlockRegistry(db)
	reports := services.NewReportService(db, blocks)

	s := New(events, blocks, reports)
	assert.NoError(t, s.Start())
	s.Stop()
}

func TestScheduler_JobsRunDirectly(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(
		&models.SecurityEvent{},
		&models.DeviceBlock{},
		&models.DailyMetric{},
		&models.SecurityReport{},
	))

	events := services.NewEventLog(db)
	blocks := services.NewBlockRegistry(db)
	reports := services.NewReportService(db, blocks)
	s := New(events, blocks, reports)

	// The job bodies must tolerate an empty database.
	s.sweep()
	s.dailyReport()

	var n int64
	assert.NoError(t, db.Model(&models.SecurityReport{}).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}
