package services

import (
	"github.com/containrrr/shoutrrr"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/postyhq/rewardguard/internal/logger"
	"github.com/postyhq/rewardguard/internal/models"
)

// AlertService persists operator alerts and fans them out to the configured
// shoutrrr destinations (Discord, Slack, email and friends).
type AlertService struct {
	db   *gorm.DB
	urls []string
}

func NewAlertService(db *gorm.DB, urls []string) *AlertService {
	return &AlertService{db: db, urls: urls}
}

// Critical records an alert row and notifies every destination. Delivery is
// async and best effort; the alert row is the source of truth.
func (s *AlertService) Critical(alertType, details string) {
	alert := models.AdminAlert{
		UUID:    uuid.NewString(),
		Type:    alertType,
		Details: details,
	}
	if err := s.db.Create(&alert).Error; err != nil {
		logger.WithFields(map[string]interface{}{"type": alertType, "error": err}).
			Warn("admin alert write failed")
	}

	msg := "[" + alertType + "] " + details
	for _, url := range s.urls {
		go func(dest string) {
			if err := shoutrrr.Send(dest, msg); err != nil {
				logger.WithFields(map[string]interface{}{"error": err}).
					Warn("alert notification failed")
			}
		}(url)
	}
}

// Unresolved lists alerts still awaiting operator action.
func (s *AlertService) Unresolved() ([]models.AdminAlert, error) {
	var alerts []models.AdminAlert
	err := s.db.Where("resolved = ?", false).Order("created_at desc").Find(&alerts).Error
	return alerts, err
}

// Resolve marks an alert handled.
func (s *AlertService) Resolve(id string) error {
	return s.db.Model(&models.AdminAlert{}).Where("uuid = ?", id).Update("resolved", true).Error
}
