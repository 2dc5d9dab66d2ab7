package database

import (
	"errors"
	"time"

	"github.com/NotiFansly/dashbot/internal/models"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("record not found")

// Repository handles database operations for embed drafts and service health
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new repository instance
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// CreateEmbedDraft stores a new draft and fills in its allocated ID.
func (r *Repository) CreateEmbedDraft(draft *models.EmbedDraft) error {
	draft.ID = 0
	return WithRetry(func() error {
		return r.db.Create(draft).Error
	})
}

// GetEmbedDraft returns ErrNotFound when no draft has the given ID.
func (r *Repository) GetEmbedDraft(id uint) (*models.EmbedDraft, error) {
	var draft models.EmbedDraft
	err := WithRetry(func() error {
		return r.db.Where("id = ?", id).First(&draft).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &draft, nil
}

func (r *Repository) UpsertServiceStatus(status *models.ServiceStatus) error {
	return WithRetry(func() error {
		// GORM's Save works as an upsert for records with a primary key.
		return r.db.Save(status).Error
	})
}

func (r *Repository) GetServiceStatus(serviceName string) (*models.ServiceStatus, error) {
	var status models.ServiceStatus
	err := WithRetry(func() error {
		return r.db.Where("service_name = ?", serviceName).First(&status).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// UpdateAPIHealthBulk adds the given counts to the service's running totals,
// creating the row on first use.
func (r *Repository) UpdateAPIHealthBulk(serviceName string, totalToAdd, successfulToAdd uint64) error {
	if totalToAdd == 0 && successfulToAdd == 0 {
		return nil
	}

	return WithRetry(func() error {
		return r.db.Transaction(func(tx *gorm.DB) error {
			result := tx.Model(&models.APIHealthStat{}).
				Where("service_name = ?", serviceName).
				Updates(map[string]any{
					"total_requests":      gorm.Expr("total_requests + ?", totalToAdd),
					"successful_requests": gorm.Expr("successful_requests + ?", successfulToAdd),
					"updated_at":          time.Now(),
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected > 0 {
				return nil
			}
			return tx.Create(&models.APIHealthStat{
				ServiceName:        serviceName,
				TotalRequests:      totalToAdd,
				SuccessfulRequests: successfulToAdd,
				UpdatedAt:          time.Now(),
			}).Error
		})
	})
}

func (r *Repository) GetAPIHealth(serviceName string) (*models.APIHealthStat, error) {
	var stat models.APIHealthStat
	err := WithRetry(func() error {
		return r.db.Where("service_name = ?", serviceName).First(&stat).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &stat, nil
}
