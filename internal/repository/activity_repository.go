package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/shihanpietersz/migration-manager/internal/models"
	"github.com/shihanpietersz/migration-manager/internal/utils"
)

type ActivityRepository interface {
	Create(ctx context.Context, entry *models.ActivityLogEntity, opts ...utils.DBOption) error
	GetList(ctx context.Context, param models.ActivityQueryParam, opts ...utils.DBOption) ([]models.ActivityLogEntity, error)
}

type activityRepository struct {
	db *gorm.DB
}

func NewActivityRepository(db *gorm.DB) ActivityRepository {
	return &activityRepository{db: db}
}

func (r *activityRepository) Create(ctx context.Context, entry *models.ActivityLogEntity, opts ...utils.DBOption) error {
	tx := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	return tx.Create(entry).Error
}

func (r *activityRepository) GetList(ctx context.Context, param models.ActivityQueryParam, opts ...utils.DBOption) ([]models.ActivityLogEntity, error) {
	var entries []models.ActivityLogEntity
	db := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	db = db.Model(&models.ActivityLogEntity{})
	if param.EventType != "" {
		db = db.Where("event_type = ?", param.EventType)
	}
	if param.Limit > 0 {
		db = db.Limit(param.Limit)
	}
	if err := db.Order("created_at DESC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
