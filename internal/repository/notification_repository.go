package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/shihanpietersz/migration-manager/internal/models"
	"github.com/shihanpietersz/migration-manager/internal/utils"
)

type NotificationRepository interface {
	Create(ctx context.Context, notification *models.TestNotificationEntity, opts ...utils.DBOption) error
	Update(ctx context.Context, notification *models.TestNotificationEntity, opts ...utils.DBOption) error
	Delete(ctx context.Context, id uint, opts ...utils.DBOption) error
	GetByID(ctx context.Context, id uint, opts ...utils.DBOption) (*models.TestNotificationEntity, error)
	GetEnabled(ctx context.Context, opts ...utils.DBOption) ([]models.TestNotificationEntity, error)
	GetList(ctx context.Context, limit int, opts ...utils.DBOption) ([]models.TestNotificationEntity, error)
	StampNotified(ctx context.Context, id uint, at time.Time, opts ...utils.DBOption) error
}

type notificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, notification *models.TestNotificationEntity, opts ...utils.DBOption) error {
	tx := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	return tx.Create(notification).Error
}

func (r *notificationRepository) Update(ctx context.Context, notification *models.TestNotificationEntity, opts ...utils.DBOption) error {
	tx := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	return tx.Save(notification).Error
}

func (r *notificationRepository) Delete(ctx context.Context, id uint, opts ...utils.DBOption) error {
	tx := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	return tx.Delete(&models.TestNotificationEntity{}, id).Error
}

func (r *notificationRepository) GetByID(ctx context.Context, id uint, opts ...utils.DBOption) (*models.TestNotificationEntity, error) {
	var notification models.TestNotificationEntity
	db := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	if err := db.First(&notification, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &notification, nil
}

func (r *notificationRepository) GetEnabled(ctx context.Context, opts ...utils.DBOption) ([]models.TestNotificationEntity, error) {
	var notifications []models.TestNotificationEntity
	db := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	if err := db.Where("enabled = ?", true).Find(&notifications).Error; err != nil {
		return nil, err
	}
	return notifications, nil
}

func (r *notificationRepository) GetList(ctx context.Context, limit int, opts ...utils.DBOption) ([]models.TestNotificationEntity, error) {
	var notifications []models.TestNotificationEntity
	db := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	if limit > 0 {
		db = db.Limit(limit)
	}
	if err := db.Order("id ASC").Find(&notifications).Error; err != nil {
		return nil, err
	}
	return notifications, nil
}

func (r *notificationRepository) StampNotified(ctx context.Context, id uint, at time.Time, opts ...utils.DBOption) error {
	tx := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	return tx.Model(&models.TestNotificationEntity{}).Where("id = ?", id).
		Update("last_notified_at", at).Error
}
