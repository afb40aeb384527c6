package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/shihanpietersz/migration-manager/internal/models"
	"github.com/shihanpietersz/migration-manager/internal/utils"
)

type ValidationTestRepository interface {
	Create(ctx context.Context, test *models.ValidationTestEntity, opts ...utils.DBOption) error
	Update(ctx context.Context, test *models.ValidationTestEntity, opts ...utils.DBOption) error
	Delete(ctx context.Context, id uint, opts ...utils.DBOption) error
	GetByID(ctx context.Context, id uint, opts ...utils.DBOption) (*models.ValidationTestEntity, error)
	GetByIDs(ctx context.Context, ids []uint, opts ...utils.DBOption) ([]models.ValidationTestEntity, error)
	GetByName(ctx context.Context, name string, opts ...utils.DBOption) (*models.ValidationTestEntity, error)
	GetList(ctx context.Context, category string, limit int, opts ...utils.DBOption) ([]models.ValidationTestEntity, error)
}

type validationTestRepository struct {
	db *gorm.DB
}

func NewValidationTestRepository(db *gorm.DB) ValidationTestRepository {
	return &validationTestRepository{db: db}
}

func (r *validationTestRepository) Create(ctx context.Context, test *models.ValidationTestEntity, opts ...utils.DBOption) error {
	tx := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	return tx.Create(test).Error
}

func (r *validationTestRepository) Update(ctx context.Context, test *models.ValidationTestEntity, opts ...utils.DBOption) error {
	tx := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	return tx.Save(test).Error
}

func (r *validationTestRepository) Delete(ctx context.Context, id uint, opts ...utils.DBOption) error {
	tx := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	return tx.Delete(&models.ValidationTestEntity{}, id).Error
}

func (r *validationTestRepository) GetByID(ctx context.Context, id uint, opts ...utils.DBOption) (*models.ValidationTestEntity, error) {
	var test models.ValidationTestEntity
	db := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	if err := db.First(&test, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &test, nil
}

func (r *validationTestRepository) GetByIDs(ctx context.Context, ids []uint, opts ...utils.DBOption) ([]models.ValidationTestEntity, error) {
	var tests []models.ValidationTestEntity
	db := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	if err := db.Where("id IN ?", ids).Find(&tests).Error; err != nil {
		return nil, err
	}
	return tests, nil
}

func (r *validationTestRepository) GetByName(ctx context.Context, name string, opts ...utils.DBOption) (*models.ValidationTestEntity, error) {
	var test models.ValidationTestEntity
	db := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	if err := db.Where("name = ?", name).First(&test).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &test, nil
}

func (r *validationTestRepository) GetList(ctx context.Context, category string, limit int, opts ...utils.DBOption) ([]models.ValidationTestEntity, error) {
	var tests []models.ValidationTestEntity
	db := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	db = db.Model(&models.ValidationTestEntity{})
	if category != "" {
		db = db.Where("category = ?", category)
	}
	if limit > 0 {
		db = db.Limit(limit)
	}
	if err := db.Order("name ASC").Find(&tests).Error; err != nil {
		return nil, err
	}
	return tests, nil
}
