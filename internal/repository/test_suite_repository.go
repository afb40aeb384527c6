package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/shihanpietersz/migration-manager/internal/models"
	"github.com/shihanpietersz/migration-manager/internal/utils"
)

type TestSuiteRepository interface {
	Create(ctx context.Context, suite *models.TestSuiteEntity, opts ...utils.DBOption) error
	Update(ctx context.Context, suite *models.TestSuiteEntity, opts ...utils.DBOption) error
	Delete(ctx context.Context, id uint, opts ...utils.DBOption) error
	GetByID(ctx context.Context, id uint, opts ...utils.DBOption) (*models.TestSuiteEntity, error)
	GetList(ctx context.Context, limit int, opts ...utils.DBOption) ([]models.TestSuiteEntity, error)
}

type testSuiteRepository struct {
	db *gorm.DB
}

func NewTestSuiteRepository(db *gorm.DB) TestSuiteRepository {
	return &testSuiteRepository{db: db}
}

func (r *testSuiteRepository) Create(ctx context.Context, suite *models.TestSuiteEntity, opts ...utils.DBOption) error {
	tx := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	return tx.Create(suite).Error
}

func (r *testSuiteRepository) Update(ctx context.Context, suite *models.TestSuiteEntity, opts ...utils.DBOption) error {
	tx := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	return tx.Save(suite).Error
}

func (r *testSuiteRepository) Delete(ctx context.Context, id uint, opts ...utils.DBOption) error {
	tx := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	return tx.Delete(&models.TestSuiteEntity{}, id).Error
}

func (r *testSuiteRepository) GetByID(ctx context.Context, id uint, opts ...utils.DBOption) (*models.TestSuiteEntity, error) {
	var suite models.TestSuiteEntity
	db := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	if err := db.First(&suite, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &suite, nil
}

func (r *testSuiteRepository) GetList(ctx context.Context, limit int, opts ...utils.DBOption) ([]models.TestSuiteEntity, error) {
	var suites []models.TestSuiteEntity
	db := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	if limit > 0 {
		db = db.Limit(limit)
	}
	if err := db.Order("name ASC").Find(&suites).Error; err != nil {
		return nil, err
	}
	return suites, nil
}
