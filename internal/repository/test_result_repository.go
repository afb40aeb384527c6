package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/shihanpietersz/migration-manager/internal/models"
	"github.com/shihanpietersz/migration-manager/internal/utils"
)

type TestResultRepository interface {
	Create(ctx context.Context, result *models.VmTestResultEntity, opts ...utils.DBOption) error
	GetByAssignment(ctx context.Context, assignmentID uint, limit int, opts ...utils.DBOption) ([]models.VmTestResultEntity, error)
}

type testResultRepository struct {
	db *gorm.DB
}

func NewTestResultRepository(db *gorm.DB) TestResultRepository {
	return &testResultRepository{db: db}
}

func (r *testResultRepository) Create(ctx context.Context, result *models.VmTestResultEntity, opts ...utils.DBOption) error {
	tx := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	return tx.Create(result).Error
}

// GetByAssignment returns the most recent results first.
func (r *testResultRepository) GetByAssignment(ctx context.Context, assignmentID uint, limit int, opts ...utils.DBOption) ([]models.VmTestResultEntity, error) {
	var results []models.VmTestResultEntity
	db := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	db = db.Where("assignment_id = ?", assignmentID).Order("created_at DESC")
	if limit > 0 {
		db = db.Limit(limit)
	}
	if err := db.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
