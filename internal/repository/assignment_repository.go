package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/shihanpietersz/migration-manager/internal/models"
	"github.com/shihanpietersz/migration-manager/internal/utils"
)

type AssignmentRepository interface {
	Create(ctx context.Context, assignment *models.VmTestAssignmentEntity, opts ...utils.DBOption) error
	Update(ctx context.Context, assignment *models.VmTestAssignmentEntity, opts ...utils.DBOption) error
	UpdateFields(ctx context.Context, id uint, fields map[string]interface{}, opts ...utils.DBOption) error
	Delete(ctx context.Context, id uint, opts ...utils.DBOption) error
	GetByID(ctx context.Context, id uint, opts ...utils.DBOption) (*models.VmTestAssignmentEntity, error)
	GetList(ctx context.Context, param models.AssignmentQueryParam, opts ...utils.DBOption) ([]models.VmTestAssignmentEntity, error)
}

type assignmentRepository struct {
	db *gorm.DB
}

func NewAssignmentRepository(db *gorm.DB) AssignmentRepository {
	return &assignmentRepository{db: db}
}

func (r *assignmentRepository) Create(ctx context.Context, assignment *models.VmTestAssignmentEntity, opts ...utils.DBOption) error {
	tx := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	return tx.Create(assignment).Error
}

func (r *assignmentRepository) Update(ctx context.Context, assignment *models.VmTestAssignmentEntity, opts ...utils.DBOption) error {
	tx := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	return tx.Save(assignment).Error
}

func (r *assignmentRepository) UpdateFields(ctx context.Context, id uint, fields map[string]interface{}, opts ...utils.DBOption) error {
	tx := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	return tx.Model(&models.VmTestAssignmentEntity{}).Where("id = ?", id).Updates(fields).Error
}

func (r *assignmentRepository) Delete(ctx context.Context, id uint, opts ...utils.DBOption) error {
	tx := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	return tx.Delete(&models.VmTestAssignmentEntity{}, id).Error
}

func (r *assignmentRepository) GetByID(ctx context.Context, id uint, opts ...utils.DBOption) (*models.VmTestAssignmentEntity, error) {
	var assignment models.VmTestAssignmentEntity
	db := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	if err := db.Preload("Test").First(&assignment, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &assignment, nil
}

func (r *assignmentRepository) GetList(ctx context.Context, param models.AssignmentQueryParam, opts ...utils.DBOption) ([]models.VmTestAssignmentEntity, error) {
	var assignments []models.VmTestAssignmentEntity
	db := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	db = db.Model(&models.VmTestAssignmentEntity{}).Preload("Test")
	if param.VMID != "" {
		db = db.Where("vm_id = ?", param.VMID)
	}
	if param.TestID != nil {
		db = db.Where("test_id = ?", *param.TestID)
	}
	if param.Enabled != nil {
		db = db.Where("enabled = ?", *param.Enabled)
	}
	if param.DueOnly {
		db = db.Where("schedule_type <> ?", models.ScheduleManual).
			Where("next_run_at IS NOT NULL AND next_run_at <= ?", time.Now())
	}
	if param.Limit > 0 {
		db = db.Limit(param.Limit)
	}
	if err := db.Order("vm_id ASC, id ASC").Find(&assignments).Error; err != nil {
		return nil, err
	}
	return assignments, nil
}
