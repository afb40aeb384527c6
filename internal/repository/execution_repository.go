package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/shihanpietersz/migration-manager/internal/models"
	"github.com/shihanpietersz/migration-manager/internal/utils"
)

type ExecutionRepository interface {
	Create(ctx context.Context, execution *models.ExecutionEntity, opts ...utils.DBOption) error
	GetByID(ctx context.Context, id string, withTargets bool, opts ...utils.DBOption) (*models.ExecutionEntity, error)
	GetList(ctx context.Context, param models.ExecutionQueryParam, opts ...utils.DBOption) ([]models.ExecutionEntity, error)
	UpdateFields(ctx context.Context, id string, fields map[string]interface{}, opts ...utils.DBOption) error
	IncrementSuccessCount(ctx context.Context, id string, opts ...utils.DBOption) error
	IncrementFailCount(ctx context.Context, id string, opts ...utils.DBOption) error

	GetTarget(ctx context.Context, targetID uint, opts ...utils.DBOption) (*models.ExecutionTargetEntity, error)
	GetTargets(ctx context.Context, executionID string, statuses []models.ExecutionStatus, opts ...utils.DBOption) ([]models.ExecutionTargetEntity, error)
	UpdateTargetFields(ctx context.Context, targetID uint, fields map[string]interface{}, opts ...utils.DBOption) error
	MarkTargetRunning(ctx context.Context, targetID uint, opts ...utils.DBOption) (bool, error)
	CancelPendingTargets(ctx context.Context, executionID string, opts ...utils.DBOption) (int64, error)
	ResetFailedTargets(ctx context.Context, executionID string, opts ...utils.DBOption) (int64, error)
}

type executionRepository struct {
	db *gorm.DB
}

func NewExecutionRepository(db *gorm.DB) ExecutionRepository {
	return &executionRepository{db: db}
}

func (r *executionRepository) Create(ctx context.Context, execution *models.ExecutionEntity, opts ...utils.DBOption) error {
	tx := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	return tx.Create(execution).Error
}

func (r *executionRepository) GetByID(ctx context.Context, id string, withTargets bool, opts ...utils.DBOption) (*models.ExecutionEntity, error) {
	var execution models.ExecutionEntity
	db := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	if withTargets {
		db = db.Preload("Targets", func(db *gorm.DB) *gorm.DB {
			return db.Order("id ASC")
		})
	}
	if err := db.Where("id = ?", id).First(&execution).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &execution, nil
}

func (r *executionRepository) GetList(ctx context.Context, param models.ExecutionQueryParam, opts ...utils.DBOption) ([]models.ExecutionEntity, error) {
	var executions []models.ExecutionEntity
	db := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	db = db.Model(&models.ExecutionEntity{})
	if len(param.Statuses) > 0 {
		db = db.Where("status IN ?", param.Statuses)
	}
	if param.ScriptID != nil {
		db = db.Where("script_id = ?", *param.ScriptID)
	}
	if param.WithTargets {
		db = db.Preload("Targets")
	}
	if param.Limit > 0 {
		db = db.Limit(param.Limit)
	}
	if err := db.Order("created_at DESC").Find(&executions).Error; err != nil {
		return nil, err
	}
	return executions, nil
}

func (r *executionRepository) UpdateFields(ctx context.Context, id string, fields map[string]interface{}, opts ...utils.DBOption) error {
	tx := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	return tx.Model(&models.ExecutionEntity{}).Where("id = ?", id).Updates(fields).Error
}

// Counter increments run as atomic SQL updates so concurrent target
// completions cannot lose updates.
func (r *executionRepository) IncrementSuccessCount(ctx context.Context, id string, opts ...utils.DBOption) error {
	tx := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	return tx.Model(&models.ExecutionEntity{}).Where("id = ?", id).
		Update("success_count", gorm.Expr("success_count + 1")).Error
}

func (r *executionRepository) IncrementFailCount(ctx context.Context, id string, opts ...utils.DBOption) error {
	tx := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	return tx.Model(&models.ExecutionEntity{}).Where("id = ?", id).
		Update("fail_count", gorm.Expr("fail_count + 1")).Error
}

func (r *executionRepository) GetTarget(ctx context.Context, targetID uint, opts ...utils.DBOption) (*models.ExecutionTargetEntity, error) {
	var target models.ExecutionTargetEntity
	db := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	if err := db.First(&target, targetID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &target, nil
}

func (r *executionRepository) GetTargets(ctx context.Context, executionID string, statuses []models.ExecutionStatus, opts ...utils.DBOption) ([]models.ExecutionTargetEntity, error) {
	var targets []models.ExecutionTargetEntity
	db := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	db = db.Where("execution_id = ?", executionID)
	if len(statuses) > 0 {
		db = db.Where("status IN ?", statuses)
	}
	if err := db.Order("id ASC").Find(&targets).Error; err != nil {
		return nil, err
	}
	return targets, nil
}

func (r *executionRepository) UpdateTargetFields(ctx context.Context, targetID uint, fields map[string]interface{}, opts ...utils.DBOption) error {
	tx := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	return tx.Model(&models.ExecutionTargetEntity{}).Where("id = ?", targetID).Updates(fields).Error
}

// MarkTargetRunning claims one pending target for execution and reports
// whether the row still matched. A target cancelled after being fetched for a
// batch no longer matches and must not run.
func (r *executionRepository) MarkTargetRunning(ctx context.Context, targetID uint, opts ...utils.DBOption) (bool, error) {
	tx := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	result := tx.Model(&models.ExecutionTargetEntity{}).
		Where("id = ? AND status = ?", targetID, models.ExecutionPending).
		Updates(map[string]interface{}{
			"status":     models.ExecutionRunning,
			"started_at": time.Now(),
		})
	return result.RowsAffected > 0, result.Error
}

// CancelPendingTargets flips only pending targets; running and terminal
// targets are left untouched.
func (r *executionRepository) CancelPendingTargets(ctx context.Context, executionID string, opts ...utils.DBOption) (int64, error) {
	tx := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	result := tx.Model(&models.ExecutionTargetEntity{}).
		Where("execution_id = ? AND status = ?", executionID, models.ExecutionPending).
		Updates(map[string]interface{}{
			"status":       models.ExecutionCancelled,
			"completed_at": time.Now(),
		})
	return result.RowsAffected, result.Error
}

// ResetFailedTargets puts failed targets back to pending and clears their
// previous outcome so a retry starts clean.
func (r *executionRepository) ResetFailedTargets(ctx context.Context, executionID string, opts ...utils.DBOption) (int64, error) {
	tx := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	result := tx.Model(&models.ExecutionTargetEntity{}).
		Where("execution_id = ? AND status = ?", executionID, models.ExecutionFailed).
		Updates(map[string]interface{}{
			"status":        models.ExecutionPending,
			"job_name":      nil,
			"exit_code":     nil,
			"output":        nil,
			"error_output":  nil,
			"error_message": nil,
			"started_at":    nil,
			"completed_at":  nil,
		})
	return result.RowsAffected, result.Error
}
