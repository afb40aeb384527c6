package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/shihanpietersz/migration-manager/internal/models"
	"github.com/shihanpietersz/migration-manager/internal/utils"
)

type ScriptRepository interface {
	Create(ctx context.Context, script *models.ScriptEntity, opts ...utils.DBOption) error
	Update(ctx context.Context, script *models.ScriptEntity, opts ...utils.DBOption) error
	UpdateFields(ctx context.Context, id uint, fields map[string]interface{}, opts ...utils.DBOption) error
	Delete(ctx context.Context, id uint, opts ...utils.DBOption) error
	GetByID(ctx context.Context, id uint, opts ...utils.DBOption) (*models.ScriptEntity, error)
	GetByName(ctx context.Context, name string, opts ...utils.DBOption) (*models.ScriptEntity, error)
	GetList(ctx context.Context, param models.ScriptQueryParam, opts ...utils.DBOption) ([]models.ScriptEntity, error)
}

type scriptRepository struct {
	db *gorm.DB
}

func NewScriptRepository(db *gorm.DB) ScriptRepository {
	return &scriptRepository{db: db}
}

func (r *scriptRepository) Create(ctx context.Context, script *models.ScriptEntity, opts ...utils.DBOption) error {
	tx := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	return tx.Create(script).Error
}

func (r *scriptRepository) Update(ctx context.Context, script *models.ScriptEntity, opts ...utils.DBOption) error {
	tx := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	return tx.Save(script).Error
}

func (r *scriptRepository) UpdateFields(ctx context.Context, id uint, fields map[string]interface{}, opts ...utils.DBOption) error {
	tx := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	return tx.Model(&models.ScriptEntity{}).Where("id = ?", id).Updates(fields).Error
}

func (r *scriptRepository) Delete(ctx context.Context, id uint, opts ...utils.DBOption) error {
	tx := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	return tx.Delete(&models.ScriptEntity{}, id).Error
}

func (r *scriptRepository) GetByID(ctx context.Context, id uint, opts ...utils.DBOption) (*models.ScriptEntity, error) {
	var script models.ScriptEntity
	db := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	if err := db.First(&script, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &script, nil
}

func (r *scriptRepository) GetByName(ctx context.Context, name string, opts ...utils.DBOption) (*models.ScriptEntity, error) {
	var script models.ScriptEntity
	db := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	if err := db.Where("name = ?", name).First(&script).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &script, nil
}

func (r *scriptRepository) GetList(ctx context.Context, param models.ScriptQueryParam, opts ...utils.DBOption) ([]models.ScriptEntity, error) {
	var scripts []models.ScriptEntity
	db := utils.ApplyOptions(r.db.WithContext(ctx), opts...)
	db = db.Model(&models.ScriptEntity{})
	if param.Dialect != "" {
		db = db.Where("dialect = ?", param.Dialect)
	}
	if param.TargetOS != "" {
		db = db.Where("target_os = ?", param.TargetOS)
	}
	if param.RiskLevel != "" {
		db = db.Where("risk_level = ?", param.RiskLevel)
	}
	if param.BuiltIn != nil {
		db = db.Where("is_built_in = ?", *param.BuiltIn)
	}
	if param.Limit > 0 {
		db = db.Limit(param.Limit)
	}
	if err := db.Order("name ASC").Find(&scripts).Error; err != nil {
		return nil, err
	}
	return scripts, nil
}
