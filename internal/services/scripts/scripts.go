package scripts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/shihanpietersz/migration-manager/internal/models"
	"github.com/shihanpietersz/migration-manager/internal/repository"
	"github.com/shihanpietersz/migration-manager/internal/services/security"
)

var (
	ErrScriptNotFound   = errors.New("script not found")
	ErrScriptBlocked    = errors.New("script content is critical risk and cannot be saved")
	ErrBuiltInImmutable = errors.New("built-in scripts cannot be modified or deleted")
	ErrNameTaken        = errors.New("a script with this name already exists")
)

type ScriptService interface {
	Create(ctx context.Context, req *models.CreateScriptRequest) (*models.ScriptEntity, *models.ScanResult, error)
	Update(ctx context.Context, id uint, req *models.UpdateScriptRequest) (*models.ScriptEntity, *models.ScanResult, error)
	Delete(ctx context.Context, id uint) error
	Get(ctx context.Context, id uint) (*models.ScriptEntity, error)
	List(ctx context.Context, param models.ScriptQueryParam) ([]models.ScriptEntity, error)
	Approve(ctx context.Context, id uint, approvedBy string) (*models.ScriptEntity, error)
	Validate(ctx context.Context, req *models.ValidateScriptRequest) *models.ScanResult
	SeedBuiltIn(ctx context.Context) error
}

type scriptService struct {
	log        *logrus.Logger
	scriptRepo repository.ScriptRepository
	scanner    *security.Scanner
}

func NewScriptService(log *logrus.Logger, scriptRepo repository.ScriptRepository, scanner *security.Scanner) ScriptService {
	return &scriptService{
		log:        log,
		scriptRepo: scriptRepo,
		scanner:    scanner,
	}
}

func (s *scriptService) Create(ctx context.Context, req *models.CreateScriptRequest) (*models.ScriptEntity, *models.ScanResult, error) {
	existing, err := s.scriptRepo.GetByName(ctx, req.Name)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check script name: %w", err)
	}
	if existing != nil {
		return nil, nil, ErrNameTaken
	}

	scan := s.scanner.Scan(req.Content, req.Dialect)
	if !scan.CanSave {
		return nil, scan, ErrScriptBlocked
	}

	script := &models.ScriptEntity{
		Name:           req.Name,
		Description:    req.Description,
		Content:        req.Content,
		Dialect:        req.Dialect,
		TargetOS:       req.TargetOS,
		TimeoutSeconds: req.TimeoutSeconds,
	}
	if script.TargetOS == "" {
		script.TargetOS = defaultTargetOS(req.Dialect)
	}
	if script.TimeoutSeconds <= 0 {
		script.TimeoutSeconds = 600
	}
	if err := applyScan(script, scan); err != nil {
		return nil, nil, err
	}
	if err := setParameters(script, req.Parameters); err != nil {
		return nil, nil, err
	}

	if err := s.scriptRepo.Create(ctx, script); err != nil {
		return nil, nil, fmt.Errorf("failed to create script: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"script_id":  script.ID,
		"name":       script.Name,
		"risk_level": script.RiskLevel,
	}).Info("Created script")

	return script, scan, nil
}

func (s *scriptService) Update(ctx context.Context, id uint, req *models.UpdateScriptRequest) (*models.ScriptEntity, *models.ScanResult, error) {
	script, err := s.scriptRepo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load script: %w", err)
	}
	if script == nil {
		return nil, nil, ErrScriptNotFound
	}
	if script.IsBuiltIn {
		return nil, nil, ErrBuiltInImmutable
	}

	if req.Name != nil && *req.Name != script.Name {
		other, err := s.scriptRepo.GetByName(ctx, *req.Name)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to check script name: %w", err)
		}
		if other != nil {
			return nil, nil, ErrNameTaken
		}
		script.Name = *req.Name
	}
	if req.Description != nil {
		script.Description = *req.Description
	}
	if req.TargetOS != nil {
		script.TargetOS = *req.TargetOS
	}
	if req.TimeoutSeconds != nil && *req.TimeoutSeconds > 0 {
		script.TimeoutSeconds = *req.TimeoutSeconds
	}
	if req.Parameters != nil {
		if err := setParameters(script, *req.Parameters); err != nil {
			return nil, nil, err
		}
	}

	var scan *models.ScanResult
	if req.Content != nil && *req.Content != script.Content {
		scan = s.scanner.Scan(*req.Content, script.Dialect)
		if !scan.CanSave {
			return nil, scan, ErrScriptBlocked
		}
		script.Content = *req.Content
		if err := applyScan(script, scan); err != nil {
			return nil, nil, err
		}
		// New content means the old review no longer covers the script.
		if scan.RequiresApproval && script.Approved() {
			script.ApprovedBy = nil
			script.ApprovedAt = nil
			s.log.WithField("script_id", script.ID).Info("Revoked script approval after content change")
		}
	}

	if err := s.scriptRepo.Update(ctx, script); err != nil {
		return nil, nil, fmt.Errorf("failed to update script: %w", err)
	}

	return script, scan, nil
}

func (s *scriptService) Delete(ctx context.Context, id uint) error {
	script, err := s.scriptRepo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load script: %w", err)
	}
	if script == nil {
		return ErrScriptNotFound
	}
	if script.IsBuiltIn {
		return ErrBuiltInImmutable
	}
	if err := s.scriptRepo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete script: %w", err)
	}
	s.log.WithField("script_id", id).Info("Deleted script")
	return nil
}

func (s *scriptService) Get(ctx context.Context, id uint) (*models.ScriptEntity, error) {
	script, err := s.scriptRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load script: %w", err)
	}
	if script == nil {
		return nil, ErrScriptNotFound
	}
	return script, nil
}

func (s *scriptService) List(ctx context.Context, param models.ScriptQueryParam) ([]models.ScriptEntity, error) {
	return s.scriptRepo.GetList(ctx, param)
}

func (s *scriptService) Approve(ctx context.Context, id uint, approvedBy string) (*models.ScriptEntity, error) {
	script, err := s.scriptRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load script: %w", err)
	}
	if script == nil {
		return nil, ErrScriptNotFound
	}

	now := time.Now()
	script.ApprovedBy = &approvedBy
	script.ApprovedAt = &now
	if err := s.scriptRepo.Update(ctx, script); err != nil {
		return nil, fmt.Errorf("failed to approve script: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"script_id":   script.ID,
		"approved_by": approvedBy,
	}).Info("Approved script")

	return script, nil
}

func (s *scriptService) Validate(ctx context.Context, req *models.ValidateScriptRequest) *models.ScanResult {
	return s.scanner.Scan(req.Content, req.Dialect)
}

func defaultTargetOS(dialect models.ScriptDialect) models.TargetOS {
	if dialect == models.DialectBash {
		return models.OSLinux
	}
	return models.OSWindows
}

// applyScan persists the scan snapshot onto the entity.
func applyScan(script *models.ScriptEntity, scan *models.ScanResult) error {
	issues, err := json.Marshal(scan.Issues)
	if err != nil {
		return fmt.Errorf("failed to marshal security issues: %w", err)
	}
	script.RiskLevel = scan.RiskLevel
	script.SecurityScore = scan.Score
	script.SecurityIssues = datatypes.JSON(issues)
	script.Recommendations = scan.Recommendations
	return nil
}

func setParameters(script *models.ScriptEntity, params []models.ScriptParameter) error {
	if params == nil {
		params = []models.ScriptParameter{}
	}
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal parameters: %w", err)
	}
	script.Parameters = datatypes.JSON(data)
	return nil
}
