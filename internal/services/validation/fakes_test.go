package validation

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/shihanpietersz/migration-manager/internal/models"
	"github.com/shihanpietersz/migration-manager/internal/utils"
)

// In-memory repository fakes shared by the engine, scheduler and notifier
// tests.

type fakeTestRepo struct {
	mu    sync.Mutex
	seq   uint
	tests map[uint]*models.ValidationTestEntity
}

func newFakeTestRepo() *fakeTestRepo {
	return &fakeTestRepo{tests: map[uint]*models.ValidationTestEntity{}}
}

func (f *fakeTestRepo) Create(ctx context.Context, test *models.ValidationTestEntity, opts ...utils.DBOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	test.ID = f.seq
	copied := *test
	f.tests[test.ID] = &copied
	return nil
}

func (f *fakeTestRepo) Update(ctx context.Context, test *models.ValidationTestEntity, opts ...utils.DBOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *test
	f.tests[test.ID] = &copied
	return nil
}

func (f *fakeTestRepo) Delete(ctx context.Context, id uint, opts ...utils.DBOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tests, id)
	return nil
}

func (f *fakeTestRepo) GetByID(ctx context.Context, id uint, opts ...utils.DBOption) (*models.ValidationTestEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	test, ok := f.tests[id]
	if !ok {
		return nil, nil
	}
	copied := *test
	return &copied, nil
}

func (f *fakeTestRepo) GetByIDs(ctx context.Context, ids []uint, opts ...utils.DBOption) ([]models.ValidationTestEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ValidationTestEntity
	for _, id := range ids {
		if test, ok := f.tests[id]; ok {
			out = append(out, *test)
		}
	}
	return out, nil
}

func (f *fakeTestRepo) GetByName(ctx context.Context, name string, opts ...utils.DBOption) (*models.ValidationTestEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, test := range f.tests {
		if test.Name == name {
			copied := *test
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeTestRepo) GetList(ctx context.Context, category string, limit int, opts ...utils.DBOption) ([]models.ValidationTestEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ValidationTestEntity
	for _, test := range f.tests {
		if category == "" || test.Category == category {
			out = append(out, *test)
		}
	}
	return out, nil
}

type fakeSuiteRepo struct {
	mu     sync.Mutex
	seq    uint
	suites map[uint]*models.TestSuiteEntity
}

func newFakeSuiteRepo() *fakeSuiteRepo {
	return &fakeSuiteRepo{suites: map[uint]*models.TestSuiteEntity{}}
}

func (f *fakeSuiteRepo) Create(ctx context.Context, suite *models.TestSuiteEntity, opts ...utils.DBOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	suite.ID = f.seq
	copied := *suite
	f.suites[suite.ID] = &copied
	return nil
}

func (f *fakeSuiteRepo) Update(ctx context.Context, suite *models.TestSuiteEntity, opts ...utils.DBOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *suite
	f.suites[suite.ID] = &copied
	return nil
}

func (f *fakeSuiteRepo) Delete(ctx context.Context, id uint, opts ...utils.DBOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.suites, id)
	return nil
}

func (f *fakeSuiteRepo) GetByID(ctx context.Context, id uint, opts ...utils.DBOption) (*models.TestSuiteEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	suite, ok := f.suites[id]
	if !ok {
		return nil, nil
	}
	copied := *suite
	return &copied, nil
}

func (f *fakeSuiteRepo) GetList(ctx context.Context, limit int, opts ...utils.DBOption) ([]models.TestSuiteEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.TestSuiteEntity
	for _, suite := range f.suites {
		out = append(out, *suite)
	}
	return out, nil
}

type fakeAssignmentRepo struct {
	mu          sync.Mutex
	seq         uint
	assignments map[uint]*models.VmTestAssignmentEntity
}

func newFakeAssignmentRepo() *fakeAssignmentRepo {
	return &fakeAssignmentRepo{assignments: map[uint]*models.VmTestAssignmentEntity{}}
}

func (f *fakeAssignmentRepo) Create(ctx context.Context, assignment *models.VmTestAssignmentEntity, opts ...utils.DBOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	assignment.ID = f.seq
	copied := *assignment
	copied.Test = nil
	f.assignments[assignment.ID] = &copied
	return nil
}

func (f *fakeAssignmentRepo) Update(ctx context.Context, assignment *models.VmTestAssignmentEntity, opts ...utils.DBOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *assignment
	copied.Test = nil
	f.assignments[assignment.ID] = &copied
	return nil
}

func (f *fakeAssignmentRepo) UpdateFields(ctx context.Context, id uint, fields map[string]interface{}, opts ...utils.DBOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	assignment, ok := f.assignments[id]
	if !ok {
		return nil
	}
	for key, value := range fields {
		switch key {
		case "last_status":
			assignment.LastStatus = value.(models.TestResultStatus)
		case "last_duration_ms":
			assignment.LastDurationMs = value.(int)
		case "last_output":
			assignment.LastOutput = value.(string)
		case "last_run_at":
			assignment.LastRunAt = toNull(value)
		case "next_run_at":
			assignment.NextRunAt = toNull(value)
		}
	}
	return nil
}

func toNull(value interface{}) sql.NullTime {
	if value == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value.(time.Time), Valid: true}
}

func (f *fakeAssignmentRepo) Delete(ctx context.Context, id uint, opts ...utils.DBOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.assignments, id)
	return nil
}

func (f *fakeAssignmentRepo) GetByID(ctx context.Context, id uint, opts ...utils.DBOption) (*models.VmTestAssignmentEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	assignment, ok := f.assignments[id]
	if !ok {
		return nil, nil
	}
	copied := *assignment
	return &copied, nil
}

func (f *fakeAssignmentRepo) GetList(ctx context.Context, param models.AssignmentQueryParam, opts ...utils.DBOption) ([]models.VmTestAssignmentEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.VmTestAssignmentEntity
	for _, assignment := range f.assignments {
		if param.VMID != "" && assignment.VMID != param.VMID {
			continue
		}
		if param.TestID != nil && assignment.TestID != *param.TestID {
			continue
		}
		if param.Enabled != nil && (assignment.Enabled == nil || *assignment.Enabled != *param.Enabled) {
			continue
		}
		if param.DueOnly {
			if assignment.ScheduleType == models.ScheduleManual ||
				!assignment.NextRunAt.Valid ||
				assignment.NextRunAt.Time.After(time.Now()) {
				continue
			}
		}
		out = append(out, *assignment)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].VMID != out[j].VMID {
			return out[i].VMID < out[j].VMID
		}
		return out[i].ID < out[j].ID
	})
	if param.Limit > 0 && len(out) > param.Limit {
		out = out[:param.Limit]
	}
	return out, nil
}

type fakeResultRepo struct {
	mu      sync.Mutex
	seq     uint
	results []models.VmTestResultEntity
}

func newFakeResultRepo() *fakeResultRepo {
	return &fakeResultRepo{}
}

func (f *fakeResultRepo) Create(ctx context.Context, result *models.VmTestResultEntity, opts ...utils.DBOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	result.ID = f.seq
	result.CreatedAt = time.Now()
	f.results = append(f.results, *result)
	return nil
}

func (f *fakeResultRepo) GetByAssignment(ctx context.Context, assignmentID uint, limit int, opts ...utils.DBOption) ([]models.VmTestResultEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.VmTestResultEntity
	for i := len(f.results) - 1; i >= 0; i-- {
		if f.results[i].AssignmentID != assignmentID {
			continue
		}
		out = append(out, f.results[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

type fakeNotificationRepo struct {
	mu            sync.Mutex
	seq           uint
	notifications map[uint]*models.TestNotificationEntity
}

func newFakeNotificationRepo() *fakeNotificationRepo {
	return &fakeNotificationRepo{notifications: map[uint]*models.TestNotificationEntity{}}
}

func (f *fakeNotificationRepo) Create(ctx context.Context, notification *models.TestNotificationEntity, opts ...utils.DBOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	notification.ID = f.seq
	copied := *notification
	f.notifications[notification.ID] = &copied
	return nil
}

func (f *fakeNotificationRepo) Update(ctx context.Context, notification *models.TestNotificationEntity, opts ...utils.DBOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *notification
	f.notifications[notification.ID] = &copied
	return nil
}

func (f *fakeNotificationRepo) Delete(ctx context.Context, id uint, opts ...utils.DBOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.notifications, id)
	return nil
}

func (f *fakeNotificationRepo) GetByID(ctx context.Context, id uint, opts ...utils.DBOption) (*models.TestNotificationEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	notification, ok := f.notifications[id]
	if !ok {
		return nil, nil
	}
	copied := *notification
	return &copied, nil
}

func (f *fakeNotificationRepo) GetEnabled(ctx context.Context, opts ...utils.DBOption) ([]models.TestNotificationEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.TestNotificationEntity
	for _, notification := range f.notifications {
		if notification.Enabled != nil && *notification.Enabled {
			out = append(out, *notification)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeNotificationRepo) GetList(ctx context.Context, limit int, opts ...utils.DBOption) ([]models.TestNotificationEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.TestNotificationEntity
	for _, notification := range f.notifications {
		out = append(out, *notification)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeNotificationRepo) StampNotified(ctx context.Context, id uint, at time.Time, opts ...utils.DBOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if notification, ok := f.notifications[id]; ok {
		notification.LastNotifiedAt.Time = at
		notification.LastNotifiedAt.Valid = true
	}
	return nil
}

type fakeActivityRepo struct {
	mu      sync.Mutex
	entries []models.ActivityLogEntity
}

func (f *fakeActivityRepo) Create(ctx context.Context, entry *models.ActivityLogEntity, opts ...utils.DBOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeActivityRepo) GetList(ctx context.Context, param models.ActivityQueryParam, opts ...utils.DBOption) ([]models.ActivityLogEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ActivityLogEntity{}, f.entries...), nil
}

// fakeValidationRemote simulates the remote command client.
type fakeValidationRemote struct {
	mu      sync.Mutex
	results map[string]*models.RunResult
	errs    map[string]error
	osTypes map[string]models.TargetOS
	scripts []submittedScript
}

type submittedScript struct {
	vmID    string
	script  string
	dialect models.ScriptDialect
}

func newFakeValidationRemote() *fakeValidationRemote {
	return &fakeValidationRemote{
		results: map[string]*models.RunResult{},
		errs:    map[string]error{},
		osTypes: map[string]models.TargetOS{},
	}
}

func (f *fakeValidationRemote) RunSync(ctx context.Context, vmID, script string, dialect models.ScriptDialect, timeoutSeconds int) (*models.RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, submittedScript{vmID: vmID, script: script, dialect: dialect})
	if err, ok := f.errs[vmID]; ok {
		return nil, err
	}
	if result, ok := f.results[vmID]; ok {
		copied := *result
		return &copied, nil
	}
	return &models.RunResult{Success: true, Output: "ok", ExitCode: 0}, nil
}

func (f *fakeValidationRemote) ResolveOSType(ctx context.Context, vmID string) (models.TargetOS, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if osType, ok := f.osTypes[vmID]; ok {
		return osType, nil
	}
	return models.OSLinux, nil
}
