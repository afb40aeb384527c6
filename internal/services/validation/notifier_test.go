package validation

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"github.com/shihanpietersz/migration-manager/internal/models"
	"github.com/shihanpietersz/migration-manager/internal/utils"
)

type fakeTelegram struct {
	messages []string
	opts     [][]interface{}
}

func (f *fakeTelegram) Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error) {
	f.messages = append(f.messages, what.(string))
	f.opts = append(f.opts, opts)
	return &telebot.Message{}, nil
}

func newTestNotifier(notificationRepo *fakeNotificationRepo, resultRepo *fakeResultRepo, activityRepo *fakeActivityRepo) *Notifier {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return &Notifier{
		log:              log,
		notificationRepo: notificationRepo,
		resultRepo:       resultRepo,
		activityRepo:     activityRepo,
		httpClient:       &http.Client{Timeout: 5 * time.Second},
	}
}

func failedRun() (*models.VmTestAssignmentEntity, *models.ValidationTestEntity, *models.VmTestResultEntity) {
	assignment := &models.VmTestAssignmentEntity{
		ID:     1,
		TestID: 7,
		VMID:   "vm-1",
		VMName: "web01",
	}
	test := &models.ValidationTestEntity{ID: 7, Name: "nginx-active"}
	result := &models.VmTestResultEntity{
		AssignmentID:  1,
		Status:        models.TestFailed,
		FailureReason: `Output does not contain "active"`,
	}
	return assignment, test, result
}

func TestNotifyFailureSendsWebhook(t *testing.T) {
	var calls atomic.Int32
	var payload webhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("failed to decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notificationRepo := newFakeNotificationRepo()
	notificationRepo.Create(context.Background(), &models.TestNotificationEntity{
		Name:       "all-failures",
		Scope:      models.ScopeAll,
		Trigger:    models.TriggerOnFailure,
		Channel:    models.ChannelWebhook,
		WebhookURL: server.URL,
		Enabled:    utils.ToPointer(true),
	})

	n := newTestNotifier(notificationRepo, newFakeResultRepo(), &fakeActivityRepo{})
	assignment, test, result := failedRun()
	n.NotifyFailure(context.Background(), assignment, test, result)

	if calls.Load() != 1 {
		t.Fatalf("webhook called %d times, want 1", calls.Load())
	}
	if payload.Test != "nginx-active" || payload.VMName != "web01" || payload.Status != models.TestFailed {
		t.Errorf("payload = %+v", payload)
	}

	stored, _ := notificationRepo.GetByID(context.Background(), 1)
	if !stored.LastNotifiedAt.Valid {
		t.Error("successful dispatch should stamp last_notified_at")
	}
}

func TestNotifyFailureScopeFiltering(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	notificationRepo := newFakeNotificationRepo()
	notificationRepo.Create(context.Background(), &models.TestNotificationEntity{
		Name:       "other-vm-only",
		Scope:      models.ScopeVM,
		VMID:       "vm-other",
		Trigger:    models.TriggerOnFailure,
		Channel:    models.ChannelWebhook,
		WebhookURL: server.URL,
		Enabled:    utils.ToPointer(true),
	})
	notificationRepo.Create(context.Background(), &models.TestNotificationEntity{
		Name:       "other-test-only",
		Scope:      models.ScopeTest,
		TestID:     utils.ToPointer(uint(99)),
		Trigger:    models.TriggerOnFailure,
		Channel:    models.ChannelWebhook,
		WebhookURL: server.URL,
		Enabled:    utils.ToPointer(true),
	})
	notificationRepo.Create(context.Background(), &models.TestNotificationEntity{
		Name:       "matching-test",
		Scope:      models.ScopeTest,
		TestID:     utils.ToPointer(uint(7)),
		Trigger:    models.TriggerOnFailure,
		Channel:    models.ChannelWebhook,
		WebhookURL: server.URL,
		Enabled:    utils.ToPointer(true),
	})

	n := newTestNotifier(notificationRepo, newFakeResultRepo(), &fakeActivityRepo{})
	assignment, test, result := failedRun()
	n.NotifyFailure(context.Background(), assignment, test, result)

	if calls.Load() != 1 {
		t.Errorf("webhook called %d times, want 1 (only the matching test-scope rule)", calls.Load())
	}
}

func TestNotifyFailureCooldown(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	notificationRepo := newFakeNotificationRepo()
	notificationRepo.Create(context.Background(), &models.TestNotificationEntity{
		Name:           "cooled-down",
		Scope:          models.ScopeAll,
		Trigger:        models.TriggerOnFailure,
		Channel:        models.ChannelWebhook,
		WebhookURL:     server.URL,
		CooldownMins:   30,
		Enabled:        utils.ToPointer(true),
		LastNotifiedAt: sql.NullTime{Time: time.Now().Add(-5 * time.Minute), Valid: true},
	})

	n := newTestNotifier(notificationRepo, newFakeResultRepo(), &fakeActivityRepo{})
	assignment, test, result := failedRun()
	n.NotifyFailure(context.Background(), assignment, test, result)

	if calls.Load() != 0 {
		t.Errorf("webhook called %d times during cooldown, want 0", calls.Load())
	}

	// An expired cooldown dispatches again.
	stored, _ := notificationRepo.GetByID(context.Background(), 1)
	stored.LastNotifiedAt = sql.NullTime{Time: time.Now().Add(-45 * time.Minute), Valid: true}
	notificationRepo.Update(context.Background(), stored)

	n.NotifyFailure(context.Background(), assignment, test, result)
	if calls.Load() != 1 {
		t.Errorf("webhook called %d times after cooldown expiry, want 1", calls.Load())
	}
}

func TestNotifyFailureConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	notificationRepo := newFakeNotificationRepo()
	notificationRepo.Create(context.Background(), &models.TestNotificationEntity{
		Name:         "three-strikes",
		Scope:        models.ScopeAll,
		Trigger:      models.TriggerConsecutiveFailures,
		FailureCount: 3,
		Channel:      models.ChannelWebhook,
		WebhookURL:   server.URL,
		Enabled:      utils.ToPointer(true),
	})

	resultRepo := newFakeResultRepo()
	n := newTestNotifier(notificationRepo, resultRepo, &fakeActivityRepo{})
	assignment, test, result := failedRun()

	// Two failures on record: below the threshold.
	resultRepo.Create(context.Background(), &models.VmTestResultEntity{AssignmentID: 1, Status: models.TestFailed})
	resultRepo.Create(context.Background(), &models.VmTestResultEntity{AssignmentID: 1, Status: models.TestFailed})
	n.NotifyFailure(context.Background(), assignment, test, result)
	if calls.Load() != 0 {
		t.Fatalf("notified below threshold: %d calls", calls.Load())
	}

	// Third failure reaches the threshold.
	resultRepo.Create(context.Background(), &models.VmTestResultEntity{AssignmentID: 1, Status: models.TestFailed})
	n.NotifyFailure(context.Background(), assignment, test, result)
	if calls.Load() != 1 {
		t.Fatalf("expected 1 call at threshold, got %d", calls.Load())
	}

	// A pass in the window resets the streak.
	resultRepo.Create(context.Background(), &models.VmTestResultEntity{AssignmentID: 1, Status: models.TestPassed})
	resultRepo.Create(context.Background(), &models.VmTestResultEntity{AssignmentID: 1, Status: models.TestFailed})
	n.NotifyFailure(context.Background(), assignment, test, result)
	if calls.Load() != 1 {
		t.Errorf("notified despite a pass in the window: %d calls", calls.Load())
	}
}

func TestNotifyFailureActivityLogChannel(t *testing.T) {
	notificationRepo := newFakeNotificationRepo()
	notificationRepo.Create(context.Background(), &models.TestNotificationEntity{
		Name:    "audit-trail",
		Scope:   models.ScopeAll,
		Trigger: models.TriggerOnFailure,
		Channel: models.ChannelActivityLog,
		Enabled: utils.ToPointer(true),
	})

	activityRepo := &fakeActivityRepo{}
	n := newTestNotifier(notificationRepo, newFakeResultRepo(), activityRepo)
	assignment, test, result := failedRun()
	n.NotifyFailure(context.Background(), assignment, test, result)

	if len(activityRepo.entries) != 1 {
		t.Fatalf("expected 1 activity entry, got %d", len(activityRepo.entries))
	}
	entry := activityRepo.entries[0]
	if entry.EventType != models.ActivityNotificationFired {
		t.Errorf("event type = %s", entry.EventType)
	}
	if entry.Subject != "vm-1" {
		t.Errorf("subject = %q", entry.Subject)
	}
}

func TestNotifyFailureTelegramChannel(t *testing.T) {
	notificationRepo := newFakeNotificationRepo()
	notificationRepo.Create(context.Background(), &models.TestNotificationEntity{
		Name:    "chat-alert",
		Scope:   models.ScopeAll,
		Trigger: models.TriggerOnFailure,
		Channel: models.ChannelTelegram,
		Enabled: utils.ToPointer(true),
	})

	telegram := &fakeTelegram{}
	n := newTestNotifier(notificationRepo, newFakeResultRepo(), &fakeActivityRepo{})
	n.telegram = telegram
	n.telegramChatID = 42

	assignment, test, result := failedRun()
	result.FailureReason = "Exit code 1 (expected 0)"
	n.NotifyFailure(context.Background(), assignment, test, result)

	if len(telegram.messages) != 1 {
		t.Fatalf("expected 1 telegram message, got %d", len(telegram.messages))
	}
	want := `Validation test "nginx\-active" failed on web01: Exit code 1 \(expected 0\)`
	if telegram.messages[0] != want {
		t.Errorf("message = %q, want it escaped for MarkdownV2", telegram.messages[0])
	}
	if len(telegram.opts) != 1 || len(telegram.opts[0]) != 1 || telegram.opts[0][0] != telebot.ModeMarkdownV2 {
		t.Errorf("send options = %+v, want MarkdownV2 parse mode", telegram.opts)
	}
}

func TestNotifyFailureSkipsDisabledRules(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	notificationRepo := newFakeNotificationRepo()
	notificationRepo.Create(context.Background(), &models.TestNotificationEntity{
		Name:       "disabled",
		Scope:      models.ScopeAll,
		Trigger:    models.TriggerOnFailure,
		Channel:    models.ChannelWebhook,
		WebhookURL: server.URL,
		Enabled:    utils.ToPointer(false),
	})

	n := newTestNotifier(notificationRepo, newFakeResultRepo(), &fakeActivityRepo{})
	assignment, test, result := failedRun()
	n.NotifyFailure(context.Background(), assignment, test, result)

	if calls.Load() != 0 {
		t.Errorf("disabled rule dispatched %d times", calls.Load())
	}
}
