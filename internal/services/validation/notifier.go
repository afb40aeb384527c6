package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"github.com/shihanpietersz/migration-manager/internal/config"
	"github.com/shihanpietersz/migration-manager/internal/models"
	"github.com/shihanpietersz/migration-manager/internal/repository"
	"github.com/shihanpietersz/migration-manager/internal/utils"
)

type telegramSender interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// Notifier fans failed test runs out to the configured notification rules.
// Dispatch is best-effort: a broken webhook never fails the test run itself.
type Notifier struct {
	log              *logrus.Logger
	notificationRepo repository.NotificationRepository
	resultRepo       repository.TestResultRepository
	activityRepo     repository.ActivityRepository
	httpClient       *http.Client
	telegram         telegramSender
	telegramChatID   int64
}

func NewNotifier(
	log *logrus.Logger,
	notificationRepo repository.NotificationRepository,
	resultRepo repository.TestResultRepository,
	activityRepo repository.ActivityRepository,
	telegram *telebot.Bot,
	telegramCfg *config.TelegramConfig,
) *Notifier {
	n := &Notifier{
		log:              log,
		notificationRepo: notificationRepo,
		resultRepo:       resultRepo,
		activityRepo:     activityRepo,
		httpClient:       &http.Client{Timeout: 10 * time.Second},
	}
	if telegram != nil && telegramCfg != nil && telegramCfg.ChatID != "" {
		chatID, err := strconv.ParseInt(telegramCfg.ChatID, 10, 64)
		if err != nil {
			log.WithError(err).Warn("Invalid telegram chat id, telegram channel disabled")
		} else {
			n.telegram = telegram
			n.telegramChatID = chatID
		}
	}
	return n
}

type webhookPayload struct {
	Test       string                  `json:"test"`
	VMID       string                  `json:"vm_id"`
	VMName     string                  `json:"vm_name"`
	Status     models.TestResultStatus `json:"status"`
	Reason     string                  `json:"reason"`
	OccurredAt time.Time               `json:"occurred_at"`
}

// NotifyFailure evaluates every enabled notification rule against one failed
// or errored run and dispatches the matching ones.
func (n *Notifier) NotifyFailure(ctx context.Context, assignment *models.VmTestAssignmentEntity, test *models.ValidationTestEntity, result *models.VmTestResultEntity) {
	notifications, err := n.notificationRepo.GetEnabled(ctx)
	if err != nil {
		n.log.WithError(err).Error("Failed to load notification rules")
		return
	}

	for i := range notifications {
		rule := notifications[i]
		if !n.matches(ctx, &rule, assignment) {
			continue
		}
		if n.cooldownActive(&rule) {
			continue
		}

		message := renderMessage(assignment, test, result)
		if err := n.dispatch(ctx, &rule, assignment, test, result, message); err != nil {
			n.log.WithError(err).WithFields(logrus.Fields{
				"notification_id": rule.ID,
				"channel":         rule.Channel,
			}).Error("Failed to dispatch notification")
			continue
		}

		if err := n.notificationRepo.StampNotified(ctx, rule.ID, time.Now()); err != nil {
			n.log.WithError(err).WithField("notification_id", rule.ID).Warn("Failed to stamp notification")
		}
		n.log.WithFields(logrus.Fields{
			"notification_id": rule.ID,
			"channel":         rule.Channel,
			"vm_name":         assignment.VMName,
		}).Info("Notification dispatched")
	}
}

func (n *Notifier) matches(ctx context.Context, rule *models.TestNotificationEntity, assignment *models.VmTestAssignmentEntity) bool {
	switch rule.Scope {
	case models.ScopeVM:
		if rule.VMID != assignment.VMID {
			return false
		}
	case models.ScopeTest:
		if rule.TestID == nil || *rule.TestID != assignment.TestID {
			return false
		}
	}

	if rule.Trigger == models.TriggerConsecutiveFailures {
		return n.consecutiveFailures(ctx, assignment.ID, rule.FailureCount)
	}
	return true
}

// consecutiveFailures reports whether the last want results (including the
// one just written) all missed.
func (n *Notifier) consecutiveFailures(ctx context.Context, assignmentID uint, want int) bool {
	if want <= 1 {
		return true
	}
	results, err := n.resultRepo.GetByAssignment(ctx, assignmentID, want)
	if err != nil {
		n.log.WithError(err).Warn("Failed to load result history")
		return false
	}
	if len(results) < want {
		return false
	}
	for _, result := range results {
		if result.Status == models.TestPassed {
			return false
		}
	}
	return true
}

func (n *Notifier) cooldownActive(rule *models.TestNotificationEntity) bool {
	if rule.CooldownMins <= 0 || !rule.LastNotifiedAt.Valid {
		return false
	}
	return time.Since(rule.LastNotifiedAt.Time) < time.Duration(rule.CooldownMins)*time.Minute
}

func renderMessage(assignment *models.VmTestAssignmentEntity, test *models.ValidationTestEntity, result *models.VmTestResultEntity) string {
	message := fmt.Sprintf("Validation test %q %s on %s", test.Name, result.Status, assignment.VMName)
	if result.FailureReason != "" {
		message += ": " + result.FailureReason
	}
	return message
}

func (n *Notifier) dispatch(ctx context.Context, rule *models.TestNotificationEntity, assignment *models.VmTestAssignmentEntity, test *models.ValidationTestEntity, result *models.VmTestResultEntity, message string) error {
	switch rule.Channel {
	case models.ChannelWebhook:
		return n.sendWebhook(ctx, rule.WebhookURL, &webhookPayload{
			Test:       test.Name,
			VMID:       assignment.VMID,
			VMName:     assignment.VMName,
			Status:     result.Status,
			Reason:     result.FailureReason,
			OccurredAt: time.Now(),
		})
	case models.ChannelActivityLog:
		return n.activityRepo.Create(ctx, &models.ActivityLogEntity{
			EventType: models.ActivityNotificationFired,
			Subject:   assignment.VMID,
			Message:   message,
		})
	case models.ChannelTelegram:
		if n.telegram == nil {
			return fmt.Errorf("telegram channel not configured")
		}
		_, err := n.telegram.Send(telebot.ChatID(n.telegramChatID), utils.EscapeMarkdownV2(message), telebot.ModeMarkdownV2)
		return err
	default:
		return fmt.Errorf("unknown notification channel %q", rule.Channel)
	}
}

func (n *Notifier) sendWebhook(ctx context.Context, url string, payload *webhookPayload) error {
	if url == "" {
		return fmt.Errorf("webhook notification has no URL")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
