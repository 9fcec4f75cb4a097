package services

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/LCodingX/influence-dashboard/internal/backend"
	"github.com/LCodingX/influence-dashboard/internal/logger"
	"github.com/LCodingX/influence-dashboard/internal/repos"
	"github.com/LCodingX/influence-dashboard/internal/types"
	"github.com/LCodingX/influence-dashboard/internal/utils"
)

var ErrWebhookUnauthorized = errors.New("webhook secret mismatch")

// WebhookPayload is what the worker posts to the callback URL when it
// reaches a terminal state. Delivery is at-least-once; everything here must
// tolerate replays.
type WebhookPayload struct {
	JobID   string            `json:"job_id"`
	Status  string            `json:"status"`
	Error   string            `json:"error,omitempty"`
	Results json.RawMessage   `json:"results,omitempty"`
	Logs    []backend.LogLine `json:"logs,omitempty"`
}

type WebhookService interface {
	VerifySecret(provided string) error
	Process(ctx context.Context, payload WebhookPayload) error
}

type webhookService struct {
	db         *gorm.DB
	log        *logger.Logger
	jobRepo    repos.JobRepo
	reconciler LogReconciler
	notifier   JobNotifier
	secret     string
}

func NewWebhookService(
	db *gorm.DB,
	baseLog *logger.Logger,
	jobRepo repos.JobRepo,
	reconciler LogReconciler,
	notifier JobNotifier,
) WebhookService {
	return &webhookService{
		db:         db,
		log:        baseLog.With("service", "WebhookService"),
		jobRepo:    jobRepo,
		reconciler: reconciler,
		notifier:   notifier,
		secret:     utils.GetEnv("WEBHOOK_SHARED_SECRET", "", baseLog),
	}
}

// VerifySecret fails closed: an unconfigured secret rejects every delivery.
func (s *webhookService) VerifySecret(provided string) error {
	if s.secret == "" {
		return ErrWebhookUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(provided), []byte(s.secret)) != 1 {
		return ErrWebhookUnauthorized
	}
	return nil
}

// Process finalizes a job from a terminal webhook. Replays are harmless:
// log reconciliation deduplicates by sequence and the conditional status
// update matches zero rows once the job is terminal.
func (s *webhookService) Process(ctx context.Context, payload WebhookPayload) error {
	jobID, err := uuid.Parse(strings.TrimSpace(payload.JobID))
	if err != nil {
		return &ValidationError{Message: "invalid job_id"}
	}
	status, err := normalizeTerminalStatus(payload.Status)
	if err != nil {
		return err
	}

	jobs, err := s.jobRepo.GetByIDs(ctx, nil, []uuid.UUID{jobID})
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return ErrJobNotFound
	}
	job := jobs[0]

	prevCursor := job.LogCursor
	if _, err := s.reconciler.ReconcileBatch(ctx, nil, job, payload.Logs); err != nil {
		return err
	}
	if job.LogCursor > prevCursor {
		s.log.Debug("Webhook delivered log batch", "job_id", job.ID, "cursor", job.LogCursor)
	}

	updates := map[string]interface{}{
		"status":       status,
		"completed_at": time.Now().UTC(),
	}
	if status == types.JobStatusCompleted {
		updates["progress"] = 1.0
	}
	if status == types.JobStatusFailed {
		message := payload.Error
		if message == "" {
			message = "job failed on backend"
		}
		updates["error"] = message
	}
	if len(payload.Results) > 0 {
		updates["results"] = datatypes.JSON(payload.Results)
		if loss, ok := finalLossFromResults(payload.Results); ok {
			updates["training_loss"] = loss
		}
	}

	rows, err := s.jobRepo.UpdateFieldsIfNotTerminal(ctx, nil, job.ID, updates)
	if err != nil {
		return fmt.Errorf("persist webhook update: %w", err)
	}
	if rows == 0 {
		// Redelivery after finalization. Results may still fill in when the
		// first delivery arrived without them.
		if len(payload.Results) > 0 && len(job.Results) == 0 {
			if uErr := s.jobRepo.UpdateFields(ctx, nil, job.ID, map[string]interface{}{
				"results": datatypes.JSON(payload.Results),
			}); uErr != nil {
				return fmt.Errorf("persist late results: %w", uErr)
			}
		}
		s.log.Debug("Webhook redelivery for terminal job ignored", "job_id", job.ID, "status", status)
		return nil
	}

	fresh, err := s.jobRepo.GetByIDs(ctx, nil, []uuid.UUID{jobID})
	if err != nil || len(fresh) == 0 {
		return err
	}
	job = fresh[0]

	summary := "job completed"
	if status == types.JobStatusFailed {
		summary = "job failed: " + job.Error
	}
	if err := s.reconciler.AppendTerminalSummary(ctx, nil, job, status, summary); err != nil {
		s.log.Warn("Failed to append terminal summary", "job_id", job.ID, "error", err)
	}

	if status == types.JobStatusCompleted {
		s.notifier.JobCompleted(job.OwnerUserID, job)
	} else {
		s.notifier.JobFailed(job.OwnerUserID, job)
	}
	s.log.Info("Job finalized via webhook", "job_id", job.ID, "status", status)
	return nil
}

func normalizeTerminalStatus(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case types.JobStatusCompleted, "success", "succeeded":
		return types.JobStatusCompleted, nil
	case types.JobStatusFailed, "cancelled", "timed_out", "error":
		return types.JobStatusFailed, nil
	default:
		return "", &ValidationError{Message: "status must be terminal, got: " + raw}
	}
}

// finalLossFromResults pulls the final training loss out of the results
// metadata so the job row reflects it without a separate poll.
func finalLossFromResults(raw json.RawMessage) (float64, bool) {
	var payload types.ResultsPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return 0, false
	}
	if payload.TrainingMetadata.FinalTrainingLoss == 0 && len(payload.TrainingMetadata.LossHistory) == 0 {
		return 0, false
	}
	return payload.TrainingMetadata.FinalTrainingLoss, true
}
