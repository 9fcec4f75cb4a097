package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/LCodingX/influence-dashboard/internal/repos"
	"github.com/LCodingX/influence-dashboard/internal/types"
)

func newWebhookFixture(t *testing.T) (WebhookService, JobOrchestrator, repos.JobRepo, repos.JobLogRepo, *fakeAdapter) {
	t.Helper()
	db := newTestDB(t)
	log := testLogger(t)
	jobRepo := repos.NewJobRepo(db, log)
	logRepo := repos.NewJobLogRepo(db, log)
	reconciler := NewLogReconciler(log, jobRepo, logRepo)
	notifier := noopNotifier(t)
	adapter := &fakeAdapter{}
	resolver := &fakeResolver{adapter: adapter}
	orchestrator := NewJobOrchestrator(db, log, jobRepo, logRepo, resolver, reconciler, notifier)
	webhook := NewWebhookService(db, log, jobRepo, reconciler, notifier)
	return webhook, orchestrator, jobRepo, logRepo, adapter
}

func resultsDoc() json.RawMessage {
	payload := types.ResultsPayload{
		EvalResults: []types.EvalResult{
			{EvalQuestion: "q", BaseOutput: "b", FewshotOutput: "f", FinetunedOutput: "ft"},
		},
		Influence: types.InfluenceMatrix{
			TrainingLabels: []string{"t1", "t2"},
			EvalLabels:     []string{"e1"},
			Scores:         [][]float64{{0.7}, {-0.2}},
		},
		TrainingMetadata: types.TrainingMetadata{
			FinalTrainingLoss: 0.91,
			LossHistory:       []float64{2.1, 1.4, 0.91},
		},
	}
	raw, _ := json.Marshal(payload)
	return raw
}

func TestWebhookCompletionThenResultsWithoutBackendCall(t *testing.T) {
	webhook, orchestrator, _, _, adapter := newWebhookFixture(t)
	ctx := context.Background()
	owner := uuid.New()

	job, err := orchestrator.Submit(ctx, owner, validTrainConfig())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	err = webhook.Process(ctx, WebhookPayload{
		JobID:   job.ID.String(),
		Status:  "completed",
		Results: resultsDoc(),
		Logs:    lines(1, 2),
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	results, err := orchestrator.Results(ctx, owner, job.ID)
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	var payload types.ResultsPayload
	if err := json.Unmarshal(results, &payload); err != nil {
		t.Fatalf("decode results: %v", err)
	}
	if len(payload.Influence.Scores) != 2 || len(payload.Influence.Scores[0]) != 1 {
		t.Fatalf("influence shape: %+v", payload.Influence)
	}
	if adapter.resultsCalls != 0 {
		t.Fatalf("results endpoint hit the backend %d times", adapter.resultsCalls)
	}

	polled, _, err := orchestrator.Poll(ctx, owner, job.ID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if polled.Status != types.JobStatusCompleted || polled.Progress != 1 {
		t.Fatalf("finalized job: status %q progress %v", polled.Status, polled.Progress)
	}
	if polled.TrainingLoss == nil || *polled.TrainingLoss != 0.91 {
		t.Fatalf("training loss not derived from results: %+v", polled.TrainingLoss)
	}
}

func TestWebhookRedeliveryKeepsFirstFinalization(t *testing.T) {
	webhook, orchestrator, jobRepo, logRepo, _ := newWebhookFixture(t)
	ctx := context.Background()
	owner := uuid.New()

	job, err := orchestrator.Submit(ctx, owner, validTrainConfig())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	payload := WebhookPayload{
		JobID:   job.ID.String(),
		Status:  "completed",
		Results: resultsDoc(),
		Logs:    lines(1, 2, 3),
	}
	if err := webhook.Process(ctx, payload); err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	stored, err := jobRepo.GetByIDs(ctx, nil, []uuid.UUID{job.ID})
	if err != nil || len(stored) == 0 {
		t.Fatalf("load job: %v", err)
	}
	firstCompletedAt := stored[0].CompletedAt
	if firstCompletedAt == nil {
		t.Fatalf("completed_at not set")
	}
	firstCount, err := logRepo.CountByJob(ctx, nil, job.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}

	if err := webhook.Process(ctx, payload); err != nil {
		t.Fatalf("second delivery: %v", err)
	}

	stored, err = jobRepo.GetByIDs(ctx, nil, []uuid.UUID{job.ID})
	if err != nil || len(stored) == 0 {
		t.Fatalf("reload job: %v", err)
	}
	if !stored[0].CompletedAt.Equal(*firstCompletedAt) {
		t.Fatalf("completed_at changed on redelivery: %v vs %v", stored[0].CompletedAt, firstCompletedAt)
	}
	secondCount, err := logRepo.CountByJob(ctx, nil, job.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if secondCount != firstCount {
		t.Fatalf("redelivery grew the log: %d -> %d", firstCount, secondCount)
	}
}

func TestWebhookFailureCarriesErrorMessage(t *testing.T) {
	webhook, orchestrator, jobRepo, _, _ := newWebhookFixture(t)
	ctx := context.Background()
	owner := uuid.New()

	job, err := orchestrator.Submit(ctx, owner, validTrainConfig())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	err = webhook.Process(ctx, WebhookPayload{
		JobID:  job.ID.String(),
		Status: "failed",
		Error:  "CUDA out of memory",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	stored, err := jobRepo.GetByIDs(ctx, nil, []uuid.UUID{job.ID})
	if err != nil || len(stored) == 0 {
		t.Fatalf("load job: %v", err)
	}
	if stored[0].Status != types.JobStatusFailed || stored[0].Error != "CUDA out of memory" {
		t.Fatalf("failure record: %+v", stored[0])
	}
}

func TestWebhookRejectsNonTerminalAndUnknown(t *testing.T) {
	webhook, orchestrator, _, _, _ := newWebhookFixture(t)
	ctx := context.Background()

	job, err := orchestrator.Submit(ctx, uuid.New(), validTrainConfig())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	var validationErr *ValidationError
	if err := webhook.Process(ctx, WebhookPayload{JobID: job.ID.String(), Status: "training"}); !errors.As(err, &validationErr) {
		t.Fatalf("non-terminal status: expected ValidationError, got %v", err)
	}
	if err := webhook.Process(ctx, WebhookPayload{JobID: "not-a-uuid", Status: "completed"}); !errors.As(err, &validationErr) {
		t.Fatalf("bad job id: expected ValidationError, got %v", err)
	}
	if err := webhook.Process(ctx, WebhookPayload{JobID: uuid.New().String(), Status: "completed"}); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("unknown job: expected ErrJobNotFound, got %v", err)
	}
}

func TestWebhookSecretVerification(t *testing.T) {
	t.Setenv("WEBHOOK_SHARED_SECRET", "s3cret")
	db := newTestDB(t)
	log := testLogger(t)
	jobRepo := repos.NewJobRepo(db, log)
	logRepo := repos.NewJobLogRepo(db, log)
	reconciler := NewLogReconciler(log, jobRepo, logRepo)
	webhook := NewWebhookService(db, log, jobRepo, reconciler, noopNotifier(t))

	if err := webhook.VerifySecret("s3cret"); err != nil {
		t.Fatalf("valid secret rejected: %v", err)
	}
	if err := webhook.VerifySecret("wrong"); !errors.Is(err, ErrWebhookUnauthorized) {
		t.Fatalf("wrong secret: got %v", err)
	}
	if err := webhook.VerifySecret(""); !errors.Is(err, ErrWebhookUnauthorized) {
		t.Fatalf("empty secret: got %v", err)
	}
}

func TestWebhookUnconfiguredSecretFailsClosed(t *testing.T) {
	t.Setenv("WEBHOOK_SHARED_SECRET", "")
	db := newTestDB(t)
	log := testLogger(t)
	jobRepo := repos.NewJobRepo(db, log)
	logRepo := repos.NewJobLogRepo(db, log)
	reconciler := NewLogReconciler(log, jobRepo, logRepo)
	webhook := NewWebhookService(db, log, jobRepo, reconciler, noopNotifier(t))

	if err := webhook.VerifySecret(""); !errors.Is(err, ErrWebhookUnauthorized) {
		t.Fatalf("unconfigured secret must reject, got %v", err)
	}
}
