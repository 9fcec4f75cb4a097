package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/LCodingX/influence-dashboard/internal/backend"
	"github.com/LCodingX/influence-dashboard/internal/logger"
	"github.com/LCodingX/influence-dashboard/internal/repos"
	"github.com/LCodingX/influence-dashboard/internal/types"
	"github.com/LCodingX/influence-dashboard/internal/utils"
)

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrResultsNotReady = errors.New("results available only for completed jobs")
)

// ValidationError rejects a malformed submission before anything is
// persisted.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

const defaultLogPageSize = 500

// BackendResolver picks the concrete adapter for a user or an existing job.
// Satisfied by backend.Selector.
type BackendResolver interface {
	ForUser(ctx context.Context, tx *gorm.DB, ownerUserID uuid.UUID) (backend.Resolved, error)
	ForJob(ctx context.Context, tx *gorm.DB, job *types.Job) (backend.Resolved, error)
	ValidateKey(ctx context.Context, apiKey string) error
}

// JobOrchestrator owns the job lifecycle: submission, polling with log
// reconciliation, cancellation, and result retrieval. All operations are
// scoped to the calling owner.
type JobOrchestrator interface {
	Submit(ctx context.Context, ownerUserID uuid.UUID, cfg types.TrainConfig) (*types.Job, error)
	Poll(ctx context.Context, ownerUserID, jobID uuid.UUID) (*types.Job, string, error)
	Cancel(ctx context.Context, ownerUserID, jobID uuid.UUID) (*types.Job, error)
	Results(ctx context.Context, ownerUserID, jobID uuid.UUID) (json.RawMessage, error)
	Logs(ctx context.Context, ownerUserID, jobID uuid.UUID, afterSeq int64, limit int) ([]*types.JobLogEntry, error)
	List(ctx context.Context, ownerUserID uuid.UUID, limit int) ([]*types.Job, error)
}

type jobOrchestrator struct {
	db         *gorm.DB
	log        *logger.Logger
	jobRepo    repos.JobRepo
	logRepo    repos.JobLogRepo
	selector   BackendResolver
	reconciler LogReconciler
	notifier   JobNotifier

	callbackURL string
}

func NewJobOrchestrator(
	db *gorm.DB,
	baseLog *logger.Logger,
	jobRepo repos.JobRepo,
	logRepo repos.JobLogRepo,
	selector BackendResolver,
	reconciler LogReconciler,
	notifier JobNotifier,
) JobOrchestrator {
	log := baseLog.With("service", "JobOrchestrator")
	callbackURL := ""
	if base := strings.TrimRight(utils.GetEnv("PUBLIC_BASE_URL", "", baseLog), "/"); base != "" {
		callbackURL = base + "/api/webhooks/runpod"
	}
	return &jobOrchestrator{
		db:          db,
		log:         log,
		jobRepo:     jobRepo,
		logRepo:     logRepo,
		selector:    selector,
		reconciler:  reconciler,
		notifier:    notifier,
		callbackURL: callbackURL,
	}
}

// Submit validates the request, snapshots the config, and hands the job to
// the resolved backend. A submission failure finalizes the job as failed
// immediately; there is no half-submitted state to resume.
func (o *jobOrchestrator) Submit(ctx context.Context, ownerUserID uuid.UUID, cfg types.TrainConfig) (*types.Job, error) {
	applyHyperparamDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	resolved, err := o.selector.ForUser(ctx, nil, ownerUserID)
	if err != nil {
		return nil, err
	}

	snapshot, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("snapshot config: %w", err)
	}

	job := &types.Job{
		ID:          uuid.New(),
		OwnerUserID: ownerUserID,
		Status:      types.JobStatusQueued,
		Config:      datatypes.JSON(snapshot),
		BackendKind: resolved.Kind,
		EndpointID:  resolved.EndpointID,
	}
	if _, err := o.jobRepo.Create(ctx, nil, []*types.Job{job}); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	remoteID, err := resolved.Adapter.Submit(ctx, backend.SubmitRequest{
		JobID:       job.ID,
		Config:      cfg,
		CallbackURL: o.callbackURL,
	})
	if err != nil {
		o.failJob(ctx, job, err.Error())
		o.log.Warn("Job submission failed", "job_id", job.ID, "error", err)
		return job, err
	}

	if err := o.jobRepo.UpdateFields(ctx, nil, job.ID, map[string]interface{}{
		"remote_job_id": remoteID,
	}); err != nil {
		return job, fmt.Errorf("persist remote job id: %w", err)
	}
	job.RemoteJobID = remoteID

	o.log.Info("Job submitted",
		"job_id", job.ID,
		"owner_user_id", ownerUserID,
		"backend_kind", resolved.Kind,
		"model_id", cfg.ModelID,
	)
	o.notifier.JobCreated(ownerUserID, job)
	return job, nil
}

// Poll merges the backend's current view into the stored record. Terminal
// jobs are served from cache with no network round trip. A backend failure
// mid-flight degrades to the cached record plus a warning; it never flips
// the job to failed.
func (o *jobOrchestrator) Poll(ctx context.Context, ownerUserID, jobID uuid.UUID) (*types.Job, string, error) {
	job, err := o.ownedJob(ctx, ownerUserID, jobID)
	if err != nil {
		return nil, "", err
	}
	if types.IsTerminalStatus(job.Status) {
		return job, "", nil
	}
	if job.RemoteJobID == "" {
		return job, "", nil
	}

	resolved, err := o.selector.ForJob(ctx, nil, job)
	if err != nil {
		return job, pollWarning(err), nil
	}

	var (
		update backend.PollUpdate
		lines  []backend.LogLine
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, pErr := resolved.Adapter.Poll(gctx, job.RemoteJobID)
		if pErr != nil {
			return pErr
		}
		update = u
		return nil
	})
	g.Go(func() error {
		l, lErr := resolved.Adapter.FetchLogs(gctx, job.RemoteJobID, job.LogCursor)
		if lErr != nil {
			return lErr
		}
		lines = l
		return nil
	})
	if err := g.Wait(); err != nil {
		o.log.Warn("Backend poll failed, serving cached record", "job_id", job.ID, "error", err)
		return job, pollWarning(err), nil
	}

	prevCursor := job.LogCursor
	if _, err := o.reconciler.ReconcileBatch(ctx, nil, job, lines); err != nil {
		return job, "", err
	}
	if job.LogCursor > prevCursor {
		if entries, lErr := o.logRepo.ListAfter(ctx, nil, job.ID, prevCursor, 0); lErr == nil {
			o.notifier.JobLogs(ownerUserID, job.ID, entries)
		}
	}

	// Results must be in hand before the status flip; the terminal guard
	// rejects any later write.
	var results json.RawMessage
	if update.Status == types.JobStatusCompleted {
		results, err = resolved.Adapter.FetchResults(ctx, job.RemoteJobID)
		if err != nil {
			o.log.Warn("Results fetch failed, deferring finalization", "job_id", job.ID, "error", err)
			return job, pollWarning(err), nil
		}
	}

	updates := map[string]interface{}{
		"status":   update.Status,
		"progress": update.Progress,
	}
	if update.CurrentEpoch != nil {
		updates["current_epoch"] = *update.CurrentEpoch
	}
	if update.TotalEpochs != nil {
		updates["total_epochs"] = *update.TotalEpochs
	}
	if update.TrainingLoss != nil {
		updates["training_loss"] = *update.TrainingLoss
	}
	if update.ETASeconds != nil {
		updates["eta_seconds"] = *update.ETASeconds
	}
	terminal := types.IsTerminalStatus(update.Status)
	if terminal {
		updates["completed_at"] = time.Now().UTC()
	}
	if update.Status == types.JobStatusFailed {
		updates["error"] = update.ErrorMessage
	}
	if results != nil {
		updates["results"] = datatypes.JSON(results)
	}

	rows, err := o.jobRepo.UpdateFieldsIfNotTerminal(ctx, nil, job.ID, updates)
	if err != nil {
		return job, "", fmt.Errorf("persist poll update: %w", err)
	}

	job, err = o.ownedJob(ctx, ownerUserID, jobID)
	if err != nil {
		return nil, "", err
	}

	if terminal && rows > 0 {
		o.finalize(ctx, job)
	} else if !terminal {
		o.notifier.JobProgress(ownerUserID, job)
	}
	return job, "", nil
}

// Cancel asks the backend to stop the job, then finalizes it as failed. A
// job already terminal is returned unchanged.
func (o *jobOrchestrator) Cancel(ctx context.Context, ownerUserID, jobID uuid.UUID) (*types.Job, error) {
	job, err := o.ownedJob(ctx, ownerUserID, jobID)
	if err != nil {
		return nil, err
	}
	if types.IsTerminalStatus(job.Status) {
		return job, nil
	}

	if job.RemoteJobID != "" {
		resolved, rErr := o.selector.ForJob(ctx, nil, job)
		if rErr != nil {
			return nil, rErr
		}
		if cErr := resolved.Adapter.Cancel(ctx, job.RemoteJobID); cErr != nil {
			return nil, cErr
		}
	}

	o.failJob(ctx, job, "cancelled by user")
	o.log.Info("Job cancelled", "job_id", job.ID, "owner_user_id", ownerUserID)
	return o.ownedJob(ctx, ownerUserID, jobID)
}

// Results serves the stored payload when present; a completed job whose
// results arrived out of band (webhook without a body) triggers one backend
// fetch that is then persisted for every later call.
func (o *jobOrchestrator) Results(ctx context.Context, ownerUserID, jobID uuid.UUID) (json.RawMessage, error) {
	job, err := o.ownedJob(ctx, ownerUserID, jobID)
	if err != nil {
		return nil, err
	}
	if len(job.Results) > 0 {
		return json.RawMessage(job.Results), nil
	}
	if job.Status != types.JobStatusCompleted {
		return nil, ErrResultsNotReady
	}

	resolved, err := o.selector.ForJob(ctx, nil, job)
	if err != nil {
		return nil, err
	}
	results, err := resolved.Adapter.FetchResults(ctx, job.RemoteJobID)
	if err != nil {
		return nil, err
	}
	// Results on a terminal job bypass the terminal guard: the status can
	// never change again but the payload may still fill in once.
	if err := o.jobRepo.UpdateFields(ctx, nil, job.ID, map[string]interface{}{
		"results": datatypes.JSON(results),
	}); err != nil {
		return nil, fmt.Errorf("persist results: %w", err)
	}
	return results, nil
}

func (o *jobOrchestrator) Logs(ctx context.Context, ownerUserID, jobID uuid.UUID, afterSeq int64, limit int) ([]*types.JobLogEntry, error) {
	if _, err := o.ownedJob(ctx, ownerUserID, jobID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > defaultLogPageSize {
		limit = defaultLogPageSize
	}
	return o.logRepo.ListAfter(ctx, nil, jobID, afterSeq, limit)
}

func (o *jobOrchestrator) List(ctx context.Context, ownerUserID uuid.UUID, limit int) ([]*types.Job, error) {
	return o.jobRepo.ListByOwner(ctx, nil, ownerUserID, limit)
}

// ownedJob loads a job and hides its existence from non-owners.
func (o *jobOrchestrator) ownedJob(ctx context.Context, ownerUserID, jobID uuid.UUID) (*types.Job, error) {
	jobs, err := o.jobRepo.GetByIDs(ctx, nil, []uuid.UUID{jobID})
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 || jobs[0].OwnerUserID != ownerUserID {
		return nil, ErrJobNotFound
	}
	return jobs[0], nil
}

// failJob finalizes a live job as failed. Losing the race against another
// finalizer is fine; terminal summary and notification fire only for the
// winner.
func (o *jobOrchestrator) failJob(ctx context.Context, job *types.Job, message string) {
	rows, err := o.jobRepo.UpdateFieldsIfNotTerminal(ctx, nil, job.ID, map[string]interface{}{
		"status":       types.JobStatusFailed,
		"error":        message,
		"completed_at": time.Now().UTC(),
	})
	if err != nil {
		o.log.Error("Failed to finalize job", "job_id", job.ID, "error", err)
		return
	}
	if rows == 0 {
		return
	}
	job.Status = types.JobStatusFailed
	job.Error = message
	if err := o.reconciler.AppendTerminalSummary(ctx, nil, job, types.JobStatusFailed, "job failed: "+message); err != nil {
		o.log.Warn("Failed to append terminal summary", "job_id", job.ID, "error", err)
	}
	o.notifier.JobFailed(job.OwnerUserID, job)
}

// finalize runs the once-per-job terminal side effects after this caller
// won the conditional status update.
func (o *jobOrchestrator) finalize(ctx context.Context, job *types.Job) {
	var summary string
	switch job.Status {
	case types.JobStatusCompleted:
		summary = "job completed"
	case types.JobStatusFailed:
		summary = "job failed: " + job.Error
	default:
		return
	}
	if err := o.reconciler.AppendTerminalSummary(ctx, nil, job, job.Status, summary); err != nil {
		o.log.Warn("Failed to append terminal summary", "job_id", job.ID, "error", err)
	}
	if job.Status == types.JobStatusCompleted {
		o.notifier.JobCompleted(job.OwnerUserID, job)
	} else {
		o.notifier.JobFailed(job.OwnerUserID, job)
	}
}

func pollWarning(err error) string {
	switch {
	case errors.Is(err, backend.ErrTimeout):
		return "backend timed out; showing last known state"
	case errors.Is(err, backend.ErrEndpointUnavailable):
		return "backend endpoint has no capacity; showing last known state"
	case errors.Is(err, backend.ErrAuthentication):
		return "backend rejected the stored credential; reconfigure your credential"
	default:
		return "backend temporarily unreachable; showing last known state"
	}
}

func applyHyperparamDefaults(cfg *types.TrainConfig) {
	hp := &cfg.Hyperparams
	if hp.LearningRate == 0 {
		hp.LearningRate = 2e-4
	}
	if hp.NumEpochs == 0 {
		hp.NumEpochs = 3
	}
	if hp.BatchSize == 0 {
		hp.BatchSize = 4
	}
	if hp.LoraRank == 0 {
		hp.LoraRank = 8
	}
	if hp.LoraAlpha == 0 {
		hp.LoraAlpha = 16
	}
	if hp.Quantization == "" {
		hp.Quantization = "4bit"
	}
	if hp.MaxSeqLength == 0 {
		hp.MaxSeqLength = 512
	}
	if cfg.InfluenceMethod == "" {
		cfg.InfluenceMethod = types.InfluenceMethodTracin
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 1
	}
}

func validateConfig(cfg types.TrainConfig) error {
	if strings.TrimSpace(cfg.ModelID) == "" {
		return &ValidationError{Message: "model_id is required"}
	}
	if len(cfg.TrainingData) == 0 {
		return &ValidationError{Message: "at least one training pair is required"}
	}
	if len(cfg.EvalData) == 0 {
		return &ValidationError{Message: "at least one eval question is required"}
	}
	for i, pair := range cfg.TrainingData {
		if strings.TrimSpace(pair.Question) == "" || strings.TrimSpace(pair.Answer) == "" {
			return &ValidationError{Message: fmt.Sprintf("training pair %d is missing a question or answer", i)}
		}
	}
	for i, q := range cfg.EvalData {
		if strings.TrimSpace(q.Question) == "" {
			return &ValidationError{Message: fmt.Sprintf("eval question %d is empty", i)}
		}
	}
	switch cfg.InfluenceMethod {
	case types.InfluenceMethodTracin, types.InfluenceMethodDatainf, types.InfluenceMethodKronfluence:
	default:
		return &ValidationError{Message: "unknown influence method: " + cfg.InfluenceMethod}
	}
	hp := cfg.Hyperparams
	if hp.LearningRate <= 0 || hp.LearningRate > 1 {
		return &ValidationError{Message: "learning_rate must be in (0, 1]"}
	}
	if hp.NumEpochs < 1 || hp.NumEpochs > 50 {
		return &ValidationError{Message: "num_epochs must be between 1 and 50"}
	}
	if hp.BatchSize < 1 || hp.BatchSize > 128 {
		return &ValidationError{Message: "batch_size must be between 1 and 128"}
	}
	if hp.LoraRank < 1 || hp.LoraRank > 256 {
		return &ValidationError{Message: "lora_rank must be between 1 and 256"}
	}
	switch hp.Quantization {
	case "4bit", "8bit", "none":
	default:
		return &ValidationError{Message: "quantization must be 4bit, 8bit or none"}
	}
	return nil
}
