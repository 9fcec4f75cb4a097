package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/LCodingX/influence-dashboard/internal/backend"
	"github.com/LCodingX/influence-dashboard/internal/logger"
	"github.com/LCodingX/influence-dashboard/internal/repos"
	"github.com/LCodingX/influence-dashboard/internal/types"
)

// LogReconciler folds backend log batches into the durable per-job log.
// Batches arrive from polling and from webhooks, possibly overlapping and
// redelivered; reconciliation keeps the stored sequence gapless-growing and
// duplicate-free regardless of delivery order.
type LogReconciler interface {
	ReconcileBatch(ctx context.Context, tx *gorm.DB, job *types.Job, lines []backend.LogLine) (int64, error)
	AppendTerminalSummary(ctx context.Context, tx *gorm.DB, job *types.Job, status, message string) error
}

type logReconciler struct {
	log     *logger.Logger
	jobRepo repos.JobRepo
	logRepo repos.JobLogRepo
}

func NewLogReconciler(baseLog *logger.Logger, jobRepo repos.JobRepo, logRepo repos.JobLogRepo) LogReconciler {
	return &logReconciler{
		log:     baseLog.With("service", "LogReconciler"),
		jobRepo: jobRepo,
		logRepo: logRepo,
	}
}

// ReconcileBatch discards lines at or below the job's cursor, inserts the
// rest with (job_id, seq) uniqueness absorbing duplicates, then advances the
// cursor to the highest seq seen. Insert happens before the cursor moves, so
// a crash between the two steps re-inserts harmlessly on the next batch.
// Returns the number of rows actually inserted.
func (r *logReconciler) ReconcileBatch(ctx context.Context, tx *gorm.DB, job *types.Job, lines []backend.LogLine) (int64, error) {
	if job == nil || len(lines) == 0 {
		return 0, nil
	}

	entries := make([]*types.JobLogEntry, 0, len(lines))
	maxSeq := job.LogCursor
	for _, line := range lines {
		if line.Seq <= job.LogCursor {
			continue
		}
		entry, err := r.toEntry(job, line)
		if err != nil {
			return 0, err
		}
		entries = append(entries, entry)
		if line.Seq > maxSeq {
			maxSeq = line.Seq
		}
	}
	if len(entries) == 0 {
		return 0, nil
	}

	inserted, err := r.logRepo.InsertIgnoreDuplicates(ctx, tx, entries)
	if err != nil {
		return 0, fmt.Errorf("insert log entries: %w", err)
	}
	if err := r.jobRepo.AdvanceLogCursor(ctx, tx, job.ID, maxSeq); err != nil {
		return inserted, fmt.Errorf("advance log cursor: %w", err)
	}
	job.LogCursor = maxSeq

	if inserted < int64(len(entries)) {
		r.log.Debug("Skipped duplicate log entries",
			"job_id", job.ID,
			"received", len(entries),
			"inserted", inserted,
		)
	}
	return inserted, nil
}

// AppendTerminalSummary writes one synthetic entry recording the terminal
// transition, at the next free seq. The (job_id, seq) constraint makes a
// second finalization attempt a no-op.
func (r *logReconciler) AppendTerminalSummary(ctx context.Context, tx *gorm.DB, job *types.Job, status, message string) error {
	if job == nil {
		return nil
	}
	level := types.LogLevelInfo
	if status == types.JobStatusFailed {
		level = types.LogLevelError
	}
	seq := job.LogCursor + 1
	entry := &types.JobLogEntry{
		ID:          uuid.New(),
		JobID:       job.ID,
		OwnerUserID: job.OwnerUserID,
		Seq:         seq,
		Ts:          time.Now().UTC(),
		Level:       level,
		Phase:       types.LogPhaseSystem,
		Message:     message,
	}
	if _, err := r.logRepo.InsertIgnoreDuplicates(ctx, tx, []*types.JobLogEntry{entry}); err != nil {
		return fmt.Errorf("insert terminal summary: %w", err)
	}
	if err := r.jobRepo.AdvanceLogCursor(ctx, tx, job.ID, seq); err != nil {
		return fmt.Errorf("advance log cursor: %w", err)
	}
	job.LogCursor = seq
	return nil
}

func (r *logReconciler) toEntry(job *types.Job, line backend.LogLine) (*types.JobLogEntry, error) {
	ts := line.Ts
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	level := line.Level
	if level == "" {
		level = types.LogLevelInfo
	}
	phase := line.Phase
	if phase == "" {
		phase = types.LogPhaseSystem
	}
	var meta datatypes.JSON
	if len(line.Meta) > 0 {
		raw, err := json.Marshal(line.Meta)
		if err != nil {
			return nil, fmt.Errorf("marshal log meta for seq %d: %w", line.Seq, err)
		}
		meta = datatypes.JSON(raw)
	}
	return &types.JobLogEntry{
		ID:          uuid.New(),
		JobID:       job.ID,
		OwnerUserID: job.OwnerUserID,
		Seq:         line.Seq,
		Ts:          ts,
		Level:       level,
		Phase:       phase,
		Message:     line.Message,
		Meta:        meta,
	}, nil
}
