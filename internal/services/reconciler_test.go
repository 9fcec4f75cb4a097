package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/LCodingX/influence-dashboard/internal/backend"
	"github.com/LCodingX/influence-dashboard/internal/repos"
	"github.com/LCodingX/influence-dashboard/internal/types"
)

func seedJob(t *testing.T, jobRepo repos.JobRepo, status string) *types.Job {
	t.Helper()
	job := &types.Job{
		ID:          uuid.New(),
		OwnerUserID: uuid.New(),
		Status:      status,
		Config:      datatypes.JSON(`{"model_id":"m"}`),
		BackendKind: types.BackendKindHosted,
		RemoteJobID: "remote-1",
	}
	if _, err := jobRepo.Create(context.Background(), nil, []*types.Job{job}); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return job
}

func lines(seqs ...int64) []backend.LogLine {
	out := make([]backend.LogLine, 0, len(seqs))
	for _, s := range seqs {
		out = append(out, backend.LogLine{
			Seq:     s,
			Level:   types.LogLevelInfo,
			Phase:   types.LogPhaseTraining,
			Message: "line",
		})
	}
	return out
}

func TestReconcileBatchAdvancesCursorAndDeduplicates(t *testing.T) {
	db := newTestDB(t)
	log := testLogger(t)
	jobRepo := repos.NewJobRepo(db, log)
	logRepo := repos.NewJobLogRepo(db, log)
	r := NewLogReconciler(log, jobRepo, logRepo)
	ctx := context.Background()

	job := seedJob(t, jobRepo, types.JobStatusTraining)

	inserted, err := r.ReconcileBatch(ctx, nil, job, lines(1, 2, 3, 4, 5))
	if err != nil {
		t.Fatalf("first batch: %v", err)
	}
	if inserted != 5 {
		t.Fatalf("first batch inserted: got %d want 5", inserted)
	}
	if job.LogCursor != 5 {
		t.Fatalf("cursor: got %d want 5", job.LogCursor)
	}

	// Overlapping redelivery: 3..5 already stored, 6..8 new.
	inserted, err = r.ReconcileBatch(ctx, nil, job, lines(3, 4, 5, 6, 7, 8))
	if err != nil {
		t.Fatalf("second batch: %v", err)
	}
	if inserted != 3 {
		t.Fatalf("second batch inserted: got %d want 3", inserted)
	}
	if job.LogCursor != 8 {
		t.Fatalf("cursor: got %d want 8", job.LogCursor)
	}

	count, err := logRepo.CountByJob(ctx, nil, job.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 8 {
		t.Fatalf("stored entries: got %d want 8", count)
	}

	entries, err := logRepo.ListAfter(ctx, nil, job.ID, 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for i, e := range entries {
		if e.Seq != int64(i+1) {
			t.Fatalf("entry %d out of order: seq %d", i, e.Seq)
		}
	}
}

func TestReconcileBatchIgnoresSeqsAtOrBelowCursor(t *testing.T) {
	db := newTestDB(t)
	log := testLogger(t)
	jobRepo := repos.NewJobRepo(db, log)
	logRepo := repos.NewJobLogRepo(db, log)
	r := NewLogReconciler(log, jobRepo, logRepo)
	ctx := context.Background()

	job := seedJob(t, jobRepo, types.JobStatusTraining)
	if _, err := r.ReconcileBatch(ctx, nil, job, lines(1, 2, 3)); err != nil {
		t.Fatalf("seed batch: %v", err)
	}

	inserted, err := r.ReconcileBatch(ctx, nil, job, lines(1, 2, 3))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if inserted != 0 {
		t.Fatalf("replay inserted: got %d want 0", inserted)
	}
	if job.LogCursor != 3 {
		t.Fatalf("cursor moved on replay: %d", job.LogCursor)
	}
}

func TestAppendTerminalSummaryIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	log := testLogger(t)
	jobRepo := repos.NewJobRepo(db, log)
	logRepo := repos.NewJobLogRepo(db, log)
	r := NewLogReconciler(log, jobRepo, logRepo)
	ctx := context.Background()

	job := seedJob(t, jobRepo, types.JobStatusComputingInfluence)
	if _, err := r.ReconcileBatch(ctx, nil, job, lines(1, 2)); err != nil {
		t.Fatalf("batch: %v", err)
	}

	if err := r.AppendTerminalSummary(ctx, nil, job, types.JobStatusCompleted, "job completed"); err != nil {
		t.Fatalf("summary: %v", err)
	}
	if job.LogCursor != 3 {
		t.Fatalf("cursor after summary: got %d want 3", job.LogCursor)
	}

	entries, err := logRepo.ListAfter(ctx, nil, job.ID, 2, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].Phase != types.LogPhaseSystem || entries[0].Level != types.LogLevelInfo {
		t.Fatalf("summary entry: %+v", entries)
	}

	// A replayed finalization hits the same seq and inserts nothing.
	job.LogCursor = 2
	if err := r.AppendTerminalSummary(ctx, nil, job, types.JobStatusCompleted, "job completed"); err != nil {
		t.Fatalf("replayed summary: %v", err)
	}
	count, err := logRepo.CountByJob(ctx, nil, job.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Fatalf("entries after replay: got %d want 3", count)
	}
}

func TestFailedSummaryUsesErrorLevel(t *testing.T) {
	db := newTestDB(t)
	log := testLogger(t)
	jobRepo := repos.NewJobRepo(db, log)
	logRepo := repos.NewJobLogRepo(db, log)
	r := NewLogReconciler(log, jobRepo, logRepo)
	ctx := context.Background()

	job := seedJob(t, jobRepo, types.JobStatusTraining)
	if err := r.AppendTerminalSummary(ctx, nil, job, types.JobStatusFailed, "job failed: CUDA out of memory"); err != nil {
		t.Fatalf("summary: %v", err)
	}
	entries, err := logRepo.ListAfter(ctx, nil, job.ID, 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].Level != types.LogLevelError {
		t.Fatalf("expected one error-level entry, got %+v", entries)
	}
}
