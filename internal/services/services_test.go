package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/LCodingX/influence-dashboard/internal/backend"
	"github.com/LCodingX/influence-dashboard/internal/logger"
	"github.com/LCodingX/influence-dashboard/internal/sse"
	"github.com/LCodingX/influence-dashboard/internal/types"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&types.Job{},
		&types.JobLogEntry{},
		&types.BackendCredential{},
		&types.BackendEndpoint{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func noopNotifier(t *testing.T) JobNotifier {
	t.Helper()
	return NewJobNotifier(sse.NewSSEHub(testLogger(t)), nil)
}

type fakeAdapter struct {
	submitFn  func(ctx context.Context, req backend.SubmitRequest) (string, error)
	pollFn    func(ctx context.Context, remoteJobID string) (backend.PollUpdate, error)
	logsFn    func(ctx context.Context, remoteJobID string, afterSeq int64) ([]backend.LogLine, error)
	resultsFn func(ctx context.Context, remoteJobID string) (json.RawMessage, error)
	cancelFn  func(ctx context.Context, remoteJobID string) error

	pollCalls    int
	resultsCalls int
}

func (f *fakeAdapter) Submit(ctx context.Context, req backend.SubmitRequest) (string, error) {
	if f.submitFn == nil {
		return "remote-1", nil
	}
	return f.submitFn(ctx, req)
}

func (f *fakeAdapter) Poll(ctx context.Context, remoteJobID string) (backend.PollUpdate, error) {
	f.pollCalls++
	if f.pollFn == nil {
		return backend.PollUpdate{Status: types.JobStatusStarting}, nil
	}
	return f.pollFn(ctx, remoteJobID)
}

func (f *fakeAdapter) FetchLogs(ctx context.Context, remoteJobID string, afterSeq int64) ([]backend.LogLine, error) {
	if f.logsFn == nil {
		return nil, nil
	}
	return f.logsFn(ctx, remoteJobID, afterSeq)
}

func (f *fakeAdapter) FetchResults(ctx context.Context, remoteJobID string) (json.RawMessage, error) {
	f.resultsCalls++
	if f.resultsFn == nil {
		return nil, &backend.RemoteError{Message: "no results configured"}
	}
	return f.resultsFn(ctx, remoteJobID)
}

func (f *fakeAdapter) Cancel(ctx context.Context, remoteJobID string) error {
	if f.cancelFn == nil {
		return nil
	}
	return f.cancelFn(ctx, remoteJobID)
}

type fakeResolver struct {
	adapter       backend.Adapter
	kind          string
	resolveErr    error
	validateErr   error
	validateCalls int
}

func (f *fakeResolver) resolved() (backend.Resolved, error) {
	if f.resolveErr != nil {
		return backend.Resolved{}, f.resolveErr
	}
	kind := f.kind
	if kind == "" {
		kind = types.BackendKindHosted
	}
	return backend.Resolved{Adapter: f.adapter, Kind: kind}, nil
}

func (f *fakeResolver) ForUser(ctx context.Context, tx *gorm.DB, ownerUserID uuid.UUID) (backend.Resolved, error) {
	return f.resolved()
}

func (f *fakeResolver) ForJob(ctx context.Context, tx *gorm.DB, job *types.Job) (backend.Resolved, error) {
	return f.resolved()
}

func (f *fakeResolver) ValidateKey(ctx context.Context, apiKey string) error {
	f.validateCalls++
	return f.validateErr
}

func validTrainConfig() types.TrainConfig {
	return types.TrainConfig{
		ModelID: "meta-llama/Llama-3.2-1B",
		TrainingData: []types.QAPair{
			{ID: "t1", Question: "What is the capital of France?", Answer: "Paris"},
			{ID: "t2", Question: "What is 2+2?", Answer: "4"},
		},
		EvalData: []types.EvalQuestion{
			{ID: "e1", Question: "What is the capital of Spain?"},
		},
		InfluenceMethod: types.InfluenceMethodTracin,
	}
}
