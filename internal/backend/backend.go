package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/LCodingX/influence-dashboard/internal/types"
)

// Sentinel errors form the adapter's whole failure vocabulary. Callers
// decide how to react; the adapter never swallows an error.
var (
	ErrAuthentication      = errors.New("backend: credential rejected")
	ErrEndpointUnavailable = errors.New("backend: endpoint has no capacity")
	ErrTimeout             = errors.New("backend: request timed out")
)

// RemoteError carries the backend's own failure message for everything the
// sentinels don't cover.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("backend: remote error: %s", e.Message)
}

// SubmitRequest is the unit of work handed to a compute backend.
type SubmitRequest struct {
	JobID       uuid.UUID
	Config      types.TrainConfig
	CallbackURL string
}

// PollUpdate is a point-in-time view of a remote job, already translated
// into the internal status vocabulary.
type PollUpdate struct {
	Status       string
	Progress     float64
	CurrentEpoch *int
	TotalEpochs  *int
	TrainingLoss *float64
	ETASeconds   *float64
	// ErrorMessage is set when Status is failed.
	ErrorMessage string
}

// LogLine is one backend-emitted log record. Seq is assigned by the worker
// and is unique per remote job.
type LogLine struct {
	Seq     int64          `json:"seq"`
	Ts      time.Time      `json:"ts"`
	Level   string         `json:"level"`
	Phase   string         `json:"phase"`
	Message string         `json:"message"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Adapter is the uniform contract over heterogeneous compute backends. The
// operator-hosted and user-supplied variants are interchangeable behind it.
type Adapter interface {
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	Poll(ctx context.Context, remoteJobID string) (PollUpdate, error)
	FetchLogs(ctx context.Context, remoteJobID string, afterSeq int64) ([]LogLine, error)
	FetchResults(ctx context.Context, remoteJobID string) (json.RawMessage, error)
	Cancel(ctx context.Context, remoteJobID string) error
}

// RunPod job states.
const (
	remoteStatusInQueue    = "IN_QUEUE"
	remoteStatusInProgress = "IN_PROGRESS"
	remoteStatusCompleted  = "COMPLETED"
	remoteStatusFailed     = "FAILED"
	remoteStatusCancelled  = "CANCELLED"
	remoteStatusTimedOut   = "TIMED_OUT"
)

// Worker-reported phases inside IN_PROGRESS.
const (
	workerStatusStarting           = "starting"
	workerStatusTraining           = "training"
	workerStatusComputingInfluence = "computing_influence"
	workerStatusRunningEval        = "running_eval"
)

// mapStatus translates the backend's native vocabulary into the internal
// one. Cancellation and timeout both collapse to failed; the original
// reason survives in the job's error message.
func mapStatus(remoteStatus, workerStatus string) string {
	switch remoteStatus {
	case remoteStatusInQueue:
		return types.JobStatusQueued
	case remoteStatusInProgress:
		switch workerStatus {
		case workerStatusTraining:
			return types.JobStatusTraining
		case workerStatusComputingInfluence, workerStatusRunningEval:
			return types.JobStatusComputingInfluence
		default:
			return types.JobStatusStarting
		}
	case remoteStatusCompleted:
		return types.JobStatusCompleted
	case remoteStatusFailed, remoteStatusCancelled, remoteStatusTimedOut:
		return types.JobStatusFailed
	default:
		return types.JobStatusStarting
	}
}

// failureMessage preserves what mapStatus discards.
func failureMessage(remoteStatus, remoteError string) string {
	if remoteError != "" {
		return remoteError
	}
	switch remoteStatus {
	case remoteStatusCancelled:
		return "cancelled by user"
	case remoteStatusTimedOut:
		return "timed out on backend"
	default:
		return "job failed on backend"
	}
}
