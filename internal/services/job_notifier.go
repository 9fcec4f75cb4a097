package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/LCodingX/influence-dashboard/internal/sse"
	"github.com/LCodingX/influence-dashboard/internal/types"
)

// JobNotifier pushes job lifecycle events to the owner's SSE channel.
// Best-effort: a dropped event is recovered by the next poll.
type JobNotifier interface {
	JobCreated(userID uuid.UUID, job *types.Job)
	JobProgress(userID uuid.UUID, job *types.Job)
	JobLogs(userID uuid.UUID, jobID uuid.UUID, entries []*types.JobLogEntry)
	JobCompleted(userID uuid.UUID, job *types.Job)
	JobFailed(userID uuid.UUID, job *types.Job)
}

type jobNotifier struct {
	hub *sse.SSEHub
	bus SSEBus // optional; fans events out across replicas
}

func NewJobNotifier(hub *sse.SSEHub, bus SSEBus) JobNotifier {
	return &jobNotifier{hub: hub, bus: bus}
}

// broadcast delivers locally and, when a bus is configured, to every other
// replica. The bus forwarder loops the message back into each hub.
func (n *jobNotifier) broadcast(msg sse.SSEMessage) {
	if n.bus != nil {
		_ = n.bus.Publish(context.Background(), msg)
		return
	}
	n.hub.Broadcast(msg)
}

func (n *jobNotifier) JobCreated(userID uuid.UUID, job *types.Job) {
	n.broadcast(sse.SSEMessage{
		Channel: userID.String(),
		Event:   sse.SSEEventJobCreated,
		Data:    map[string]any{"job": job},
	})
}

func (n *jobNotifier) JobProgress(userID uuid.UUID, job *types.Job) {
	n.broadcast(sse.SSEMessage{
		Channel: userID.String(),
		Event:   sse.SSEEventJobProgress,
		Data: map[string]any{
			"job_id":        job.ID,
			"status":        job.Status,
			"progress":      job.Progress,
			"current_epoch": job.CurrentEpoch,
			"total_epochs":  job.TotalEpochs,
			"training_loss": job.TrainingLoss,
			"eta_seconds":   job.ETASeconds,
		},
	})
}

func (n *jobNotifier) JobLogs(userID uuid.UUID, jobID uuid.UUID, entries []*types.JobLogEntry) {
	if len(entries) == 0 {
		return
	}
	n.broadcast(sse.SSEMessage{
		Channel: userID.String(),
		Event:   sse.SSEEventJobLogs,
		Data: map[string]any{
			"job_id":  jobID,
			"entries": entries,
		},
	})
}

func (n *jobNotifier) JobCompleted(userID uuid.UUID, job *types.Job) {
	n.broadcast(sse.SSEMessage{
		Channel: userID.String(),
		Event:   sse.SSEEventJobCompleted,
		Data: map[string]any{
			"job_id": job.ID,
			"job":    job,
		},
	})
}

func (n *jobNotifier) JobFailed(userID uuid.UUID, job *types.Job) {
	n.broadcast(sse.SSEMessage{
		Channel: userID.String(),
		Event:   sse.SSEEventJobFailed,
		Data: map[string]any{
			"job_id": job.ID,
			"status": job.Status,
			"error":  job.Error,
		},
	})
}
