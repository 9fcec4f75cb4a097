package backend

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/LCodingX/influence-dashboard/internal/logger"
	"github.com/LCodingX/influence-dashboard/internal/types"
)

// runpodAdapter implements Adapter over one resolved (api key, endpoint)
// pair. The hosted and user-supplied variants differ only in how the
// Selector resolves that pair.
type runpodAdapter struct {
	client     *Client
	log        *logger.Logger
	apiKey     string
	endpointID string
}

// workerInput is the serverless worker's request schema.
type workerInput struct {
	JobID              string               `json:"job_id"`
	ModelID            string               `json:"model_id"`
	TrainingData       []types.QAPair       `json:"training_data"`
	Hyperparams        types.Hyperparams    `json:"hyperparams"`
	InfluenceMethod    string               `json:"influence_method"`
	EvalData           []types.EvalQuestion `json:"eval_data"`
	CheckpointInterval int                  `json:"checkpoint_interval"`
	CallbackURL        string               `json:"callback_url,omitempty"`
}

func (a *runpodAdapter) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	input := workerInput{
		JobID:              req.JobID.String(),
		ModelID:            req.Config.ModelID,
		TrainingData:       req.Config.TrainingData,
		Hyperparams:        req.Config.Hyperparams,
		InfluenceMethod:    req.Config.InfluenceMethod,
		EvalData:           req.Config.EvalData,
		CheckpointInterval: req.Config.CheckpointInterval,
		CallbackURL:        req.CallbackURL,
	}
	return a.client.Run(ctx, a.apiKey, a.endpointID, input)
}

// Poll prefers the aggregate stream (progress plus worker phase); when the
// endpoint doesn't expose one it degrades to the point-in-time status query
// instead of failing the whole poll.
func (a *runpodAdapter) Poll(ctx context.Context, remoteJobID string) (PollUpdate, error) {
	stream, err := a.client.Stream(ctx, a.apiKey, a.endpointID, remoteJobID)
	if err == nil {
		update := PollUpdate{Status: mapStatus(stream.Status, "")}
		if n := len(stream.Stream); n > 0 {
			frame := stream.Stream[n-1].Output
			update.Status = mapStatus(stream.Status, frame.Status)
			update.Progress = frame.Progress
			update.CurrentEpoch = frame.CurrentEpoch
			update.TotalEpochs = frame.TotalEpochs
			update.TrainingLoss = frame.TrainingLoss
			update.ETASeconds = frame.ETASeconds
		}
		if update.Status == types.JobStatusCompleted {
			update.Progress = 1
		}
		if update.Status == types.JobStatusFailed {
			update.ErrorMessage = failureMessage(stream.Status, "")
		}
		return update, nil
	}
	if !errors.Is(err, errStreamUnsupported) {
		return PollUpdate{}, err
	}

	a.log.Debug("Stream unavailable, falling back to status query", "remote_job_id", remoteJobID)
	status, err := a.client.Status(ctx, a.apiKey, a.endpointID, remoteJobID)
	if err != nil {
		return PollUpdate{}, err
	}
	update := PollUpdate{Status: mapStatus(status.Status, "")}
	if len(status.Output) > 0 && status.Status == remoteStatusInProgress {
		var frame streamFrame
		if jErr := json.Unmarshal(status.Output, &frame); jErr == nil {
			update.Status = mapStatus(status.Status, frame.Status)
			update.Progress = frame.Progress
			update.CurrentEpoch = frame.CurrentEpoch
			update.TotalEpochs = frame.TotalEpochs
			update.TrainingLoss = frame.TrainingLoss
			update.ETASeconds = frame.ETASeconds
		}
	}
	if update.Status == types.JobStatusCompleted {
		update.Progress = 1
	}
	if update.Status == types.JobStatusFailed {
		update.ErrorMessage = failureMessage(status.Status, status.Error)
	}
	return update, nil
}

// FetchLogs returns backend log lines with seq > afterSeq, ordered by seq.
// Endpoints without a stream simply have no incremental logs; that is not
// an error.
func (a *runpodAdapter) FetchLogs(ctx context.Context, remoteJobID string, afterSeq int64) ([]LogLine, error) {
	stream, err := a.client.Stream(ctx, a.apiKey, a.endpointID, remoteJobID)
	if err != nil {
		if errors.Is(err, errStreamUnsupported) {
			return nil, nil
		}
		return nil, err
	}
	var out []LogLine
	for _, item := range stream.Stream {
		for _, line := range item.Output.Logs {
			if line.Seq > afterSeq {
				out = append(out, line)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (a *runpodAdapter) FetchResults(ctx context.Context, remoteJobID string) (json.RawMessage, error) {
	status, err := a.client.Status(ctx, a.apiKey, a.endpointID, remoteJobID)
	if err != nil {
		return nil, err
	}
	if status.Status != remoteStatusCompleted {
		return nil, &RemoteError{Message: "results not available: job status " + status.Status}
	}
	if len(status.Output) == 0 {
		return nil, &RemoteError{Message: "completed job returned no output"}
	}
	return status.Output, nil
}

func (a *runpodAdapter) Cancel(ctx context.Context, remoteJobID string) error {
	return a.client.CancelJob(ctx, a.apiKey, a.endpointID, remoteJobID)
}
