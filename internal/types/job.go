package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobStatusQueued             = "queued"
	JobStatusStarting           = "starting"
	JobStatusTraining           = "training"
	JobStatusComputingInfluence = "computing_influence"
	JobStatusCompleted          = "completed"
	JobStatusFailed             = "failed"
)

const (
	BackendKindHosted = "hosted"
	BackendKindUser   = "user"
)

// IsTerminalStatus reports whether a job in this status may never change
// again (other than its log cursor).
func IsTerminalStatus(status string) bool {
	return status == JobStatusCompleted || status == JobStatusFailed
}

type Job struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerUserID  uuid.UUID      `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	Status       string         `gorm:"column:status;not null;index" json:"status"`
	Progress     float64        `gorm:"column:progress;not null;default:0" json:"progress"`
	CurrentEpoch *int           `gorm:"column:current_epoch" json:"current_epoch,omitempty"`
	TotalEpochs  *int           `gorm:"column:total_epochs" json:"total_epochs,omitempty"`
	TrainingLoss *float64       `gorm:"column:training_loss" json:"training_loss,omitempty"`
	ETASeconds   *float64       `gorm:"column:eta_seconds" json:"eta_seconds,omitempty"`
	Config       datatypes.JSON `gorm:"type:jsonb;column:config;not null" json:"config"`
	Results      datatypes.JSON `gorm:"type:jsonb;column:results" json:"results,omitempty"`
	Error        string         `gorm:"column:error" json:"error,omitempty"`
	RemoteJobID  string         `gorm:"column:remote_job_id;index" json:"remote_job_id,omitempty"`
	BackendKind  string         `gorm:"column:backend_kind;not null" json:"backend_kind"`
	EndpointID   *uuid.UUID     `gorm:"type:uuid;column:endpoint_id" json:"endpoint_id,omitempty"`
	LogCursor    int64          `gorm:"column:log_cursor;not null;default:0" json:"log_cursor"`
	CreatedAt    time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	CompletedAt  *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
}

func (Job) TableName() string { return "job" }
