package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

const (
	LogPhaseSystem       = "system"
	LogPhaseModelLoading = "model_loading"
	LogPhaseTraining     = "training"
	LogPhaseInfluence    = "influence"
	LogPhaseEval         = "eval"
)

// JobLogEntry rows are append-only: created only by the log reconciler,
// never mutated, deleted only by cascade with their job.
type JobLogEntry struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	JobID       uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_job_log_entry_job_seq,priority:1" json:"job_id"`
	OwnerUserID uuid.UUID      `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	Seq         int64          `gorm:"column:seq;not null;uniqueIndex:idx_job_log_entry_job_seq,priority:2" json:"seq"`
	Ts          time.Time      `gorm:"column:ts;not null" json:"ts"`
	Level       string         `gorm:"column:level;not null" json:"level"`
	Phase       string         `gorm:"column:phase;not null" json:"phase"`
	Message     string         `gorm:"column:message;not null" json:"message"`
	Meta        datatypes.JSON `gorm:"type:jsonb;column:meta" json:"meta,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (JobLogEntry) TableName() string { return "job_log_entry" }
