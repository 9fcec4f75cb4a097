package types

import (
	"time"

	"github.com/google/uuid"
)

// BackendEndpoint is a per-user remote serverless endpoint, lazily created
// on first submit against a user-supplied credential and reused thereafter.
// At most one endpoint per owner may be the default (partial unique index,
// see db.AutoMigrateAll).
type BackendEndpoint struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerUserID      uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	RemoteEndpointID string    `gorm:"column:remote_endpoint_id;not null" json:"remote_endpoint_id"`
	GPUClass         string    `gorm:"column:gpu_class" json:"gpu_class"`
	MaxWorkers       int       `gorm:"column:max_workers;not null;default:1" json:"max_workers"`
	IsDefault        bool      `gorm:"column:is_default;not null;default:false" json:"is_default"`
	CreatedAt        time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt        time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (BackendEndpoint) TableName() string { return "backend_endpoint" }
