package types

import (
	"time"

	"github.com/google/uuid"
)

// BackendCredential stores a user's compute backend API key encrypted at
// rest. Only the ciphertext and a derived last-4 fragment are persisted.
type BackendCredential struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerUserID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"owner_user_id"`
	Ciphertext  []byte    `gorm:"type:bytea;column:ciphertext;not null" json:"-"`
	Last4       string    `gorm:"column:last4;not null" json:"last4"`
	CreatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (BackendCredential) TableName() string { return "backend_credential" }
