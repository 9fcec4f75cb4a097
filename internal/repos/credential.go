package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/LCodingX/influence-dashboard/internal/logger"
	"github.com/LCodingX/influence-dashboard/internal/types"
)

type CredentialRepo interface {
	Upsert(ctx context.Context, tx *gorm.DB, cred *types.BackendCredential) (*types.BackendCredential, error)
	GetByOwner(ctx context.Context, tx *gorm.DB, ownerUserID uuid.UUID) (*types.BackendCredential, error)
	DeleteByOwner(ctx context.Context, tx *gorm.DB, ownerUserID uuid.UUID) error
}

type credentialRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCredentialRepo(db *gorm.DB, baseLog *logger.Logger) CredentialRepo {
	return &credentialRepo{db: db, log: baseLog.With("repo", "CredentialRepo")}
}

// Upsert replaces any existing credential for the owner in a single atomic
// statement; storing a new key is how a user rotates it.
func (r *credentialRepo) Upsert(ctx context.Context, tx *gorm.DB, cred *types.BackendCredential) (*types.BackendCredential, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if cred == nil || cred.OwnerUserID == uuid.Nil {
		return nil, nil
	}
	if err := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "owner_user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"ciphertext": cred.Ciphertext,
				"last4":      cred.Last4,
				"updated_at": time.Now(),
			}),
		}).
		Create(cred).Error; err != nil {
		return nil, err
	}
	return cred, nil
}

func (r *credentialRepo) GetByOwner(ctx context.Context, tx *gorm.DB, ownerUserID uuid.UUID) (*types.BackendCredential, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if ownerUserID == uuid.Nil {
		return nil, nil
	}
	var cred types.BackendCredential
	err := transaction.WithContext(ctx).
		Where("owner_user_id = ?", ownerUserID).
		Limit(1).
		Find(&cred).Error
	if err != nil {
		return nil, err
	}
	if cred.ID == uuid.Nil {
		return nil, nil
	}
	return &cred, nil
}

func (r *credentialRepo) DeleteByOwner(ctx context.Context, tx *gorm.DB, ownerUserID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if ownerUserID == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).
		Where("owner_user_id = ?", ownerUserID).
		Delete(&types.BackendCredential{}).Error
}
