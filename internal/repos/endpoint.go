package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/LCodingX/influence-dashboard/internal/logger"
	"github.com/LCodingX/influence-dashboard/internal/types"
)

type EndpointRepo interface {
	Create(ctx context.Context, tx *gorm.DB, endpoints []*types.BackendEndpoint) ([]*types.BackendEndpoint, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.BackendEndpoint, error)
	GetDefaultByOwner(ctx context.Context, tx *gorm.DB, ownerUserID uuid.UUID) (*types.BackendEndpoint, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	DeleteByOwner(ctx context.Context, tx *gorm.DB, ownerUserID uuid.UUID) error
}

type endpointRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEndpointRepo(db *gorm.DB, baseLog *logger.Logger) EndpointRepo {
	return &endpointRepo{db: db, log: baseLog.With("repo", "EndpointRepo")}
}

func (r *endpointRepo) Create(ctx context.Context, tx *gorm.DB, endpoints []*types.BackendEndpoint) ([]*types.BackendEndpoint, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(endpoints) == 0 {
		return []*types.BackendEndpoint{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&endpoints).Error; err != nil {
		return nil, err
	}
	return endpoints, nil
}

func (r *endpointRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.BackendEndpoint, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.BackendEndpoint
	if len(ids) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *endpointRepo) GetDefaultByOwner(ctx context.Context, tx *gorm.DB, ownerUserID uuid.UUID) (*types.BackendEndpoint, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if ownerUserID == uuid.Nil {
		return nil, nil
	}
	var ep types.BackendEndpoint
	err := transaction.WithContext(ctx).
		Where("owner_user_id = ? AND is_default", ownerUserID).
		Limit(1).
		Find(&ep).Error
	if err != nil {
		return nil, err
	}
	if ep.ID == uuid.Nil {
		return nil, nil
	}
	return &ep, nil
}

func (r *endpointRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.BackendEndpoint{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *endpointRepo) DeleteByOwner(ctx context.Context, tx *gorm.DB, ownerUserID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if ownerUserID == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).
		Where("owner_user_id = ?", ownerUserID).
		Delete(&types.BackendEndpoint{}).Error
}
