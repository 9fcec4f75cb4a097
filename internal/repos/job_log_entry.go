package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/LCodingX/influence-dashboard/internal/logger"
	"github.com/LCodingX/influence-dashboard/internal/types"
)

type JobLogRepo interface {
	InsertIgnoreDuplicates(ctx context.Context, tx *gorm.DB, entries []*types.JobLogEntry) (int64, error)
	ListAfter(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, afterSeq int64, limit int) ([]*types.JobLogEntry, error)
	CountByJob(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) (int64, error)
}

type jobLogRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobLogRepo(db *gorm.DB, baseLog *logger.Logger) JobLogRepo {
	return &jobLogRepo{db: db, log: baseLog.With("repo", "JobLogRepo")}
}

// InsertIgnoreDuplicates appends entries with uniqueness on (job_id, seq),
// silently skipping rows already present so redelivered batches are
// harmless. Returns the number of rows actually inserted.
func (r *jobLogRepo) InsertIgnoreDuplicates(ctx context.Context, tx *gorm.DB, entries []*types.JobLogEntry) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(entries) == 0 {
		return 0, nil
	}
	res := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_id"}, {Name: "seq"}},
			DoNothing: true,
		}).
		Create(&entries)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *jobLogRepo) ListAfter(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, afterSeq int64, limit int) ([]*types.JobLogEntry, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.JobLogEntry
	if jobID == uuid.Nil {
		return out, nil
	}
	q := transaction.WithContext(ctx).
		Where("job_id = ? AND seq > ?", jobID, afterSeq).
		Order("seq ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *jobLogRepo) CountByJob(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.JobLogEntry{}).
		Where("job_id = ?", jobID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
