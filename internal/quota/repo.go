package quota

import (
	"context"
	"time"

	"github.com/metrolog/metrolog-backend/pkg/dates"
	"github.com/metrolog/metrolog-backend/pkg/db"
	"github.com/metrolog/metrolog-backend/pkg/db/models"
	"gorm.io/gorm"
)

// Repository manages persistence for verifier quota ledger rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	LockOrCreate(ctx context.Context, verifierID uint, date time.Time, defaultLimit int) (*models.QuotaLog, error)
	FindForUpdate(ctx context.Context, verifierID uint, date time.Time) (*models.QuotaLog, error)
	Find(ctx context.Context, verifierID uint, date time.Time) (*models.QuotaLog, error)
	Adjust(ctx context.Context, row *models.QuotaLog, delta int) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{db: conn}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func rowKey(verifierID uint, date time.Time) map[string]any {
	return map[string]any{"verifier_id": verifierID, "verification_date": dates.Day(date)}
}

// LockOrCreate returns the (verifier, date) row locked for the rest of the
// transaction, creating it with defaultLimit when absent.
func (r *repository) LockOrCreate(ctx context.Context, verifierID uint, date time.Time, defaultLimit int) (*models.QuotaLog, error) {
	row, _, err := db.LockOrCreate(ctx, r.db, rowKey(verifierID, date), func() *models.QuotaLog {
		return &models.QuotaLog{
			VerifierID:       verifierID,
			VerificationDate: dates.Day(date),
			RemainingQuota:   defaultLimit,
		}
	})
	return row, err
}

func (r *repository) FindForUpdate(ctx context.Context, verifierID uint, date time.Time) (*models.QuotaLog, error) {
	return db.SelectForUpdate[models.QuotaLog](ctx, r.db, rowKey(verifierID, date))
}

func (r *repository) Find(ctx context.Context, verifierID uint, date time.Time) (*models.QuotaLog, error) {
	var row models.QuotaLog
	if err := r.db.WithContext(ctx).Where(rowKey(verifierID, date)).Take(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// Adjust adds delta to the stored remaining quota and mirrors it on row.
func (r *repository) Adjust(ctx context.Context, row *models.QuotaLog, delta int) error {
	if delta == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).
		Model(&models.QuotaLog{}).
		Where("id = ?", row.ID).
		UpdateColumn("remaining_quota", gorm.Expr("remaining_quota + ?", delta)).Error; err != nil {
		return err
	}
	row.RemainingQuota += delta
	return nil
}
