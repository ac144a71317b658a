package actnumbers

import (
	"context"

	"github.com/metrolog/metrolog-backend/pkg/db"
	"github.com/metrolog/metrolog-backend/pkg/db/models"
	"gorm.io/gorm"
)

// Repository manages persistence for act numbers.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	LockOrCreate(ctx context.Context, key Key) (*models.ActNumber, bool, error)
	LockByID(ctx context.Context, companyID, id uint) (*models.ActNumber, error)
	UpdateColumns(ctx context.Context, act *models.ActNumber, columns map[string]any) error
	AdjustCount(ctx context.Context, act *models.ActNumber, delta int) (bool, error)
	IsReferenced(ctx context.Context, id uint) (bool, error)
	Delete(ctx context.Context, id uint) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an act number repository bound to the provided database.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{db: conn}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) LockOrCreate(ctx context.Context, key Key) (*models.ActNumber, bool, error) {
	return db.LockOrCreate(ctx, r.db, map[string]any{
		"act_number": key.Number,
		"series_id":  key.SeriesID,
		"company_id": key.CompanyID,
	}, func() *models.ActNumber {
		return &models.ActNumber{
			Number:    key.Number,
			SeriesID:  key.SeriesID,
			CompanyID: key.CompanyID,
			Count:     models.ActNumberCapacity,
		}
	})
}

func (r *repository) LockByID(ctx context.Context, companyID, id uint) (*models.ActNumber, error) {
	return db.SelectForUpdate[models.ActNumber](ctx, r.db, map[string]any{"id": id, "company_id": companyID})
}

func (r *repository) UpdateColumns(ctx context.Context, act *models.ActNumber, columns map[string]any) error {
	if len(columns) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.ActNumber{}).
		Where("id = ?", act.ID).
		Updates(columns).Error
}

// AdjustCount moves the remaining count by delta while keeping it inside
// [0, ActNumberCapacity]. It reports false when the guard refused the change.
func (r *repository) AdjustCount(ctx context.Context, act *models.ActNumber, delta int) (bool, error) {
	q := r.db.WithContext(ctx).Model(&models.ActNumber{}).Where("id = ?", act.ID)
	if delta < 0 {
		q = q.Where("count >= ?", -delta)
	} else {
		q = q.Where("count <= ?", models.ActNumberCapacity-delta)
	}
	res := q.UpdateColumn("count", gorm.Expr("count + ?", delta))
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	act.Count += delta
	return true, nil
}

func (r *repository) IsReferenced(ctx context.Context, id uint) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.VerificationEntry{}).
		Where("act_number_id = ?", id).
		Limit(1).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Delete(&models.ActNumber{}, id).Error
}
