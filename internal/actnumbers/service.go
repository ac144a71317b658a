package actnumbers

import (
	"context"
	"errors"
	"fmt"

	"github.com/metrolog/metrolog-backend/pkg/db"
	"github.com/metrolog/metrolog-backend/pkg/db/models"
	pkgerrors "github.com/metrolog/metrolog-backend/pkg/errors"
	"gorm.io/gorm"
)

// Resolver resolves act numbers and guards their entry quota.
type Resolver struct {
	repo Repository
}

// NewResolver wires a resolver with the provided repository.
func NewResolver(repo Repository) (*Resolver, error) {
	if repo == nil {
		return nil, fmt.Errorf("act number repository required")
	}
	return &Resolver{repo: repo}, nil
}

// ResolveOrCreate returns the act number for key locked until tx ends,
// creating it when absent, and applies fields to it.
func (r *Resolver) ResolveOrCreate(ctx context.Context, tx *gorm.DB, key Key, fields Fields) (*models.ActNumber, error) {
	if key.Number <= 0 || key.SeriesID == 0 || key.CompanyID == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "act number, series and company are required")
	}
	repo := r.repo.WithTx(tx)

	act, _, err := repo.LockOrCreate(ctx, key)
	if err != nil {
		if errors.Is(err, db.ErrLockRace) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConstraintViolation, err, "act number is being created concurrently").
				WithDetails(map[string]any{"act_number": key.Number, "series_id": key.SeriesID})
		}
		return nil, fmt.Errorf("resolve act number %d: %w", key.Number, err)
	}

	if err := r.UpdateFields(ctx, tx, act, fields); err != nil {
		return nil, err
	}
	return act, nil
}

// LockByID loads and locks an existing act number of the company.
func (r *Resolver) LockByID(ctx context.Context, tx *gorm.DB, companyID, id uint) (*models.ActNumber, error) {
	act, err := r.repo.WithTx(tx).LockByID(ctx, companyID, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "act number not found")
	}
	if err != nil {
		return nil, fmt.Errorf("lock act number %d: %w", id, err)
	}
	return act, nil
}

// UpdateFields writes the set fields of an already resolved act number.
func (r *Resolver) UpdateFields(ctx context.Context, tx *gorm.DB, act *models.ActNumber, fields Fields) error {
	cols := fields.columns()
	if len(cols) == 0 {
		return nil
	}
	if err := r.repo.WithTx(tx).UpdateColumns(ctx, act, cols); err != nil {
		return fmt.Errorf("update act number %d: %w", act.ID, err)
	}
	fields.applyTo(act)
	return nil
}

// CheckLimit fails with CodeLimitExceeded when act has no entry slots left.
func (r *Resolver) CheckLimit(act *models.ActNumber) error {
	if act == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "act number not found")
	}
	if act.Count <= 0 {
		return limitExceeded(act)
	}
	return nil
}

// Consume takes one entry slot from act.
func (r *Resolver) Consume(ctx context.Context, tx *gorm.DB, act *models.ActNumber) error {
	if err := r.CheckLimit(act); err != nil {
		return err
	}
	ok, err := r.repo.WithTx(tx).AdjustCount(ctx, act, -1)
	if err != nil {
		return fmt.Errorf("consume act number %d: %w", act.ID, err)
	}
	if !ok {
		return limitExceeded(act)
	}
	return nil
}

// Release gives one entry slot back to act. A full act number is left as is.
func (r *Resolver) Release(ctx context.Context, tx *gorm.DB, act *models.ActNumber) error {
	if _, err := r.repo.WithTx(tx).AdjustCount(ctx, act, 1); err != nil {
		return fmt.Errorf("release act number %d: %w", act.ID, err)
	}
	return nil
}

// DeleteIfUnreferenced removes act once no verification entry points at it.
func (r *Resolver) DeleteIfUnreferenced(ctx context.Context, tx *gorm.DB, act *models.ActNumber) (bool, error) {
	repo := r.repo.WithTx(tx)
	referenced, err := repo.IsReferenced(ctx, act.ID)
	if err != nil {
		return false, fmt.Errorf("check act number %d references: %w", act.ID, err)
	}
	if referenced {
		return false, nil
	}
	if err := repo.Delete(ctx, act.ID); err != nil {
		return false, fmt.Errorf("delete act number %d: %w", act.ID, err)
	}
	return true, nil
}

func limitExceeded(act *models.ActNumber) error {
	return pkgerrors.New(pkgerrors.CodeLimitExceeded, fmt.Sprintf("entry limit for act number %d exceeded", act.Number)).
		WithDetails(map[string]any{"act_number": act.Number, "series_id": act.SeriesID, "limit": models.ActNumberCapacity})
}
