package db

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrLockRace is returned when a row can neither be inserted nor re-read
// under lock, even after one retry.
var ErrLockRace = errors.New("row could not be created or locked after a concurrent insert")

// LockOrCreate returns the row matching key, locked FOR UPDATE until tx ends.
//
// When no row exists, build() is inserted inside a savepoint. A unique
// violation rolls back only that savepoint and the row inserted by the
// concurrent winner is re-selected under lock. The boolean result reports
// whether this call inserted the row.
func LockOrCreate[T any](ctx context.Context, tx *gorm.DB, key map[string]any, build func() *T) (*T, bool, error) {
	if tx == nil {
		return nil, false, errors.New("transaction required")
	}

	for attempt := 0; attempt < 2; attempt++ {
		row, err := SelectForUpdate[T](ctx, tx, key)
		if err == nil {
			return row, false, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, err
		}

		created := build()
		err = tx.WithContext(ctx).Transaction(func(sp *gorm.DB) error {
			return sp.Create(created).Error
		})
		if err == nil {
			return created, true, nil
		}
		if !IsUniqueViolation(err, "") {
			return nil, false, err
		}
	}

	return nil, false, ErrLockRace
}

// SelectForUpdate loads the single row matching key and locks it until tx ends.
// It returns gorm.ErrRecordNotFound when nothing matches.
func SelectForUpdate[T any](ctx context.Context, tx *gorm.DB, key map[string]any) (*T, error) {
	var row T
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(key).
		Take(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}
