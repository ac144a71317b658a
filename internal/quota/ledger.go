package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/metrolog/metrolog-backend/pkg/dates"
	"github.com/metrolog/metrolog-backend/pkg/db"
	"github.com/metrolog/metrolog-backend/pkg/db/models"
	pkgerrors "github.com/metrolog/metrolog-backend/pkg/errors"
	"github.com/metrolog/metrolog-backend/pkg/metrics"
	"gorm.io/gorm"
)

// OverbookFloor is the lowest remaining quota a committed allocation may leave.
const OverbookFloor = -3

// Rows holds locked ledger rows of one verifier keyed by calendar day.
type Rows map[time.Time]*models.QuotaLog

// Admits reports whether every row can absorb demand without crossing
// OverbookFloor. Dates missing from rows are never admissible.
func (r Rows) Admits(demand Histogram) bool {
	for date, n := range demand {
		row, ok := r[date]
		if !ok || row.RemainingQuota-n < OverbookFloor {
			return false
		}
	}
	return true
}

// DeltaInput describes a single-entry ledger change.
type DeltaInput struct {
	VerifierID   uint
	Date         time.Time
	Delta        int
	DefaultLimit int
	// Override skips the admission check for privileged callers.
	Override bool
}

// Ledger is the only writer of verifier quota rows.
type Ledger struct {
	repo    Repository
	metrics *metrics.AllocationMetrics
}

// NewLedger wires a ledger with the provided repository.
func NewLedger(repo Repository, m *metrics.AllocationMetrics) (*Ledger, error) {
	if repo == nil {
		return nil, fmt.Errorf("quota repository required")
	}
	return &Ledger{repo: repo, metrics: m}, nil
}

// Lock locks or creates the verifier's rows for every date of demand, in
// ascending date order.
func (l *Ledger) Lock(ctx context.Context, tx *gorm.DB, verifierID uint, demand Histogram, defaultLimit int) (Rows, error) {
	repo := l.repo.WithTx(tx)
	rows := make(Rows, len(demand))
	for _, date := range demand.Dates() {
		row, err := repo.LockOrCreate(ctx, verifierID, date, defaultLimit)
		if err != nil {
			return nil, wrapLockErr(err, verifierID, date)
		}
		rows[date] = row
	}
	return rows, nil
}

// Debit subtracts demand from already locked rows.
func (l *Ledger) Debit(ctx context.Context, tx *gorm.DB, rows Rows, demand Histogram) error {
	return l.apply(ctx, tx, rows, demand, -1)
}

// Credit returns demand to the verifier, locking or creating its rows first.
func (l *Ledger) Credit(ctx context.Context, tx *gorm.DB, verifierID uint, demand Histogram, defaultLimit int) error {
	rows, err := l.Lock(ctx, tx, verifierID, demand, defaultLimit)
	if err != nil {
		return err
	}
	return l.apply(ctx, tx, rows, demand, 1)
}

func (l *Ledger) apply(ctx context.Context, tx *gorm.DB, rows Rows, demand Histogram, sign int) error {
	repo := l.repo.WithTx(tx)
	for _, date := range demand.Dates() {
		n := demand[date]
		if n == 0 {
			continue
		}
		row, ok := rows[date]
		if !ok {
			return fmt.Errorf("ledger row for %s not locked", dates.Format(date))
		}
		if err := repo.Adjust(ctx, row, sign*n); err != nil {
			return fmt.Errorf("adjust ledger row %d: %w", row.ID, err)
		}
		l.metrics.AddLedgerDelta(sign * n)
	}
	return nil
}

// ApplyDelta changes one (verifier, date) row by in.Delta. Negative deltas are
// rejected with CodeCapacityExhausted when they would cross OverbookFloor,
// unless in.Override is set. The whole delta is checked, so a multi-unit
// debit cannot land below the floor.
func (l *Ledger) ApplyDelta(ctx context.Context, tx *gorm.DB, in DeltaInput) error {
	if in.VerifierID == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "verifier id is required")
	}
	repo := l.repo.WithTx(tx)
	row, err := repo.LockOrCreate(ctx, in.VerifierID, in.Date, in.DefaultLimit)
	if err != nil {
		return wrapLockErr(err, in.VerifierID, in.Date)
	}

	if in.Delta < 0 && !in.Override && row.RemainingQuota+in.Delta < OverbookFloor {
		return pkgerrors.New(pkgerrors.CodeCapacityExhausted, "selected verifier has no quota left for this date").
			WithDetails(map[string]any{
				"verifier_id":     in.VerifierID,
				"date":            dates.Format(in.Date),
				"remaining_quota": row.RemainingQuota,
			})
	}

	if err := repo.Adjust(ctx, row, in.Delta); err != nil {
		return fmt.Errorf("adjust ledger row %d: %w", row.ID, err)
	}
	l.metrics.AddLedgerDelta(in.Delta)
	return nil
}

// Release credits one unit back to an existing row. Missing rows are left
// alone since nothing was ever debited from them.
func (l *Ledger) Release(ctx context.Context, tx *gorm.DB, verifierID uint, date time.Time) error {
	repo := l.repo.WithTx(tx)
	row, err := repo.FindForUpdate(ctx, verifierID, date)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lock ledger row: %w", err)
	}
	if err := repo.Adjust(ctx, row, 1); err != nil {
		return fmt.Errorf("adjust ledger row %d: %w", row.ID, err)
	}
	l.metrics.AddLedgerDelta(1)
	return nil
}

// Remaining reads the current remaining quota without locking. When no row
// exists yet the default limit is reported and found is false.
func (l *Ledger) Remaining(ctx context.Context, verifierID uint, date time.Time, defaultLimit int) (remaining int, found bool, err error) {
	row, err := l.repo.Find(ctx, verifierID, date)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return defaultLimit, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return row.RemainingQuota, true, nil
}

func wrapLockErr(err error, verifierID uint, date time.Time) error {
	if errors.Is(err, db.ErrLockRace) {
		return pkgerrors.Wrap(pkgerrors.CodeConstraintViolation, err, "quota ledger row is being created concurrently").
			WithDetails(map[string]any{"verifier_id": verifierID, "date": dates.Format(date)})
	}
	return fmt.Errorf("lock ledger row for verifier %d on %s: %w", verifierID, dates.Format(date), err)
}
