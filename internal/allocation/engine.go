package allocation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/metrolog/metrolog-backend/internal/equipment"
	"github.com/metrolog/metrolog-backend/internal/quota"
	"github.com/metrolog/metrolog-backend/internal/verifiers"
	"github.com/metrolog/metrolog-backend/pkg/dates"
	"github.com/metrolog/metrolog-backend/pkg/db/models"
	pkgerrors "github.com/metrolog/metrolog-backend/pkg/errors"
	"github.com/metrolog/metrolog-backend/pkg/logger"
	"github.com/metrolog/metrolog-backend/pkg/metrics"
	"gorm.io/gorm"
)

// errRejected rolls back the savepoint of a candidate that cannot absorb the demand.
var errRejected = errors.New("candidate rejected")

// EntryWriter moves existing verification entries to another verifier.
type EntryWriter interface {
	ReassignEntries(ctx context.Context, tx *gorm.DB, entryIDs []uint, verifierID uint, equipments []models.Equipment) error
}

// Request describes one new entry joining an act number.
type Request struct {
	CompanyID uint
	// Siblings are the entries already attached to the act number.
	Siblings        []models.VerificationEntry
	Date            time.Time
	DefaultVerifier *models.Verifier
	DailyLimit      int
}

// Result is the verifier chosen for the new entry.
type Result struct {
	VerifierID uint
	Pool       string
	// Equipments is the instrument snapshot shared by every entry of the act number.
	Equipments []models.Equipment
	// Reassigned reports whether sibling entries were moved to the verifier.
	Reassigned bool
}

// Engine picks a verifier for new entries and moves quota between verifiers.
type Engine struct {
	verifiers verifiers.Repository
	ledger    *quota.Ledger
	gate      *equipment.Gate
	entries   EntryWriter
	metrics   *metrics.AllocationMetrics
	logg      *logger.Logger
}

// Deps groups the collaborators of an Engine.
type Deps struct {
	Verifiers verifiers.Repository
	Ledger    *quota.Ledger
	Gate      *equipment.Gate
	Entries   EntryWriter
	Metrics   *metrics.AllocationMetrics
	Logger    *logger.Logger
}

// NewEngine validates deps and returns an Engine.
func NewEngine(deps Deps) (*Engine, error) {
	if deps.Verifiers == nil {
		return nil, fmt.Errorf("verifier repository required")
	}
	if deps.Ledger == nil {
		return nil, fmt.Errorf("quota ledger required")
	}
	if deps.Entries == nil {
		return nil, fmt.Errorf("entry writer required")
	}
	if deps.Gate == nil {
		deps.Gate = equipment.NewGate(nil)
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	return &Engine{
		verifiers: deps.Verifiers,
		ledger:    deps.Ledger,
		gate:      deps.Gate,
		entries:   deps.Entries,
		metrics:   deps.Metrics,
		logg:      deps.Logger,
	}, nil
}

// demand holds the per-date load of an act number including the new entry.
type demand struct {
	date time.Time
	with quota.Histogram
	// held is what each previous verifier carries in its ledger for this act
	// number. Admin-pinned siblings are outside the ledger and not counted.
	held     map[uint]quota.Histogram
	previous []uint
	// unassigned marks siblings without a verifier.
	unassigned bool
	siblingIDs []uint
}

func newDemand(req Request) demand {
	d := demand{
		date: dates.Day(req.Date),
		with: quota.Histogram{},
		held: map[uint]quota.Histogram{},
	}
	seen := map[uint]struct{}{}
	for _, s := range req.Siblings {
		d.with.Add(s.VerificationDate, 1)
		d.siblingIDs = append(d.siblingIDs, s.ID)
		if s.VerifierID == nil {
			d.unassigned = true
			continue
		}
		id := *s.VerifierID
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			d.previous = append(d.previous, id)
		}
		if s.ChangedByAdmin {
			continue
		}
		if d.held[id] == nil {
			d.held[id] = quota.Histogram{}
		}
		d.held[id].Add(s.VerificationDate, 1)
	}
	sort.Slice(d.previous, func(i, j int) bool { return d.previous[i] < d.previous[j] })
	d.with.Add(d.date, 1)
	return d
}

// heldOnlyBy reports whether every sibling already belongs to verifierID.
func (d demand) heldOnlyBy(verifierID uint) bool {
	return !d.unassigned && len(d.previous) == 1 && d.previous[0] == verifierID
}

// Allocate walks the candidate pools in order and commits the first verifier
// whose ledger admits the act number's demand. It fails with
// CodeCapacityExhausted when no candidate qualifies.
func (e *Engine) Allocate(ctx context.Context, tx *gorm.DB, req Request) (*Result, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	if req.DefaultVerifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "default verifier is required")
	}
	if req.DailyLimit <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "daily verifier limit must be positive")
	}

	start := time.Now()
	d := newDemand(req)
	repo := e.verifiers.WithTx(tx)

	for _, pool := range BuildPools(repo, req.CompanyID, req.DefaultVerifier) {
		candidates, err := pool.Load(ctx)
		if err != nil {
			e.metrics.ObserveAllocation(metrics.OutcomeError, pool.Name, time.Since(start))
			return nil, fmt.Errorf("load %s candidates: %w", pool.Name, err)
		}
		for i := range candidates {
			candidate := &candidates[i]
			if !e.gate.IsVerifierUsable(candidate) {
				e.reject(ctx, pool.Name, candidate.ID, metrics.RejectEquipment)
				continue
			}
			res, err := e.try(ctx, tx, repo, candidate.ID, req.DailyLimit, d)
			if errors.Is(err, errRejected) {
				e.reject(ctx, pool.Name, candidate.ID, metrics.RejectQuota)
				continue
			}
			if err != nil {
				e.metrics.ObserveAllocation(metrics.OutcomeError, pool.Name, time.Since(start))
				return nil, err
			}
			res.Pool = pool.Name
			e.metrics.ObserveAllocation(metrics.OutcomeAssigned, pool.Name, time.Since(start))
			if res.Reassigned {
				logCtx := e.logg.WithFields(ctx, map[string]any{
					"verifier_id": res.VerifierID,
					"pool":        res.Pool,
					"entries":     len(d.siblingIDs),
				})
				e.logg.Info(logCtx, "act number entries reassigned")
			}
			return res, nil
		}
	}

	e.metrics.ObserveAllocation(metrics.OutcomeExhausted, "", time.Since(start))
	return nil, pkgerrors.New(pkgerrors.CodeCapacityExhausted, "no verifier has quota left for this date").
		WithDetails(map[string]any{
			"date":                dates.Format(d.date),
			"default_verifier_id": req.DefaultVerifier.ID,
		})
}

func (e *Engine) reject(ctx context.Context, pool string, verifierID uint, reason string) {
	e.metrics.IncRejection(pool, reason)
	logCtx := e.logg.WithFields(ctx, map[string]any{
		"verifier_id": verifierID,
		"pool":        pool,
		"reason":      reason,
	})
	e.logg.Debug(logCtx, "allocation candidate rejected")
}

// try evaluates one candidate inside a savepoint. A rejected candidate
// returns errRejected and leaves nothing behind.
func (e *Engine) try(ctx context.Context, tx *gorm.DB, repo verifiers.Repository, verifierID uint, limit int, d demand) (*Result, error) {
	res := &Result{VerifierID: verifierID}
	err := tx.Transaction(func(sp *gorm.DB) error {
		rows, err := e.ledger.Lock(ctx, sp, verifierID, d.with, limit)
		if err != nil {
			return err
		}
		if !rows.Admits(d.with) {
			return errRejected
		}

		equipments, err := repo.WithTx(sp).ValidEquipments(ctx, verifierID)
		if err != nil {
			return fmt.Errorf("load equipment of verifier %d: %w", verifierID, err)
		}
		res.Equipments = equipments

		if d.heldOnlyBy(verifierID) {
			single := quota.Histogram{}
			single.Add(d.date, 1)
			return e.ledger.Debit(ctx, sp, rows, single)
		}

		for _, prev := range d.previous {
			share := d.held[prev]
			if share.Total() == 0 {
				continue
			}
			if err := e.ledger.Credit(ctx, sp, prev, share, limit); err != nil {
				return err
			}
		}
		if err := e.ledger.Debit(ctx, sp, rows, d.with); err != nil {
			return err
		}
		if len(d.siblingIDs) == 0 {
			return nil
		}
		if err := e.entries.ReassignEntries(ctx, sp, d.siblingIDs, verifierID, equipments); err != nil {
			return fmt.Errorf("reassign entries to verifier %d: %w", verifierID, err)
		}
		res.Reassigned = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
