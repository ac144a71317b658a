package verifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/metrolog/metrolog-backend/internal/actnumbers"
	"github.com/metrolog/metrolog-backend/internal/allocation"
	"github.com/metrolog/metrolog-backend/internal/equipment"
	"github.com/metrolog/metrolog-backend/internal/quota"
	"github.com/metrolog/metrolog-backend/internal/verifiers"
	"github.com/metrolog/metrolog-backend/pkg/config"
	"github.com/metrolog/metrolog-backend/pkg/dates"
	"github.com/metrolog/metrolog-backend/pkg/db/models"
	pkgerrors "github.com/metrolog/metrolog-backend/pkg/errors"
	"github.com/metrolog/metrolog-backend/pkg/logger"
	"gorm.io/gorm"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// entryCache stores the per-day listings of a company.
type entryCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	ScanDel(ctx context.Context, pattern string) (int, error)
	VerificationEntriesKey(companyID uint, day string) string
	VerificationEntriesPattern(companyID uint) string
}

// Service exposes verification entry workflows.
type Service interface {
	Create(ctx context.Context, actor Actor, input CreateInput) (*MutationResult, error)
	Update(ctx context.Context, actor Actor, entryID uint, input UpdateInput) (*MutationResult, error)
	Delete(ctx context.Context, actor Actor, entryID uint) error
	ListByDate(ctx context.Context, actor Actor, date time.Time) ([]EntryDTO, error)
	VerifierQuota(ctx context.Context, actor Actor, verifierID uint, date time.Time) (*QuotaDTO, error)
}

// QuotaDTO is the ledger position of a verifier on one day.
type QuotaDTO struct {
	VerifierID     uint   `json:"verifier_id"`
	Date           string `json:"date"`
	RemainingQuota int    `json:"remaining_quota"`
	// Tracked is false while no entry has touched the row yet.
	Tracked bool `json:"tracked"`
	Floor   int  `json:"floor"`
}

// Deps groups the collaborators of the service.
type Deps struct {
	Repo      Repository
	Verifiers verifiers.Repository
	Resolver  *actnumbers.Resolver
	Engine    *allocation.Engine
	Ledger    *quota.Ledger
	Gate      *equipment.Gate
	Tx        txRunner
	Cache     entryCache
	Quota     config.QuotaConfig
	CacheCfg  config.CacheConfig
	Logger    *logger.Logger
}

type service struct {
	repo      Repository
	verifiers verifiers.Repository
	resolver  *actnumbers.Resolver
	engine    *allocation.Engine
	ledger    *quota.Ledger
	gate      *equipment.Gate
	tx        txRunner
	cache     entryCache
	quotaCfg  config.QuotaConfig
	cacheTTL  time.Duration
	logg      *logger.Logger
}

// NewService builds the verification service backed by the provided stack.
func NewService(deps Deps) (Service, error) {
	switch {
	case deps.Repo == nil:
		return nil, fmt.Errorf("verification repository required")
	case deps.Verifiers == nil:
		return nil, fmt.Errorf("verifier repository required")
	case deps.Resolver == nil:
		return nil, fmt.Errorf("act number resolver required")
	case deps.Engine == nil:
		return nil, fmt.Errorf("allocation engine required")
	case deps.Ledger == nil:
		return nil, fmt.Errorf("quota ledger required")
	case deps.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	}
	if deps.Gate == nil {
		deps.Gate = equipment.NewGate(nil)
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	return &service{
		repo:      deps.Repo,
		verifiers: deps.Verifiers,
		resolver:  deps.Resolver,
		engine:    deps.Engine,
		ledger:    deps.Ledger,
		gate:      deps.Gate,
		tx:        deps.Tx,
		cache:     deps.Cache,
		quotaCfg:  deps.Quota,
		cacheTTL:  deps.CacheCfg.VerificationsTTL,
		logg:      deps.Logger,
	}, nil
}

func validateEntry(actNumber int, seriesID uint, date time.Time, factoryNumber string) error {
	switch {
	case actNumber <= 0:
		return pkgerrors.New(pkgerrors.CodeValidation, "act number must be positive")
	case seriesID == 0:
		return pkgerrors.New(pkgerrors.CodeValidation, "series id is required")
	case date.IsZero():
		return pkgerrors.New(pkgerrors.CodeValidation, "verification date is required")
	case strings.TrimSpace(factoryNumber) == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "factory number is required")
	}
	return nil
}

// Create stores a new entry, consuming one act number slot and, for
// companies with automatic teams, allocating a verifier with quota left.
func (s *service) Create(ctx context.Context, actor Actor, input CreateInput) (*MutationResult, error) {
	if err := validateEntry(input.ActNumber, input.SeriesID, input.Date, input.FactoryNumber); err != nil {
		return nil, err
	}
	date := dates.Day(input.Date)
	factoryNumber := strings.TrimSpace(input.FactoryNumber)

	var result *MutationResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		vrepo := s.verifiers.WithTx(tx)

		company, err := s.company(ctx, repo, actor.CompanyID)
		if err != nil {
			return err
		}
		if err := checkDateBlock(company, actor, date); err != nil {
			return err
		}
		if err := s.checkFactoryNumber(ctx, repo, actor.CompanyID, factoryNumber, date, 0); err != nil {
			return err
		}

		def, err := vrepo.DefaultForEmployee(ctx, actor.CompanyID, actor.EmployeeID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeValidation, "employee has no default verifier")
		}
		if err != nil {
			return fmt.Errorf("load default verifier: %w", err)
		}
		if err := s.gate.CheckConditions(def.Equipments); err != nil {
			return err
		}

		act, err := s.resolver.ResolveOrCreate(ctx, tx, actnumbers.Key{
			Number:    input.ActNumber,
			SeriesID:  input.SeriesID,
			CompanyID: actor.CompanyID,
		}, input.ActFields)
		if err != nil {
			return err
		}
		if err := s.resolver.Consume(ctx, tx, act); err != nil {
			return err
		}

		entry := &models.VerificationEntry{
			CompanyID:        actor.CompanyID,
			ActNumberID:      act.ID,
			EmployeeID:       actor.EmployeeID,
			VerificationDate: date,
			FactoryNumber:    factoryNumber,
		}
		result = &MutationResult{}

		if company.AutoTeams {
			limit, err := s.dailyLimit(company)
			if err != nil {
				return err
			}
			siblings, err := repo.Siblings(ctx, act.ID)
			if err != nil {
				return fmt.Errorf("load act number entries: %w", err)
			}
			alloc, err := s.engine.Allocate(ctx, tx, allocation.Request{
				CompanyID:       actor.CompanyID,
				Siblings:        siblings,
				Date:            date,
				DefaultVerifier: def,
				DailyLimit:      limit,
			})
			if err != nil {
				return err
			}
			entry.VerifierID = &alloc.VerifierID
			entry.Equipments = alloc.Equipments
			result.Pool = alloc.Pool
			result.Reassigned = alloc.Reassigned
		} else {
			equipments, err := vrepo.ValidEquipments(ctx, def.ID)
			if err != nil {
				return fmt.Errorf("load equipment of verifier %d: %w", def.ID, err)
			}
			entry.VerifierID = &def.ID
			entry.Equipments = equipments
		}

		if err := repo.Create(ctx, entry); err != nil {
			return fmt.Errorf("create verification entry: %w", err)
		}
		result.Entry = FromModel(entry)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, actor.CompanyID)
	return result, nil
}

// Update edits an entry. Moving it to another act number shifts one slot
// between the two; date and verifier changes move quota between ledger rows.
func (s *service) Update(ctx context.Context, actor Actor, entryID uint, input UpdateInput) (*MutationResult, error) {
	if err := validateEntry(input.ActNumber, input.SeriesID, input.Date, input.FactoryNumber); err != nil {
		return nil, err
	}
	newDate := dates.Day(input.Date)
	factoryNumber := strings.TrimSpace(input.FactoryNumber)
	privileged := actor.Status.IsPrivileged()

	var result *MutationResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		company, err := s.company(ctx, repo, actor.CompanyID)
		if err != nil {
			return err
		}
		if err := checkDateBlock(company, actor, newDate); err != nil {
			return err
		}
		if err := s.checkFactoryNumber(ctx, repo, actor.CompanyID, factoryNumber, newDate, entryID); err != nil {
			return err
		}

		entry, current, err := s.lockEntry(ctx, tx, actor, entryID)
		if err != nil {
			return err
		}

		verifierChanged := input.VerifierID != nil &&
			(entry.VerifierID == nil || *input.VerifierID != *entry.VerifierID)
		if verifierChanged && !privileged {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only administrators may change the verifier")
		}
		targetID := entry.VerifierID
		if verifierChanged {
			targetID = input.VerifierID
		}
		if targetID == nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "entry has no verifier")
		}
		target, err := s.verifiers.WithTx(tx).FindByID(ctx, actor.CompanyID, *targetID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "verifier not found")
		}
		if err != nil {
			return fmt.Errorf("load verifier %d: %w", *targetID, err)
		}
		if err := s.gate.CheckConditions(target.Equipments); err != nil {
			return err
		}

		columns := map[string]any{
			"verification_date": newDate,
			"factory_number":    factoryNumber,
		}

		key := actnumbers.Key{Number: input.ActNumber, SeriesID: input.SeriesID, CompanyID: actor.CompanyID}
		var vacated *models.ActNumber
		if actnumbers.SameKey(current, key) {
			if err := s.resolver.UpdateFields(ctx, tx, current, input.ActFields); err != nil {
				return err
			}
		} else {
			next, err := s.resolver.ResolveOrCreate(ctx, tx, key, input.ActFields)
			if err != nil {
				return err
			}
			if err := s.resolver.Consume(ctx, tx, next); err != nil {
				return err
			}
			if err := s.resolver.Release(ctx, tx, current); err != nil {
				return err
			}
			columns["act_number_id"] = next.ID
			vacated = current
		}

		if company.AutoTeams {
			limit, err := s.dailyLimit(company)
			if err != nil {
				return err
			}
			if err := s.moveQuota(ctx, tx, entry, newDate, verifierChanged, privileged, limit); err != nil {
				return err
			}
		}
		if verifierChanged {
			columns["verifier_id"] = target.ID
			columns["changed_by_admin"] = true
		}

		if err := repo.UpdateColumns(ctx, entry, columns); err != nil {
			return fmt.Errorf("update verification entry %d: %w", entry.ID, err)
		}
		if verifierChanged {
			equipments, err := s.verifiers.WithTx(tx).ValidEquipments(ctx, target.ID)
			if err != nil {
				return fmt.Errorf("load equipment of verifier %d: %w", target.ID, err)
			}
			if err := repo.ReplaceEquipments(ctx, entry.ID, equipments); err != nil {
				return fmt.Errorf("replace equipment of entry %d: %w", entry.ID, err)
			}
		}
		if vacated != nil {
			if _, err := s.resolver.DeleteIfUnreferenced(ctx, tx, vacated); err != nil {
				return err
			}
		}

		updated, err := repo.Get(ctx, actor.CompanyID, entry.ID)
		if err != nil {
			return fmt.Errorf("reload verification entry %d: %w", entry.ID, err)
		}
		result = &MutationResult{Entry: FromModel(updated)}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, actor.CompanyID)
	return result, nil
}

// moveQuota applies the ledger side of an update. Entries whose verifier was
// chosen by an administrator no longer count against any ledger.
func (s *service) moveQuota(ctx context.Context, tx *gorm.DB, entry *models.VerificationEntry, newDate time.Time, verifierChanged, privileged bool, limit int) error {
	if entry.ChangedByAdmin || entry.VerifierID == nil {
		return nil
	}
	oldDate := dates.Day(entry.VerificationDate)

	if verifierChanged {
		return s.ledger.ApplyDelta(ctx, tx, quota.DeltaInput{
			VerifierID:   *entry.VerifierID,
			Date:         oldDate,
			Delta:        1,
			DefaultLimit: limit,
			Override:     privileged,
		})
	}
	if oldDate.Equal(newDate) {
		return nil
	}

	deltas := []quota.DeltaInput{
		{VerifierID: *entry.VerifierID, Date: oldDate, Delta: 1, DefaultLimit: limit, Override: privileged},
		{VerifierID: *entry.VerifierID, Date: newDate, Delta: -1, DefaultLimit: limit, Override: privileged},
	}
	sort.Slice(deltas, func(i, j int) bool { return deltas[i].Date.Before(deltas[j].Date) })
	for _, d := range deltas {
		if err := s.ledger.ApplyDelta(ctx, tx, d); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes an entry, gives its act number slot back and credits the
// verifier's ledger row.
func (s *service) Delete(ctx context.Context, actor Actor, entryID uint) error {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		entry, act, err := s.lockEntry(ctx, tx, actor, entryID)
		if err != nil {
			return err
		}
		if err := s.repo.WithTx(tx).Delete(ctx, entry); err != nil {
			return fmt.Errorf("delete verification entry %d: %w", entry.ID, err)
		}
		if err := s.resolver.Release(ctx, tx, act); err != nil {
			return err
		}
		if _, err := s.resolver.DeleteIfUnreferenced(ctx, tx, act); err != nil {
			return err
		}
		if entry.VerifierID != nil && !entry.ChangedByAdmin {
			if err := s.ledger.Release(ctx, tx, *entry.VerifierID, entry.VerificationDate); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, actor.CompanyID)
	return nil
}

// lockEntry locks the entry's act number before the entry itself, the same
// order the create path uses when it reassigns siblings.
func (s *service) lockEntry(ctx context.Context, tx *gorm.DB, actor Actor, entryID uint) (*models.VerificationEntry, *models.ActNumber, error) {
	repo := s.repo.WithTx(tx)
	peek, err := repo.Get(ctx, actor.CompanyID, entryID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "verification entry not found")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load verification entry %d: %w", entryID, err)
	}
	if !actor.Status.IsPrivileged() && peek.EmployeeID != actor.EmployeeID {
		return nil, nil, pkgerrors.New(pkgerrors.CodeForbidden, "entry belongs to another employee")
	}

	act, err := s.resolver.LockByID(ctx, tx, actor.CompanyID, peek.ActNumberID)
	if err != nil {
		return nil, nil, err
	}
	entry, err := repo.GetForUpdate(ctx, actor.CompanyID, entryID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "verification entry not found")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("lock verification entry %d: %w", entryID, err)
	}
	if entry.ActNumberID != act.ID {
		return nil, nil, pkgerrors.New(pkgerrors.CodeConstraintViolation, "verification entry moved concurrently")
	}
	return entry, act, nil
}

// ListByDate returns the company's entries for a day, served from cache when possible.
func (s *service) ListByDate(ctx context.Context, actor Actor, date time.Time) ([]EntryDTO, error) {
	if date.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "date is required")
	}
	day := dates.Format(date)

	var key string
	if s.cache != nil {
		key = s.cache.VerificationEntriesKey(actor.CompanyID, day)
		if raw, err := s.cache.Get(ctx, key); err == nil {
			var cached []EntryDTO
			if jsonErr := json.Unmarshal([]byte(raw), &cached); jsonErr == nil {
				return cached, nil
			}
		}
	}

	entries, err := s.repo.ListByDate(ctx, actor.CompanyID, date)
	if err != nil {
		return nil, fmt.Errorf("list verification entries: %w", err)
	}
	out := make([]EntryDTO, 0, len(entries))
	for i := range entries {
		out = append(out, FromModel(&entries[i]))
	}

	if s.cache != nil {
		if payload, err := json.Marshal(out); err == nil {
			if err := s.cache.Set(ctx, key, payload, s.cacheTTL); err != nil {
				s.logg.Warn(s.logg.WithField(ctx, "cache_key", key), "verification listing cache write failed")
			}
		}
	}
	return out, nil
}

// VerifierQuota reports the remaining daily quota of a verifier.
func (s *service) VerifierQuota(ctx context.Context, actor Actor, verifierID uint, date time.Time) (*QuotaDTO, error) {
	if date.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "date is required")
	}
	if _, err := s.verifiers.FindByID(ctx, actor.CompanyID, verifierID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "verifier not found")
		}
		return nil, fmt.Errorf("load verifier %d: %w", verifierID, err)
	}
	company, err := s.company(ctx, s.repo, actor.CompanyID)
	if err != nil {
		return nil, err
	}
	limit := company.DailyVerifierLimit
	if limit <= 0 {
		limit = s.quotaCfg.DefaultDailyLimit
	}
	remaining, tracked, err := s.ledger.Remaining(ctx, verifierID, date, limit)
	if err != nil {
		return nil, fmt.Errorf("read quota of verifier %d: %w", verifierID, err)
	}
	return &QuotaDTO{
		VerifierID:     verifierID,
		Date:           dates.Format(date),
		RemainingQuota: remaining,
		Tracked:        tracked,
		Floor:          quota.OverbookFloor,
	}, nil
}

func (s *service) company(ctx context.Context, repo Repository, companyID uint) (*models.Company, error) {
	company, err := repo.Company(ctx, companyID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "company not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load company %d: %w", companyID, err)
	}
	return company, nil
}

func (s *service) checkFactoryNumber(ctx context.Context, repo Repository, companyID uint, factoryNumber string, date time.Time, excludeID uint) error {
	taken, err := repo.FactoryNumberTaken(ctx, companyID, factoryNumber, date, excludeID)
	if err != nil {
		return fmt.Errorf("check factory number: %w", err)
	}
	if taken {
		return pkgerrors.New(pkgerrors.CodeConflict, "an entry with this factory number already exists for the date").
			WithDetails(map[string]any{"factory_number": factoryNumber, "date": dates.Format(date)})
	}
	return nil
}

// dailyLimit is the company's per-verifier daily quota, falling back to the
// configured default.
func (s *service) dailyLimit(company *models.Company) (int, error) {
	limit := company.DailyVerifierLimit
	if limit <= 0 {
		limit = s.quotaCfg.DefaultDailyLimit
	}
	if limit <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "company daily verifier limit is not configured")
	}
	return limit, nil
}

// checkDateBlock rejects dates on or before the company's block date for
// non-privileged employees.
func checkDateBlock(company *models.Company, actor Actor, date time.Time) error {
	if actor.Status.IsPrivileged() || company.VerificationDateBlock == nil {
		return nil
	}
	block := dates.Day(*company.VerificationDateBlock)
	if date.After(block) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "verification date is blocked").
		WithDetails(map[string]any{"blocked_until": dates.Format(block)})
}

func (s *service) invalidate(ctx context.Context, companyID uint) {
	if s.cache == nil {
		return
	}
	if _, err := s.cache.ScanDel(ctx, s.cache.VerificationEntriesPattern(companyID)); err != nil {
		s.logg.Error(s.logg.WithCompanyID(ctx, companyID), "verification listing cache invalidation failed", err)
	}
}
