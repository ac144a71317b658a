package verifications

import (
	"context"
	"time"

	"github.com/metrolog/metrolog-backend/pkg/dates"
	"github.com/metrolog/metrolog-backend/pkg/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository manages persistence for verification entries.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Company(ctx context.Context, companyID uint) (*models.Company, error)
	Siblings(ctx context.Context, actNumberID uint) ([]models.VerificationEntry, error)
	FactoryNumberTaken(ctx context.Context, companyID uint, factoryNumber string, date time.Time, excludeID uint) (bool, error)
	Create(ctx context.Context, entry *models.VerificationEntry) error
	Get(ctx context.Context, companyID, id uint) (*models.VerificationEntry, error)
	GetForUpdate(ctx context.Context, companyID, id uint) (*models.VerificationEntry, error)
	UpdateColumns(ctx context.Context, entry *models.VerificationEntry, columns map[string]any) error
	ReplaceEquipments(ctx context.Context, entryID uint, equipments []models.Equipment) error
	Reassign(ctx context.Context, entryIDs []uint, verifierID uint, equipments []models.Equipment) error
	Delete(ctx context.Context, entry *models.VerificationEntry) error
	ListByDate(ctx context.Context, companyID uint, date time.Time) ([]models.VerificationEntry, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a verification entry repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Company(ctx context.Context, companyID uint) (*models.Company, error) {
	var c models.Company
	if err := r.db.WithContext(ctx).Where("id = ?", companyID).Take(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// Siblings returns the entries attached to an act number. Callers hold the
// act number row lock, which serializes writers of the same act.
func (r *repository) Siblings(ctx context.Context, actNumberID uint) ([]models.VerificationEntry, error) {
	var out []models.VerificationEntry
	err := r.db.WithContext(ctx).
		Where("act_number_id = ?", actNumberID).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

func (r *repository) FactoryNumberTaken(ctx context.Context, companyID uint, factoryNumber string, date time.Time, excludeID uint) (bool, error) {
	q := r.db.WithContext(ctx).
		Model(&models.VerificationEntry{}).
		Where("company_id = ? AND factory_number = ? AND verification_date = ?", companyID, factoryNumber, dates.Day(date))
	if excludeID != 0 {
		q = q.Where("id <> ?", excludeID)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Create inserts entry together with its equipment snapshot.
func (r *repository) Create(ctx context.Context, entry *models.VerificationEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) Get(ctx context.Context, companyID, id uint) (*models.VerificationEntry, error) {
	var e models.VerificationEntry
	if err := r.db.WithContext(ctx).
		Preload("Equipments", func(db *gorm.DB) *gorm.DB { return db.Order("equipments.id ASC") }).
		Where("id = ? AND company_id = ?", id, companyID).
		Take(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *repository) GetForUpdate(ctx context.Context, companyID, id uint) (*models.VerificationEntry, error) {
	var e models.VerificationEntry
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND company_id = ?", id, companyID).
		Take(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *repository) UpdateColumns(ctx context.Context, entry *models.VerificationEntry, columns map[string]any) error {
	if len(columns) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.VerificationEntry{}).
		Where("id = ?", entry.ID).
		Updates(columns).Error
}

func (r *repository) ReplaceEquipments(ctx context.Context, entryID uint, equipments []models.Equipment) error {
	assoc := r.db.WithContext(ctx).Model(&models.VerificationEntry{ID: entryID}).Association("Equipments")
	if len(equipments) == 0 {
		return assoc.Clear()
	}
	return assoc.Replace(equipments)
}

// Reassign moves entries to verifierID and replaces their equipment snapshot.
// The caller debits the new verifier for every moved entry, so admin pins are
// cleared and the entries count against the ledger again.
func (r *repository) Reassign(ctx context.Context, entryIDs []uint, verifierID uint, equipments []models.Equipment) error {
	if len(entryIDs) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).
		Model(&models.VerificationEntry{}).
		Where("id IN ?", entryIDs).
		Updates(map[string]any{"verifier_id": verifierID, "changed_by_admin": false}).Error; err != nil {
		return err
	}
	for _, id := range entryIDs {
		if err := r.ReplaceEquipments(ctx, id, equipments); err != nil {
			return err
		}
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, entry *models.VerificationEntry) error {
	if err := r.ReplaceEquipments(ctx, entry.ID, nil); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Delete(&models.VerificationEntry{}, entry.ID).Error
}

func (r *repository) ListByDate(ctx context.Context, companyID uint, date time.Time) ([]models.VerificationEntry, error) {
	var out []models.VerificationEntry
	err := r.db.WithContext(ctx).
		Preload("Equipments", func(db *gorm.DB) *gorm.DB { return db.Order("equipments.id ASC") }).
		Where("company_id = ? AND verification_date = ?", companyID, dates.Day(date)).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

// EntryWriter adapts a Repository to the allocation engine.
type EntryWriter struct {
	repo Repository
}

// NewEntryWriter wraps repo.
func NewEntryWriter(repo Repository) EntryWriter {
	return EntryWriter{repo: repo}
}

// ReassignEntries moves entries inside tx.
func (w EntryWriter) ReassignEntries(ctx context.Context, tx *gorm.DB, entryIDs []uint, verifierID uint, equipments []models.Equipment) error {
	return w.repo.WithTx(tx).Reassign(ctx, entryIDs, verifierID, equipments)
}
