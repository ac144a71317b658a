package verifiers

import (
	"context"

	"github.com/metrolog/metrolog-backend/pkg/db/models"
	"gorm.io/gorm"
)

// Repository reads verifiers, their teams and equipment. Verifier data is
// owned by the company CRUD screens; nothing here mutates it.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, companyID, verifierID uint) (*models.Verifier, error)
	DefaultForEmployee(ctx context.Context, companyID, employeeID uint) (*models.Verifier, error)
	ListByTeam(ctx context.Context, companyID, teamID, excludeVerifierID uint) ([]models.Verifier, error)
	ListWithoutTeam(ctx context.Context, companyID, excludeVerifierID uint) ([]models.Verifier, error)
	ListInOtherTeams(ctx context.Context, companyID uint, excludeTeamID *uint, excludeVerifierID uint) ([]models.Verifier, error)
	ValidEquipments(ctx context.Context, verifierID uint) ([]models.Equipment, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a verifier repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// withEquipment scopes a query to live verifiers of a company with their
// instruments and calibration windows preloaded.
func (r *repository) withEquipment(ctx context.Context, companyID uint) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("Equipments").
		Preload("Equipments.Infos").
		Where("verifiers.company_id = ? AND verifiers.is_deleted = ?", companyID, false)
}

func (r *repository) FindByID(ctx context.Context, companyID, verifierID uint) (*models.Verifier, error) {
	var v models.Verifier
	if err := r.withEquipment(ctx, companyID).
		Where("verifiers.id = ?", verifierID).
		Take(&v).Error; err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *repository) DefaultForEmployee(ctx context.Context, companyID, employeeID uint) (*models.Verifier, error) {
	var employee models.Employee
	if err := r.db.WithContext(ctx).
		Where("id = ? AND company_id = ?", employeeID, companyID).
		Take(&employee).Error; err != nil {
		return nil, err
	}
	if employee.DefaultVerifierID == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return r.FindByID(ctx, companyID, *employee.DefaultVerifierID)
}

func (r *repository) ListByTeam(ctx context.Context, companyID, teamID, excludeVerifierID uint) ([]models.Verifier, error) {
	var out []models.Verifier
	err := r.withEquipment(ctx, companyID).
		Where("verifiers.team_id = ? AND verifiers.id <> ?", teamID, excludeVerifierID).
		Order("verifiers.id ASC").
		Find(&out).Error
	return out, err
}

func (r *repository) ListWithoutTeam(ctx context.Context, companyID, excludeVerifierID uint) ([]models.Verifier, error) {
	var out []models.Verifier
	err := r.withEquipment(ctx, companyID).
		Where("verifiers.team_id IS NULL AND verifiers.id <> ?", excludeVerifierID).
		Order("verifiers.id ASC").
		Find(&out).Error
	return out, err
}

func (r *repository) ListInOtherTeams(ctx context.Context, companyID uint, excludeTeamID *uint, excludeVerifierID uint) ([]models.Verifier, error) {
	q := r.withEquipment(ctx, companyID).
		Where("verifiers.team_id IS NOT NULL AND verifiers.id <> ?", excludeVerifierID)
	if excludeTeamID != nil {
		q = q.Where("verifiers.team_id <> ?", *excludeTeamID)
	}
	var out []models.Verifier
	err := q.Order("verifiers.team_id ASC").Order("verifiers.id ASC").Find(&out).Error
	return out, err
}

// ValidEquipments returns the instruments snapshotted onto new entries.
func (r *repository) ValidEquipments(ctx context.Context, verifierID uint) ([]models.Equipment, error) {
	var out []models.Equipment
	err := r.db.WithContext(ctx).
		Joins("JOIN equipments_verifiers ev ON ev.equipment_id = equipments.id").
		Where("ev.verifier_id = ? AND equipments.is_deleted = ?", verifierID, false).
		Order("equipments.id ASC").
		Find(&out).Error
	return out, err
}
