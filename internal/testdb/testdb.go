// Package testdb provides an in-memory SQLite schema and seed helpers for
// repository and service tests.
package testdb

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/metrolog/metrolog-backend/pkg/db/models"
	"github.com/metrolog/metrolog-backend/pkg/enums"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Open returns an isolated in-memory database with every model migrated.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:metrolog_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.Company{},
		&models.Team{},
		&models.Equipment{},
		&models.EquipmentInfo{},
		&models.Verifier{},
		&models.Employee{},
		&models.ActNumber{},
		&models.VerificationEntry{},
		&models.QuotaLog{},
	))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// Day builds a UTC calendar date.
func Day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Company inserts a company with automatic team allocation configured.
func Company(t *testing.T, db *gorm.DB, autoTeams bool, dailyLimit int) *models.Company {
	t.Helper()
	c := &models.Company{Name: "Metrolog " + uuid.NewString()[:8], AutoTeams: autoTeams, DailyVerifierLimit: dailyLimit}
	require.NoError(t, db.Create(c).Error)
	return c
}

// Team inserts a team.
func Team(t *testing.T, db *gorm.DB, companyID uint, name string) *models.Team {
	t.Helper()
	team := &models.Team{CompanyID: companyID, Name: name}
	require.NoError(t, db.Create(team).Error)
	return team
}

// VerifierOpts tunes Verifier.
type VerifierOpts struct {
	TeamID *uint
	// ExpiresOn sets the verification window end of the single instrument.
	// Zero means the instrument has never been verified.
	ExpiresOn time.Time
	// NoEquipment leaves the verifier without instruments.
	NoEquipment bool
}

// Verifier inserts a verifier holding one instrument.
func Verifier(t *testing.T, db *gorm.DB, companyID uint, name string, opts VerifierOpts) *models.Verifier {
	t.Helper()
	v := &models.Verifier{CompanyID: companyID, TeamID: opts.TeamID, Name: name}
	require.NoError(t, db.Create(v).Error)
	if opts.NoEquipment {
		return v
	}

	eq := &models.Equipment{CompanyID: companyID, Name: name + " meter", FactoryNumber: "F-" + name}
	require.NoError(t, db.Create(eq).Error)
	if !opts.ExpiresOn.IsZero() {
		info := &models.EquipmentInfo{
			EquipmentID: eq.ID,
			Type:        enums.EquipmentInfoTypeVerification,
			DateFrom:    opts.ExpiresOn.AddDate(-1, 0, 0),
			DateTo:      opts.ExpiresOn,
		}
		require.NoError(t, db.Create(info).Error)
	}
	require.NoError(t, db.Model(v).Association("Equipments").Append(eq))
	return v
}

// Employee inserts an employee with an optional default verifier.
func Employee(t *testing.T, db *gorm.DB, companyID uint, status enums.EmployeeStatus, defaultVerifierID *uint) *models.Employee {
	t.Helper()
	e := &models.Employee{CompanyID: companyID, Name: "dispatcher", Status: status, DefaultVerifierID: defaultVerifierID}
	require.NoError(t, db.Create(e).Error)
	return e
}

// QuotaLog inserts a ledger row.
func QuotaLog(t *testing.T, db *gorm.DB, verifierID uint, date time.Time, remaining int) *models.QuotaLog {
	t.Helper()
	row := &models.QuotaLog{VerifierID: verifierID, VerificationDate: date, RemainingQuota: remaining}
	require.NoError(t, db.Create(row).Error)
	return row
}

// Remaining reads a ledger row; ok is false when the row does not exist.
func Remaining(t *testing.T, db *gorm.DB, verifierID uint, date time.Time) (int, bool) {
	t.Helper()
	var rows []models.QuotaLog
	require.NoError(t, db.Where("verifier_id = ? AND verification_date = ?", verifierID, date).Find(&rows).Error)
	if len(rows) == 0 {
		return 0, false
	}
	return rows[0].RemainingQuota, true
}

// ActNumber inserts an act number with the given remaining count.
func ActNumber(t *testing.T, db *gorm.DB, companyID uint, number int, seriesID uint, count int) *models.ActNumber {
	t.Helper()
	act := &models.ActNumber{CompanyID: companyID, Number: number, SeriesID: seriesID, Count: count, Address: "Lenina 1"}
	require.NoError(t, db.Create(act).Error)
	if count == 0 {
		// a zero count is dropped in favour of the column default on insert
		require.NoError(t, db.Model(act).Update("count", 0).Error)
		act.Count = 0
	}
	return act
}

// Entry inserts a verification entry bound to act.
func Entry(t *testing.T, db *gorm.DB, act *models.ActNumber, employeeID uint, verifierID *uint, date time.Time, factoryNumber string) *models.VerificationEntry {
	t.Helper()
	e := &models.VerificationEntry{
		CompanyID:        act.CompanyID,
		ActNumberID:      act.ID,
		VerifierID:       verifierID,
		EmployeeID:       employeeID,
		VerificationDate: date,
		FactoryNumber:    factoryNumber,
	}
	require.NoError(t, db.Create(e).Error)
	return e
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
