package actnumbers

import (
	"time"

	"github.com/metrolog/metrolog-backend/pkg/dates"
	"github.com/metrolog/metrolog-backend/pkg/db/models"
	"github.com/metrolog/metrolog-backend/pkg/enums"
)

// Key identifies an act number within a company.
type Key struct {
	Number    int
	SeriesID  uint
	CompanyID uint
}

// Fields carries the mutable visit attributes of an act number. Nil fields
// are left untouched.
type Fields struct {
	ClientFullName   *string
	ClientPhone      *string
	Address          *string
	CityID           *uint
	VerificationDate *time.Time
	LegalEntity      *enums.LegalEntity
}

// columns returns the column updates for the set fields.
func (f Fields) columns() map[string]any {
	out := map[string]any{}
	if f.ClientFullName != nil {
		out["client_full_name"] = *f.ClientFullName
	}
	if f.ClientPhone != nil {
		out["client_phone"] = *f.ClientPhone
	}
	if f.Address != nil {
		out["address"] = *f.Address
	}
	if f.CityID != nil {
		out["city_id"] = *f.CityID
	}
	if f.VerificationDate != nil {
		out["verification_date"] = dates.Day(*f.VerificationDate)
	}
	if f.LegalEntity != nil {
		out["legal_entity"] = *f.LegalEntity
	}
	return out
}

// applyTo mirrors the set fields onto act.
func (f Fields) applyTo(act *models.ActNumber) {
	if f.ClientFullName != nil {
		act.ClientFullName = f.ClientFullName
	}
	if f.ClientPhone != nil {
		act.ClientPhone = f.ClientPhone
	}
	if f.Address != nil {
		act.Address = *f.Address
	}
	if f.CityID != nil {
		act.CityID = f.CityID
	}
	if f.VerificationDate != nil {
		d := dates.Day(*f.VerificationDate)
		act.VerificationDate = &d
	}
	if f.LegalEntity != nil {
		act.LegalEntity = *f.LegalEntity
	}
}

// SameKey reports whether act is the act number identified by key.
func SameKey(act *models.ActNumber, key Key) bool {
	return act != nil &&
		act.Number == key.Number &&
		act.SeriesID == key.SeriesID &&
		act.CompanyID == key.CompanyID
}
