package verifications

import (
	"time"

	"github.com/metrolog/metrolog-backend/internal/actnumbers"
	"github.com/metrolog/metrolog-backend/pkg/dates"
	"github.com/metrolog/metrolog-backend/pkg/db/models"
	"github.com/metrolog/metrolog-backend/pkg/enums"
)

// Actor is the authenticated employee performing a change.
type Actor struct {
	EmployeeID uint
	CompanyID  uint
	Status     enums.EmployeeStatus
}

// CreateInput captures a new verification entry.
type CreateInput struct {
	ActNumber     int
	SeriesID      uint
	Date          time.Time
	FactoryNumber string
	ActFields     actnumbers.Fields
}

// UpdateInput captures an edit of an existing entry. ActNumber, SeriesID,
// Date and FactoryNumber are always sent by the edit form.
type UpdateInput struct {
	ActNumber     int
	SeriesID      uint
	Date          time.Time
	FactoryNumber string
	// VerifierID requests a manual verifier change; only privileged actors may send it.
	VerifierID *uint
	ActFields  actnumbers.Fields
}

// EntryDTO is the public shape of a verification entry.
type EntryDTO struct {
	ID               uint   `json:"id"`
	ActNumberID      uint   `json:"act_number_id"`
	VerifierID       *uint  `json:"verifier_id"`
	EmployeeID       uint   `json:"employee_id"`
	VerificationDate string `json:"verification_date"`
	FactoryNumber    string `json:"factory_number"`
	ChangedByAdmin   bool   `json:"changed_by_admin"`
	EquipmentIDs     []uint `json:"equipment_ids"`
}

// MutationResult reports the outcome of a create or update.
type MutationResult struct {
	Entry EntryDTO `json:"entry"`
	// Pool names the candidate pool of an automatic allocation.
	Pool string `json:"pool,omitempty"`
	// Reassigned reports whether sibling entries moved to the chosen verifier.
	Reassigned bool `json:"reassigned"`
}

// FromModel maps a stored entry to its DTO.
func FromModel(e *models.VerificationEntry) EntryDTO {
	return EntryDTO{
		ID:               e.ID,
		ActNumberID:      e.ActNumberID,
		VerifierID:       e.VerifierID,
		EmployeeID:       e.EmployeeID,
		VerificationDate: dates.Format(e.VerificationDate),
		FactoryNumber:    e.FactoryNumber,
		ChangedByAdmin:   e.ChangedByAdmin,
		EquipmentIDs:     e.EquipmentIDs(),
	}
}
