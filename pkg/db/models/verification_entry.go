package models

import "time"

// VerificationEntry is one measuring-instrument verification job.
type VerificationEntry struct {
	ID               uint        `gorm:"column:id;primaryKey"`
	CompanyID        uint        `gorm:"column:company_id;not null;index"`
	ActNumberID      uint        `gorm:"column:act_number_id;not null;index"`
	VerifierID       *uint       `gorm:"column:verifier_id;index"`
	EmployeeID       uint        `gorm:"column:employee_id;not null"`
	VerificationDate time.Time   `gorm:"column:verification_date;type:date;not null"`
	FactoryNumber    string      `gorm:"column:factory_number;not null"`
	ChangedByAdmin   bool        `gorm:"column:changed_by_admin;not null;default:false"`
	Equipments       []Equipment `gorm:"many2many:verification_entry_equipments;joinForeignKey:VerificationEntryID;joinReferences:EquipmentID"`
	CreatedAt        time.Time   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time   `gorm:"column:updated_at;autoUpdateTime"`
}

// EquipmentIDs returns the ids of the equipment snapshot.
func (v VerificationEntry) EquipmentIDs() []uint {
	ids := make([]uint, 0, len(v.Equipments))
	for _, eq := range v.Equipments {
		ids = append(ids, eq.ID)
	}
	return ids
}
