package models

import "time"

// Verifier is a field engineer holding a set of measuring equipment.
type Verifier struct {
	ID         uint        `gorm:"column:id;primaryKey"`
	CompanyID  uint        `gorm:"column:company_id;not null;index"`
	TeamID     *uint       `gorm:"column:team_id;index"`
	Name       string      `gorm:"column:name;not null"`
	IsDeleted  bool        `gorm:"column:is_deleted;not null;default:false"`
	Equipments []Equipment `gorm:"many2many:equipments_verifiers;joinForeignKey:VerifierID;joinReferences:EquipmentID"`
	CreatedAt  time.Time   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time   `gorm:"column:updated_at;autoUpdateTime"`
}
