package models

import (
	"time"

	"github.com/metrolog/metrolog-backend/pkg/enums"
)

// Employee is a company user who dispatches verification entries.
type Employee struct {
	ID                uint                 `gorm:"column:id;primaryKey"`
	CompanyID         uint                 `gorm:"column:company_id;not null;index"`
	Name              string               `gorm:"column:name;not null"`
	Status            enums.EmployeeStatus `gorm:"column:status;type:employee_status_enum;not null"`
	DefaultVerifierID *uint                `gorm:"column:default_verifier_id"`
	CreatedAt         time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}
