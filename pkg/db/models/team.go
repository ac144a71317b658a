package models

import "time"

// Team is a named group of verifiers.
type Team struct {
	ID        uint      `gorm:"column:id;primaryKey"`
	CompanyID uint      `gorm:"column:company_id;not null;index"`
	Name      string    `gorm:"column:name;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
