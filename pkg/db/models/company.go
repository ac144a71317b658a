package models

import "time"

// Company holds the per-tenant verification settings consulted during allocation.
type Company struct {
	ID                    uint       `gorm:"column:id;primaryKey"`
	Name                  string     `gorm:"column:name;not null"`
	AutoTeams             bool       `gorm:"column:auto_teams;not null;default:false"`
	DailyVerifierLimit    int        `gorm:"column:daily_verifier_limit;not null;default:0"`
	VerificationDateBlock *time.Time `gorm:"column:verification_date_block;type:date"`
	CreatedAt             time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
