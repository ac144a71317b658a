package models

import "time"

// QuotaLog is the remaining daily capacity of a verifier on one calendar date.
// RemainingQuota is signed; allocation tolerates a small overbooking below zero.
type QuotaLog struct {
	ID               uint      `gorm:"column:id;primaryKey"`
	VerifierID       uint      `gorm:"column:verifier_id;not null;uniqueIndex:uq_verifier_quota_logs_verifier_date"`
	VerificationDate time.Time `gorm:"column:verification_date;type:date;not null;uniqueIndex:uq_verifier_quota_logs_verifier_date"`
	RemainingQuota   int       `gorm:"column:remaining_quota;not null"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName overrides the default table name.
func (QuotaLog) TableName() string {
	return "verifier_quota_logs"
}
