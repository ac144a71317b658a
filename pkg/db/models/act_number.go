package models

import (
	"time"

	"github.com/metrolog/metrolog-backend/pkg/enums"
)

// ActNumberCapacity is the number of verification entries one act number admits.
const ActNumberCapacity = 4

// ActNumber groups the verification entries of one physical visit.
type ActNumber struct {
	ID               uint              `gorm:"column:id;primaryKey"`
	Number           int               `gorm:"column:act_number;not null;uniqueIndex:uq_act_number_company_series"`
	CompanyID        uint              `gorm:"column:company_id;not null;uniqueIndex:uq_act_number_company_series"`
	SeriesID         uint              `gorm:"column:series_id;not null;uniqueIndex:uq_act_number_company_series"`
	Count            int               `gorm:"column:count;not null;default:4;check:ck_act_number_count_range,count >= 0 AND count <= 4"`
	ClientFullName   *string           `gorm:"column:client_full_name"`
	ClientPhone      *string           `gorm:"column:client_phone"`
	Address          string            `gorm:"column:address;not null;default:''"`
	CityID           *uint             `gorm:"column:city_id"`
	VerificationDate *time.Time        `gorm:"column:verification_date;type:date"`
	LegalEntity      enums.LegalEntity `gorm:"column:legal_entity;type:verification_legal_entity_enum;not null;default:'individual'"`
	CreatedAt        time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
