package models

import (
	"time"

	"github.com/metrolog/metrolog-backend/pkg/enums"
)

// Equipment is a measuring instrument owned by a company.
type Equipment struct {
	ID            uint            `gorm:"column:id;primaryKey"`
	CompanyID     uint            `gorm:"column:company_id;not null;index"`
	Name          string          `gorm:"column:name;not null"`
	FactoryNumber string          `gorm:"column:factory_number;not null"`
	IsDeleted     bool            `gorm:"column:is_deleted;not null;default:false"`
	Infos         []EquipmentInfo `gorm:"foreignKey:EquipmentID"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName keeps the plural table created by the migrations.
func (Equipment) TableName() string {
	return "equipments"
}

// EquipmentInfo is a validity window (calibration, maintenance) of an instrument.
type EquipmentInfo struct {
	ID          uint                    `gorm:"column:id;primaryKey"`
	EquipmentID uint                    `gorm:"column:equipment_id;not null;index"`
	Type        enums.EquipmentInfoType `gorm:"column:type;type:equipment_info_type_enum;not null"`
	DateFrom    time.Time               `gorm:"column:date_from;type:date;not null"`
	DateTo      time.Time               `gorm:"column:date_to;type:date;not null"`
	Info        *string                 `gorm:"column:info"`
	IsDeleted   bool                    `gorm:"column:is_deleted;not null;default:false"`
	CreatedAt   time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName overrides the pluralized default.
func (EquipmentInfo) TableName() string {
	return "equipment_info"
}
