package enums

import "fmt"

// EquipmentInfoType maps to the equipment_info_type_enum enum in Postgres.
type EquipmentInfoType string

const (
	EquipmentInfoTypeVerification EquipmentInfoType = "verification"
	EquipmentInfoTypeMaintenance  EquipmentInfoType = "maintenance"
)

var validEquipmentInfoTypes = []EquipmentInfoType{
	EquipmentInfoTypeVerification,
	EquipmentInfoTypeMaintenance,
}

// IsValid reports whether the value matches the canonical equipment info enum.
func (t EquipmentInfoType) IsValid() bool {
	for _, candidate := range validEquipmentInfoTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseEquipmentInfoType converts raw input into EquipmentInfoType.
func ParseEquipmentInfoType(value string) (EquipmentInfoType, error) {
	for _, candidate := range validEquipmentInfoTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid equipment info type %q", value)
}
