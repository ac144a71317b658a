package enums

import "fmt"

// LegalEntity maps to the verification_legal_entity_enum enum in Postgres.
type LegalEntity string

const (
	LegalEntityIndividual LegalEntity = "individual"
	LegalEntityLegal      LegalEntity = "legal"
)

var validLegalEntities = []LegalEntity{
	LegalEntityIndividual,
	LegalEntityLegal,
}

// IsValid reports whether the value is a known LegalEntity.
func (l LegalEntity) IsValid() bool {
	for _, candidate := range validLegalEntities {
		if candidate == l {
			return true
		}
	}
	return false
}

// ParseLegalEntity converts raw input into a LegalEntity.
func ParseLegalEntity(value string) (LegalEntity, error) {
	for _, candidate := range validLegalEntities {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid legal entity %q", value)
}
