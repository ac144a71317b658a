package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/metrolog/metrolog-backend/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	EmployeeID uint
	CompanyID  uint
	Status     enums.EmployeeStatus
	JTI        string
}

// AccessTokenClaims represents the typed JWT presented by clients.
type AccessTokenClaims struct {
	EmployeeID uint                 `json:"employee_id"`
	CompanyID  uint                 `json:"company_id"`
	Status     enums.EmployeeStatus `json:"status"`
	jwt.RegisteredClaims
}
