package enums

import "fmt"

// EmployeeStatus is the company-level role carried in access tokens.
type EmployeeStatus string

const (
	EmployeeStatusAdmin       EmployeeStatus = "admin"
	EmployeeStatusDirector    EmployeeStatus = "director"
	EmployeeStatusAuditor     EmployeeStatus = "auditor"
	EmployeeStatusDispatcher1 EmployeeStatus = "dispatcher1"
	EmployeeStatusDispatcher2 EmployeeStatus = "dispatcher2"
	EmployeeStatusVerifier    EmployeeStatus = "verifier"
)

var validEmployeeStatuses = []EmployeeStatus{
	EmployeeStatusAdmin,
	EmployeeStatusDirector,
	EmployeeStatusAuditor,
	EmployeeStatusDispatcher1,
	EmployeeStatusDispatcher2,
	EmployeeStatusVerifier,
}

// String implements fmt.Stringer.
func (s EmployeeStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known EmployeeStatus.
func (s EmployeeStatus) IsValid() bool {
	for _, candidate := range validEmployeeStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsPrivileged reports whether the status may override date blocks, change
// verifiers and bypass quota admission.
func (s EmployeeStatus) IsPrivileged() bool {
	return s == EmployeeStatusAdmin || s == EmployeeStatusDirector
}

// ParseEmployeeStatus converts raw input into an EmployeeStatus.
func ParseEmployeeStatus(value string) (EmployeeStatus, error) {
	for _, candidate := range validEmployeeStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid employee status %q", value)
}
