package model

// Role identifies which part of the app a signed-in user works in.
type Role string

// Roles.
const (
	RolePatient Role = "patient"
	RoleStaff   Role = "staff"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

var roleLevels = map[Role]int{
	RoleAdmin:   4,
	RoleDoctor:  3,
	RoleStaff:   2,
	RolePatient: 1,
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := roleLevels[r]
	return ok
}

// RoleAtLeast checks if role meets or exceeds the minimum required role.
func RoleAtLeast(role, minimum Role) bool {
	level, ok := roleLevels[role]
	if !ok {
		return false
	}
	return level >= roleLevels[minimum] && roleLevels[minimum] > 0
}
