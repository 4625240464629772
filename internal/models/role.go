package models

import "fmt"

// Role is the closed set of user roles.
type Role string

const (
	RoleCommonUser     Role = "commonUser"
	RoleAuthor         Role = "author"
	RoleGroupHead      Role = "groupHead"
	RoleContentCreator Role = "contentCreator"
	RoleSubscriber     Role = "subscriber"
	RoleAdministrator  Role = "administrator"
)

// DefaultRole is assigned at registration.
const DefaultRole = RoleCommonUser

// Roles lists every role in display order.
var Roles = []Role{
	RoleCommonUser,
	RoleAuthor,
	RoleGroupHead,
	RoleContentCreator,
	RoleSubscriber,
	RoleAdministrator,
}

// Valid reports whether r is one of Roles.
func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// IsAdministrator reports whether r may change other users' roles and verification.
func (r Role) IsAdministrator() bool {
	return r == RoleAdministrator
}

// ParseRole validates s as a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", NewValidationError(fmt.Sprintf("unknown role %q", s))
	}
	return r, nil
}

func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
