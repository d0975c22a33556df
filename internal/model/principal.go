package model

const RolePrefix = "ROLE_"

// Principal is the authenticated identity attached to a request context.
type Principal struct {
	UserID      string
	Email       string
	Role        string
	Authorities []string
	Token       string
}

func (p Principal) HasAuthority(authority string) bool {
	for _, a := range p.Authorities {
		if a == authority {
			return true
		}
	}
	return false
}

// HasRole checks the implicit ROLE_<name> authority.
func (p Principal) HasRole(role string) bool {
	return p.HasAuthority(RolePrefix + role)
}
