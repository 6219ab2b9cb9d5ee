package domain

// Roles carried by the pre-authenticated session token.
const (
	RoleCollector  = "collector"
	RoleHubManager = "hub-manager"
	RoleDonor      = "donor"
)

// Principal is the authenticated caller, as asserted by the identity provider.
type Principal struct {
	Subject string `json:"sub"`
	Role    string `json:"role"`
}

// Is reports whether the principal holds role.
func (p *Principal) Is(role string) bool {
	return p != nil && p.Role == role
}
