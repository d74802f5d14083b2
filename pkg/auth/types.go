package auth

// Principal is the authenticated caller of a request: an analyst submitting
// prompts, a reviewer, or a service account ingesting documents.
type Principal interface {
	GetID() string
	GetTenantID() string
	GetRoles() []string
	HasRole(role string) bool
}

// Roles understood by the HTTP surface.
const (
	RoleAdmin    = "admin"
	RoleReviewer = "reviewer"
)

// BasePrincipal is a simple implementation of Principal.
type BasePrincipal struct {
	ID       string
	TenantID string
	Roles    []string
}

func (b *BasePrincipal) GetID() string {
	return b.ID
}

func (b *BasePrincipal) GetTenantID() string {
	return b.TenantID
}

func (b *BasePrincipal) GetRoles() []string {
	return b.Roles
}

// HasRole reports whether the principal holds role. Admins hold every role.
func (b *BasePrincipal) HasRole(role string) bool {
	for _, r := range b.Roles {
		if r == role || r == RoleAdmin {
			return true
		}
	}
	return false
}
