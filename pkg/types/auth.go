package types

// RoleAdmin may act on and see every owner's jobs.
const RoleAdmin = "admin"

// Identity is the authenticated caller as asserted by the fronting proxy.
// Subject is an opaque owner key; the daemon never validates credentials
// itself.
type Identity struct {
	Subject string
	Role    string
}

// Admin reports whether the identity may act across owners.
func (id Identity) Admin() bool { return id.Role == RoleAdmin }

// CanAccess reports whether the identity may read or mutate a job owned by
// owner.
func (id Identity) CanAccess(owner string) bool {
	return id.Admin() || id.Subject == owner
}
