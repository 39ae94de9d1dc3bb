package vm

import "github.com/tolelom/gpsrunner/core"

// ACL grants roles to identities.
type ACL struct {
	roles map[string]core.Role
}

// NewACL builds an ACL from identity lists.
func NewACL(admins, verifiers, markerOracles []string) ACL {
	acl := ACL{roles: make(map[string]core.Role)}
	grant := func(ids []string, r core.Role) {
		for _, id := range ids {
			acl.roles[id] |= r
		}
	}
	grant(admins, core.RoleAdmin)
	grant(verifiers, core.RoleVerifier)
	grant(markerOracles, core.RoleMarkerOracle)
	return acl
}

// Caller returns the capability set of identity.
func (a ACL) Caller(identity string) core.Caller {
	return core.Caller{Identity: identity, Roles: a.roles[identity]}
}
