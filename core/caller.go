package core

// Role is a capability bit granted to an identity by the node's ACL.
type Role uint8

const (
	RoleAdmin Role = 1 << iota
	RoleVerifier
	RoleMarkerOracle
)

// Has reports whether r includes every bit of want.
func (r Role) Has(want Role) bool {
	return r&want == want
}

// Caller is the authenticated identity behind a call together with the roles
// it holds. The ledger only ever compares identities; it never authenticates.
type Caller struct {
	Identity string
	Roles    Role
}

// Call carries the per-call inputs every mutating ledger operation needs.
type Call struct {
	Caller Caller
	Now    int64  // unix seconds, from the node clock
	TxID   string // nonce source for content-derived ids
}
