package auth

// Principal identifies who is making a request, resolved by Middleware and
// attached to the request context for handlers to consult.
type Principal struct {
	Role Role
	// Xpub and Idx are only meaningful when Role == RoleCosigner.
	Xpub string
	Idx  int
}

func (p Principal) IsCosigner() bool  { return p.Role == RoleCosigner }
func (p Principal) IsWatchOnly() bool { return p.Role == RoleWatchOnly }
