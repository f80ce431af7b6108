package auth

// Principal is the authenticated identity attached to a request.
type Principal struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// PrincipalFromPayload converts verified token claims into a principal.
func PrincipalFromPayload(p Payload) Principal {
	return Principal{ID: p.ID, Email: p.Email, Role: p.Role}
}

// HasAnyRole reports whether the principal holds one of the allowed roles.
func (p Principal) HasAnyRole(allowed ...Role) bool {
	for _, role := range allowed {
		if p.Role == role {
			return true
		}
	}
	return false
}

// Authorize checks the principal against the allowed roles.
func (p Principal) Authorize(allowed ...Role) error {
	if p.ID == "" {
		return ErrUnauthenticated
	}
	if !p.HasAnyRole(allowed...) {
		return ErrForbidden
	}
	return nil
}
