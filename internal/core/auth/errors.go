package auth

import "errors"

// Authentication errors. A request without a token is anonymous, not an
// error; these cover tokens that are present but unusable.
// UNAUTHENTICATED for all of them (doesn't confirm which key exists).
var (
	ErrMalformedHeader = errors.New("authorization metadata must be 'Bearer <token>'")
	ErrUnknownKey      = errors.New("unknown signing key")
	ErrInvalidToken    = errors.New("invalid token")
)
