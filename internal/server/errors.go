package server

import "errors"

var (
	// ErrInvalidRequestBody is returned when a request body cannot be decoded
	ErrInvalidRequestBody = errors.New("invalid request body")

	// ErrMissingCredentials is returned when a login request omits the
	// username or password
	ErrMissingCredentials = errors.New("missing username or password")

	// ErrMissingToken is returned when an OIDC login request carries neither
	// an ID token nor an access token
	ErrMissingToken = errors.New("either id_token or access_token is required")
)
