package auth

import "errors"

var (
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrNotCollaborator      = errors.New("account is not a registered collaborator")
	ErrCollaboratorInactive = errors.New("collaborator is inactive")
	ErrInvalidToken         = errors.New("invalid token")
	ErrMissingToken         = errors.New("missing authorization header")
)
