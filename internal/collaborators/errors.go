package collaborators

import "errors"

var (
	// ErrCollaboratorNotFound is returned when no collaborator matches.
	ErrCollaboratorNotFound = errors.New("collaborator not found")
	// ErrInvalidRole is returned for unknown roles.
	ErrInvalidRole = errors.New("invalid role")
)
