package apperrors

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrUnknownKind      = errors.New("unknown entity kind")
	ErrUnknownParent    = errors.New("parent entity not in store")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrMissingID        = errors.New("document has no id field")
)
