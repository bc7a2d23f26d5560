package api

import "errors"

// Sentinel errors for service operations.
var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("resource not found")
	ErrPlayNotFound        = errors.New("play not found")
	ErrOpportunityNotFound = errors.New("opportunity not found")
	ErrStageNotFound       = errors.New("stage instance not found")
	ErrNoteNotFound        = errors.New("stage note not found")
	ErrAlreadyAttached     = errors.New("play already attached to opportunity")
	ErrConflict            = errors.New("concurrent modification detected")
)
