package contract

import "errors"

var (
	ErrModelInvoke     = errors.New("model invoke failed")
	ErrSchemaViolation = errors.New("model response violates schema")
	ErrPromptMissing   = errors.New("required prompt is missing")
	ErrValidation      = errors.New("validation failed")
	ErrUnknownAction   = errors.New("unknown action")
	// ErrDuplicateCorrelation rejects a reply whose action requests share or
	// omit a correlation id.
	ErrDuplicateCorrelation = errors.New("duplicate or empty correlation id")
)
