package app

import "fmt"

// DomainError is the engine's error surface: a stable machine code
// (UNAUTHORIZED, CONFLICT, PAYLOAD_TOO_SMALL, RESTORE_LOCK, CORRUPT_STATE,
// UNKNOWN_IDENTITY, ...) plus the HTTP status it maps to. Details carries
// code-specific payload, such as the stored clock on a CONFLICT.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}
