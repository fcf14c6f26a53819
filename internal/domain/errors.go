package domain

import "errors"

// Business-rule failures. Callers branch on these with errors.Is;
// anything else coming out of a service operation is a storage fault.
var (
	ErrPatientNotFound      = errors.New("patient not found")
	ErrDuplicateEmail       = errors.New("email already used by another patient")
	ErrRequestNotFound      = errors.New("medicine request not found")
	ErrRequestAlreadyClosed = errors.New("medicine request already closed")
	ErrUserNotFound         = errors.New("user not found")
	ErrDuplicateUser        = errors.New("email already registered")
	ErrInvalidCredentials   = errors.New("invalid email or password")
)
