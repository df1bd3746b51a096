package services

import "errors"

// Sentinel errors carried across the service boundary. The API layer maps
// them to HTTP statuses; the worker logs and continues.
var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("already exists")
	ErrRateLimited  = errors.New("rate limited")
	ErrInvalidCode  = errors.New("invalid or expired code")
	ErrInvalidToken = errors.New("invalid token")
	ErrQuotaReached = errors.New("quota reached")
	ErrUnverified   = errors.New("email not verified")
)
