package auth

import "errors"

// Authentication failures. Always surfaced as 401 and never retried.
var (
	ErrMissingCredential  = errors.New("auth: missing credential")
	ErrInvalidCredential  = errors.New("auth: invalid credential")
	ErrUserNotProvisioned = errors.New("auth: user not provisioned")
)

// Domain-level failures shared by services and stores.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("resource conflict")
)

// ErrAdminRequirement is returned when an operation would leave an organization
// that still has other members without any admin.
var ErrAdminRequirement = errors.New("organization must retain at least one admin")
