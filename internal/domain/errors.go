package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")
	ErrInvalidInput  = errors.New("invalid input")

	ErrMissingSignature     = errors.New("missing required signature")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	ErrAccountInUse         = errors.New("account in use")
	ErrUnknownProgram       = errors.New("unknown program")
	ErrStaleTransaction     = errors.New("transaction recent slot too old")
)
