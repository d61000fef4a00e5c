package program

import (
	"errors"
	"fmt"
)

// ErrorCode is the stable numeric code a program error surfaces to callers.
// The values are part of the external contract and are assigned explicitly.
type ErrorCode uint32

const (
	CodeInvalidOwner       ErrorCode = 0
	CodeAlreadyInitialized ErrorCode = 1
	CodeAlreadySettled     ErrorCode = 2
	CodeNotExpired         ErrorCode = 3
	CodeInvalidRoom        ErrorCode = 4
	CodeOracleDataTooSmall ErrorCode = 5
)

// ErrorClass groups program errors by how a caller should react to them.
type ErrorClass string

const (
	ClassOwnership    ErrorClass = "ownership"
	ClassState        ErrorClass = "state"
	ClassTiming       ErrorClass = "timing"
	ClassRelationship ErrorClass = "relationship"
	ClassData         ErrorClass = "data"
	ClassRuntime      ErrorClass = "runtime"
)

// Error is a domain error raised by an instruction handler.
type Error struct {
	code  ErrorCode
	name  string
	msg   string
	class ErrorClass
}

func (e *Error) Error() string { return e.msg }

// Code returns the stable numeric code.
func (e *Error) Code() ErrorCode { return e.code }

// Name returns the symbolic name, e.g. "NotExpired".
func (e *Error) Name() string { return e.name }

// Class returns the error class.
func (e *Error) Class() ErrorClass { return e.class }

// Retryable reports whether resubmitting the same instruction later can
// succeed. Only timing errors qualify.
func (e *Error) Retryable() bool { return e.class == ClassTiming }

var (
	ErrInvalidOwner = &Error{
		code: CodeInvalidOwner, name: "InvalidOwner", class: ClassOwnership,
		msg: "account does not have the expected owner",
	}
	ErrAlreadyInitialized = &Error{
		code: CodeAlreadyInitialized, name: "AlreadyInitialized", class: ClassState,
		msg: "account is already initialized",
	}
	ErrAlreadySettled = &Error{
		code: CodeAlreadySettled, name: "AlreadySettled", class: ClassState,
		msg: "prediction is already settled",
	}
	ErrNotExpired = &Error{
		code: CodeNotExpired, name: "NotExpired", class: ClassTiming,
		msg: "prediction cannot be settled before expiry",
	}
	ErrInvalidRoom = &Error{
		code: CodeInvalidRoom, name: "InvalidRoom", class: ClassRelationship,
		msg: "prediction account is tied to a different room",
	}
	ErrOracleDataTooSmall = &Error{
		code: CodeOracleDataTooSmall, name: "OracleDataTooSmall", class: ClassData,
		msg: "oracle account is too small to contain a price feed",
	}
)

// errorTable maps every code to its error. Lookups go through this table,
// never through declaration order.
var errorTable = map[ErrorCode]*Error{
	CodeInvalidOwner:       ErrInvalidOwner,
	CodeAlreadyInitialized: ErrAlreadyInitialized,
	CodeAlreadySettled:     ErrAlreadySettled,
	CodeNotExpired:         ErrNotExpired,
	CodeInvalidRoom:        ErrInvalidRoom,
	CodeOracleDataTooSmall: ErrOracleDataTooSmall,
}

// ErrorFromCode returns the program error registered for code.
func ErrorFromCode(code ErrorCode) (*Error, bool) {
	e, ok := errorTable[code]
	return e, ok
}

// Runtime-level failures. They carry no custom code.
var (
	// ErrDecode is wrapped by every codec failure so callers can tell
	// malformed bytes apart from domain errors.
	ErrDecode = errors.New("decode failed")

	ErrInvalidInstructionData = fmt.Errorf("invalid instruction data: %w", ErrDecode)
	ErrInvalidAccountData     = fmt.Errorf("invalid account data: %w", ErrDecode)

	ErrNotEnoughAccountKeys = errors.New("not enough account keys")
	ErrClockUnavailable     = errors.New("clock unavailable")
)

// CustomCode extracts the program error code carried by err, if any.
func CustomCode(err error) (ErrorCode, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.code, true
	}
	return 0, false
}

// ClassOf classifies any error returned by Processor.Process.
func ClassOf(err error) ErrorClass {
	var pe *Error
	switch {
	case errors.As(err, &pe):
		return pe.class
	case errors.Is(err, ErrDecode):
		return ClassData
	default:
		return ClassRuntime
	}
}
