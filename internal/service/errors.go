package service

import "errors"

// Each rejected operation wraps exactly one of these; match with errors.Is.
var (
	ErrOperational       = errors.New("ledger is not operational")
	ErrUnauthorized      = errors.New("caller not authorized")
	ErrDuplicate         = errors.New("duplicate submission")
	ErrInvalidState      = errors.New("invalid state")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidArgument   = errors.New("invalid argument")
)

// ErrOutOfBalance is reported by Audit when held value differs from net deposits.
var ErrOutOfBalance = errors.New("ledger out of balance")
