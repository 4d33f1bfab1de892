package account

import "errors"

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAction       = errors.New("invalid action")
	ErrInvalidQuantity     = errors.New("invalid quantity")
	ErrNoPosition          = errors.New("no position found")
	ErrConflictingSide     = errors.New("conflicting position side")
)
