package service

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyCart           = errors.New("cart is empty")
	ErrMissingAddress      = errors.New("please enter an address")
	ErrIncompleteProfile   = errors.New("profile is incomplete")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrConcurrencyConflict = errors.New("checkout conflicted with a concurrent request, retry")
	ErrInvalidQuantity     = errors.New("quantity must be at least 1")
	ErrProductNotFound     = errors.New("product not found")
	ErrOrderNotFound       = errors.New("order not found")
	ErrUserNotFound        = errors.New("user not found")
)

// IncompleteProfileError names the contact fields missing from the user's profile.
type IncompleteProfileError struct {
	Fields []string
}

func (e *IncompleteProfileError) Error() string {
	return fmt.Sprintf("please complete your profile with: %s", strings.Join(e.Fields, ", "))
}

func (e *IncompleteProfileError) Is(target error) bool {
	return target == ErrIncompleteProfile
}

// InsufficientStockError names the first product that cannot cover its cart line.
type InsufficientStockError struct {
	ProductID int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("not enough stock for product %d", e.ProductID)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}
