package store

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrReadOnly          = errors.New("read-only deployment: persistence is unavailable")
	ErrStorage           = errors.New("storage failure")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// NotFoundError names the missing entity. Name is set when the caller knows a
// display name for it, e.g. the cart line that referenced a deleted product.
type NotFoundError struct {
	Entity string
	ID     int64
	Name   string
}

func (e *NotFoundError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s %d (%s) not found", e.Entity, e.ID, e.Name)
	}
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func ProductNotFound(id int64) error { return &NotFoundError{Entity: "product", ID: id} }

func OrderNotFound(id int64) error { return &NotFoundError{Entity: "order", ID: id} }

type InsufficientStockError struct {
	ProductID int64
	Name      string
	Requested int
	Remaining int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("not enough stock for %q: requested %d, remaining %d", e.Name, e.Requested, e.Remaining)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// StorageError wraps I/O, decoding and connectivity failures of a backend.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }

func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
