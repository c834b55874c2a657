package services

import (
	"errors"
	"fmt"

	"github.com/style-suite/api/internal/repositories"
)

// Error kinds shared by the order pipeline. Handlers map them to HTTP with errors.Is.
var (
	ErrUnauthenticated      = errors.New("unauthenticated")
	ErrForbidden            = errors.New("forbidden")
	ErrValidation           = errors.New("validation failed")
	ErrProductNotFound      = errors.New("product not found")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrOrderNumberCollision = errors.New("order number collision")
	ErrNotFound             = errors.New("not found")
	ErrInvalidTransition    = errors.New("invalid transition")
	ErrUnavailable          = errors.New("unavailable")
)

// ProductError carries the product a stock or catalog failure refers to. It unwraps to its Kind.
type ProductError struct {
	Kind      error
	ProductID string
	Requested int
	Available int
}

func (e *ProductError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if errors.Is(e.Kind, ErrInsufficientStock) {
		return fmt.Sprintf("%v: product %s requested %d, available %d", e.Kind, e.ProductID, e.Requested, e.Available)
	}
	return fmt.Sprintf("%v: product %s", e.Kind, e.ProductID)
}

func (e *ProductError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Kind
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// mapRepositoryError folds repository categorisation into service error kinds.
func mapRepositoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorInsufficientStock:
			return &ProductError{Kind: ErrInsufficientStock, ProductID: invErr.ProductID, Requested: invErr.Requested, Available: invErr.Available}
		case repositories.InventoryErrorProductNotFound:
			return &ProductError{Kind: ErrProductNotFound, ProductID: invErr.ProductID}
		}
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%s: %w", op, ErrNotFound)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
