package common

import "errors"

// Error codes shared by every public operation of the storefront core.
const (
	CodeAuthRequired           = "AUTH_REQUIRED"
	CodeValidationFailed       = "VALIDATION_FAILED"
	CodeProductNotFound        = "PRODUCT_NOT_FOUND"
	CodeProductInactive        = "PRODUCT_INACTIVE"
	CodeItemNotInCart          = "ITEM_NOT_IN_CART"
	CodePromotionNotFound      = "PROMOTION_NOT_FOUND"
	CodePromotionInactive      = "PROMOTION_INACTIVE"
	CodePromotionNotApplicable = "PROMOTION_NOT_APPLICABLE"
	CodePersistenceFailure     = "PERSISTENCE_FAILURE"
	CodeInternal               = "INTERNAL"
)

// ErrNotFound is the shared sentinel for missing records, returned by the
// persistence layer and matched with errors.Is at the service boundary.
var ErrNotFound = errors.New("not found")

// AppError carries a machine-readable code and HTTP status alongside the cause.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// IsAppError checks whether the error is an AppError.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}
