package ledger

import "errors"

// Revert reasons. The error text is what a reverted receipt carries.
var (
	ErrNotAuthorized    = errors.New("Not authorized")
	ErrNotOwner         = errors.New("Only owner can perform this action")
	ErrNotFound         = errors.New("Product does not exist")
	ErrInvalidStatus    = errors.New("Invalid status")
	ErrStatusRegression = errors.New("Status can only move forward")
	ErrListedForSale    = errors.New("Product is listed for sale")
	ErrInvalidPrice     = errors.New("Price must be greater than 0")
	ErrAlreadySold      = errors.New("Product already sold")
	ErrNotForSale       = errors.New("Product not for sale")
	ErrWrongPayment     = errors.New("Incorrect payment amount")
	ErrInvalidAddress   = errors.New("Invalid address")
	ErrEmptyName        = errors.New("Product name required")
	ErrUnknownMethod    = errors.New("Unknown method")
)

var revertErrors = []error{
	ErrNotAuthorized,
	ErrNotOwner,
	ErrNotFound,
	ErrInvalidStatus,
	ErrStatusRegression,
	ErrListedForSale,
	ErrInvalidPrice,
	ErrAlreadySold,
	ErrNotForSale,
	ErrWrongPayment,
	ErrInvalidAddress,
	ErrEmptyName,
	ErrUnknownMethod,
}

// ErrorFromReason maps a revert reason back to its sentinel, or nil when unknown.
func ErrorFromReason(reason string) error {
	for _, err := range revertErrors {
		if err.Error() == reason {
			return err
		}
	}
	return nil
}
