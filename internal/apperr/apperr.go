// Package apperr maps the failures of every layer onto the few kinds callers act on.
package apperr

import (
	"errors"
	"net/http"

	"github.com/safar/agri-supply-tracker/internal/chain"
	"github.com/safar/agri-supply-tracker/internal/database"
	"github.com/safar/agri-supply-tracker/internal/ledger"
	"github.com/safar/agri-supply-tracker/internal/mirror"
)

type Kind string

const (
	KindValidation         Kind = "Validation"
	KindAuthorization      Kind = "Authorization"
	KindNotFound           Kind = "NotFound"
	KindRemoteUnavailable  Kind = "RemoteUnavailable"
	KindTransactionFailure Kind = "TransactionFailure"
	KindSyncDivergence     Kind = "SyncDivergence"
	KindInternal           Kind = "Internal"
)

// Error is a classified failure. Message is one short line safe to show to users.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Validation(message string) *Error {
	return newError(KindValidation, message)
}

func Unavailable(message string, err error) *Error {
	return Wrap(KindRemoteUnavailable, message, err)
}

// KindOf classifies err. Errors no layer recognises are Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}

	var div *mirror.DivergenceError
	if errors.As(err, &div) {
		return KindSyncDivergence
	}
	if errors.Is(err, mirror.ErrSkipped) {
		return KindRemoteUnavailable
	}

	var txErr *chain.TxError
	if errors.As(err, &txErr) {
		if txErr.Kind == chain.KindRevertedByContract {
			if k, ok := ledgerKind(txErr.Err); ok && k != KindValidation {
				return k
			}
		}
		return KindTransactionFailure
	}

	if k, ok := ledgerKind(err); ok {
		return k
	}

	switch {
	case errors.Is(err, database.ErrProductNotFound), errors.Is(err, database.ErrSaleNotFound):
		return KindNotFound
	case database.IsUnavailable(err):
		return KindRemoteUnavailable
	}
	return KindInternal
}

func ledgerKind(err error) (Kind, bool) {
	switch {
	case errors.Is(err, ledger.ErrNotAuthorized), errors.Is(err, ledger.ErrNotOwner):
		return KindAuthorization, true
	case errors.Is(err, ledger.ErrNotFound):
		return KindNotFound, true
	case errors.Is(err, ledger.ErrInvalidStatus),
		errors.Is(err, ledger.ErrInvalidPrice),
		errors.Is(err, ledger.ErrInvalidAddress),
		errors.Is(err, ledger.ErrEmptyName):
		return KindValidation, true
	}
	return "", false
}

// Message returns the user-facing line for err.
func Message(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}

	var txErr *chain.TxError
	if errors.As(err, &txErr) {
		if txErr.Reason != "" && txErr.Kind == chain.KindRevertedByContract {
			return txErr.Reason
		}
		return txErr.Kind.Message()
	}

	switch KindOf(err) {
	case KindAuthorization, KindNotFound, KindValidation:
		var msg string
		for e := err; e != nil; e = errors.Unwrap(e) {
			msg = e.Error()
		}
		return msg
	case KindRemoteUnavailable:
		return "A required service is unavailable"
	case KindSyncDivergence:
		return "Recorded on the ledger, but the database copy could not be updated"
	default:
		return "Internal error"
	}
}

// HTTPStatus maps err onto a response code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindRemoteUnavailable:
		return http.StatusServiceUnavailable
	case KindTransactionFailure:
		switch chain.KindOf(err) {
		case chain.KindInsufficientFunds:
			return http.StatusPaymentRequired
		case chain.KindTimeout:
			return http.StatusGatewayTimeout
		case chain.KindUnknown:
			return http.StatusBadGateway
		default:
			return http.StatusConflict
		}
	default:
		return http.StatusInternalServerError
	}
}
