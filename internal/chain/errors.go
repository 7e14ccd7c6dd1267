package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/safar/agri-supply-tracker/internal/ledger"
)

// Kind is the user-facing class of a transaction failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindUserRejected
	KindInsufficientFunds
	KindGasFailure
	KindRevertedByContract
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindUserRejected:
		return "UserRejected"
	case KindInsufficientFunds:
		return "InsufficientFunds"
	case KindGasFailure:
		return "GasFailure"
	case KindRevertedByContract:
		return "RevertedByContract"
	case KindTimeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

// Message is the one-line text shown to users.
func (k Kind) Message() string {
	switch k {
	case KindUserRejected:
		return "Transaction was rejected in the wallet"
	case KindInsufficientFunds:
		return "Insufficient funds for gas and value"
	case KindGasFailure:
		return "Transaction ran out of gas"
	case KindRevertedByContract:
		return "Transaction reverted by the contract"
	case KindTimeout:
		return "Transaction not confirmed in time; it may still confirm"
	default:
		return "Transaction failed"
	}
}

// ErrUserRejected is what a Signer returns when the account holder declines.
var ErrUserRejected = errors.New("user rejected transaction")

type TxError struct {
	Kind   Kind
	Op     string
	TxHash string
	// Reason is the contract revert reason when known.
	Reason string
	Err    error
}

func (e *TxError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil && (e.Reason == "" || e.Err.Error() != e.Reason) {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TxError) Unwrap() error {
	return e.Err
}

const outOfGas = "out of gas"

// classify turns a low-level failure into a TxError.
func classify(op string, err error) *TxError {
	var txErr *TxError
	if errors.As(err, &txErr) {
		return txErr
	}

	var revert *RevertError
	if errors.As(err, &revert) {
		return revertError(op, "", revert.Reason)
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &TxError{Kind: KindTimeout, Op: op, Err: err}
	}
	if errors.Is(err, ErrUserRejected) {
		return &TxError{Kind: KindUserRejected, Op: op, Err: err}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "user rejected"), strings.Contains(msg, "user denied"):
		return &TxError{Kind: KindUserRejected, Op: op, Err: err}
	case strings.Contains(msg, "insufficient funds"):
		return &TxError{Kind: KindInsufficientFunds, Op: op, Err: err}
	case strings.Contains(msg, "execution reverted"):
		reason := ""
		if i := strings.Index(err.Error(), "execution reverted: "); i >= 0 {
			reason = err.Error()[i+len("execution reverted: "):]
		}
		return revertError(op, "", reason)
	case strings.Contains(msg, "gas"):
		return &TxError{Kind: KindGasFailure, Op: op, Err: err}
	default:
		return &TxError{Kind: KindUnknown, Op: op, Err: err}
	}
}

func revertError(op, hash, reason string) *TxError {
	if reason == outOfGas {
		return &TxError{Kind: KindGasFailure, Op: op, TxHash: hash, Reason: reason, Err: errors.New(reason)}
	}
	err := ledger.ErrorFromReason(reason)
	if err == nil {
		err = errors.New("execution reverted")
	}
	return &TxError{Kind: KindRevertedByContract, Op: op, TxHash: hash, Reason: reason, Err: err}
}

// KindOf reports the Kind of err, or KindUnknown when it is not a TxError.
func KindOf(err error) Kind {
	var txErr *TxError
	if errors.As(err, &txErr) {
		return txErr.Kind
	}
	return KindUnknown
}
