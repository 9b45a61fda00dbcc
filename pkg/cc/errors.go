package cc

import (
	"errors"
	"fmt"
)

// Kind classifies failures by where they are detected and who sees them.
type Kind int

const (
	// KindConfig: eval code disabled or identity mismatch; the contract is refused.
	KindConfig Kind = iota + 1
	// KindRequest: malformed or out-of-order request, rejected before a tx is built.
	KindRequest
	// KindConsensus: validator precondition failure at admission or block connect.
	KindConsensus
	// KindSolvency: the funding pool cannot carry the request.
	KindSolvency
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "configuration"
	case KindRequest:
		return "request"
	case KindConsensus:
		return "consensus"
	case KindSolvency:
		return "solvency"
	default:
		return "unknown"
	}
}

var (
	ErrNotFound         = errors.New("not found")
	ErrDisabled         = errors.New("eval code disabled")
	ErrIdentityMismatch = errors.New("derived identity does not match published value")
	ErrNoValidator      = errors.New("no validator registered")
)

type Error struct {
	Kind   Kind
	Code   EvalCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Reason
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Code != 0 {
		return fmt.Sprintf("%s error [%s]: %s", e.Kind, e.Code, msg)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, code EvalCode, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Reason: fmt.Sprintf(format, args...), Err: err}
}

func ConfigError(code EvalCode, err error, format string, args ...any) *Error {
	return newError(KindConfig, code, err, format, args...)
}

func RequestErr(code EvalCode, format string, args ...any) *Error {
	return newError(KindRequest, code, nil, format, args...)
}

// RequestWrap marks err as a request error while keeping it in the chain.
func RequestWrap(code EvalCode, err error) *Error {
	return &Error{Kind: KindRequest, Code: code, Err: err}
}

func Rejection(code EvalCode, format string, args ...any) *Error {
	return newError(KindConsensus, code, nil, format, args...)
}

func SolvencyErr(code EvalCode, format string, args ...any) *Error {
	return newError(KindSolvency, code, nil, format, args...)
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func IsKind(err error, kind Kind) bool { return KindOf(err) == kind }

// Reason returns the human-readable reason of a contract error, or err.Error().
func Reason(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Reason != "" {
		return e.Reason
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
