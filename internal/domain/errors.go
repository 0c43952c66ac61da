package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrSecretNotFound  = errors.New("secret not found")

	ErrMalformedProxy          = errors.New("malformed proxy")
	ErrInvalidSecondFactorSeed = errors.New("invalid second factor seed")

	ErrProxyAlreadyAssigned = errors.New("account already has a proxy")
	ErrNoProxyAvailable     = errors.New("no proxy available")
	ErrInvalidProxyIndex    = errors.New("invalid proxy index")
	ErrProxyBoundElsewhere  = errors.New("proxy already bound to another account")
	ErrProxyNotAssigned     = errors.New("account has no proxy")

	ErrSessionNotFound = errors.New("session not found")
	ErrRecordNotFound  = errors.New("record not found")
	ErrElementNotFound = errors.New("element not found")

	ErrJobNotFound        = errors.New("job not found")
	ErrUnknownJobKind     = errors.New("unknown job kind")
	ErrEmptyBatch         = errors.New("job has no accounts")
	ErrJobStopped         = errors.New("job stopped")
	ErrJobRunning         = errors.New("job still running")
	ErrInvalidWorkload    = errors.New("invalid workload config")
	ErrInvalidSelectorSet = errors.New("invalid selector set")
)

// ErrorKind classifies per-account failures.
type ErrorKind string

const (
	KindConfig                  ErrorKind = "config"
	KindTransientDriver         ErrorKind = "transient_driver"
	KindNoCredential            ErrorKind = "no_credential"
	KindBadCredentials          ErrorKind = "bad_credentials"
	KindInvalidSecondFactorSeed ErrorKind = "invalid_second_factor_seed"
	KindSecondFactorFailed      ErrorKind = "second_factor_failed"
	KindAccountSuspended        ErrorKind = "account_suspended"
	KindChallengeRequired       ErrorKind = "challenge_required"
	KindResourceExhausted       ErrorKind = "resource_exhausted"
	KindBindingViolation        ErrorKind = "binding_violation"
	KindWorkload                ErrorKind = "workload"
	KindStopped                 ErrorKind = "stopped"
)

type ErrorClass string

const (
	ClassConfig            ErrorClass = "ConfigError"
	ClassTransientDriver   ErrorClass = "TransientDriverError"
	ClassAuthFailure       ErrorClass = "AuthFailure"
	ClassResourceExhausted ErrorClass = "ResourceExhausted"
	ClassBindingViolation  ErrorClass = "BindingViolation"
	ClassCancelled         ErrorClass = "Cancelled"
)

func (k ErrorKind) Class() ErrorClass {
	switch k {
	case KindConfig, KindInvalidSecondFactorSeed:
		return ClassConfig
	case KindTransientDriver, KindWorkload:
		return ClassTransientDriver
	case KindNoCredential, KindBadCredentials, KindSecondFactorFailed, KindAccountSuspended, KindChallengeRequired:
		return ClassAuthFailure
	case KindResourceExhausted:
		return ClassResourceExhausted
	case KindBindingViolation:
		return ClassBindingViolation
	default:
		return ClassCancelled
	}
}

// Remediation is the operator hint shown next to a failure of this kind.
func (k ErrorKind) Remediation() string {
	switch k {
	case KindConfig:
		return "fix the configuration and resubmit"
	case KindTransientDriver:
		return "retry the job; check the proxy and network if it keeps failing"
	case KindNoCredential:
		return "set a password with 'accountctl account set'"
	case KindBadCredentials:
		return "verify credentials"
	case KindInvalidSecondFactorSeed:
		return "re-enter the 2FA seed (base32, 16 or 32 characters)"
	case KindSecondFactorFailed:
		return "verify the 2FA seed and the host clock"
	case KindAccountSuspended:
		return "check the account manually; it will not be retried"
	case KindChallengeRequired:
		return "complete the challenge manually in a browser"
	case KindResourceExhausted:
		return "assign a proxy or add proxies to the pool"
	case KindBindingViolation:
		return "run 'accountctl proxy validate --repair'"
	case KindWorkload:
		return "inspect the job log for the failing step"
	default:
		return ""
	}
}

// AccountError is a failure scoped to a single account.
type AccountError struct {
	Account AccountID
	Kind    ErrorKind
	Reason  string
	Err     error
}

func NewAccountError(account AccountID, kind ErrorKind, reason string, err error) *AccountError {
	return &AccountError{Account: account, Kind: kind, Reason: reason, Err: err}
}

func (e *AccountError) Error() string {
	msg := fmt.Sprintf("account %s: %s: %s", e.Account, e.Kind, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AccountError) Unwrap() error {
	return e.Err
}

func (e *AccountError) Remediation() string {
	return e.Kind.Remediation()
}

// KindOf extracts the ErrorKind from err, defaulting to transient driver failures.
func KindOf(err error) ErrorKind {
	var accountErr *AccountError
	if errors.As(err, &accountErr) {
		return accountErr.Kind
	}

	switch {
	case errors.Is(err, ErrNoProxyAvailable):
		return KindResourceExhausted
	case errors.Is(err, ErrProxyBoundElsewhere), errors.Is(err, ErrProxyAlreadyAssigned):
		return KindBindingViolation
	case errors.Is(err, ErrMalformedProxy), errors.Is(err, ErrInvalidProxyIndex), errors.Is(err, ErrInvalidSelectorSet):
		return KindConfig
	case errors.Is(err, ErrInvalidSecondFactorSeed):
		return KindInvalidSecondFactorSeed
	case errors.Is(err, ErrJobStopped), errors.Is(err, context.Canceled):
		return KindStopped
	default:
		return KindTransientDriver
	}
}
