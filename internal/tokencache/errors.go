package tokencache

import (
	"errors"
	"fmt"
)

// ErrAuthBroker matches every failed token exchange via errors.Is.
var ErrAuthBroker = errors.New("token exchange failed")

// AuthBrokerError reports a failed client-credentials exchange. StatusCode is
// zero when the endpoint was never reached.
type AuthBrokerError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *AuthBrokerError) Error() string {
	if e == nil {
		return ""
	}
	msg := ErrAuthBroker.Error()
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: status %d", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *AuthBrokerError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *AuthBrokerError) Is(target error) bool {
	return target == ErrAuthBroker
}
