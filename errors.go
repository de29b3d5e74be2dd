package querycache

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by fetches started on a closed Store.
var ErrClosed = errors.New("querycache: store closed")

// ConfigError reports a missing or invalid identity/target. Operations that
// return it never start a fetch.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("querycache: invalid %s: %s", e.Field, e.Reason)
}

// FetchError wraps a failure of the caller's producer. The producer's error is
// kept as is and never inspected; a recovered panic is carried in Panic.
type FetchError struct {
	Key   string
	Err   error
	Panic any
}

func (e *FetchError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("querycache: fetch %s panicked: %v", e.Key, e.Panic)
	}
	return fmt.Sprintf("querycache: fetch %s: %v", e.Key, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ForgetError is returned by Remove when the warm tier could neither retire
// the key's generation nor delete its record, so a later read may still see
// the old value.
type ForgetError struct {
	Key     string
	BumpErr error
	DelErr  error
}

func (e *ForgetError) Error() string {
	switch {
	case e.BumpErr != nil && e.DelErr != nil:
		return fmt.Sprintf("forget %q failed: gen bump and delete failed: bump=%v; delete=%v",
			e.Key, e.BumpErr, e.DelErr)
	case e.BumpErr != nil:
		return fmt.Sprintf("forget %q: gen bump failed: %v", e.Key, e.BumpErr)
	case e.DelErr != nil:
		return fmt.Sprintf("forget %q: delete failed: %v", e.Key, e.DelErr)
	default:
		return fmt.Sprintf("forget %q: unknown error", e.Key)
	}
}

func (e *ForgetError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.BumpErr != nil {
		errs = append(errs, e.BumpErr)
	}
	if e.DelErr != nil {
		errs = append(errs, e.DelErr)
	}
	return errs
}

// ErrorKind classifies an error shown in a Snapshot.
type ErrorKind string

const (
	KindConfiguration ErrorKind = "configuration"
	KindProducer      ErrorKind = "producer"
)

// ErrorInfo is the render-friendly form of a snapshot error.
type ErrorInfo struct {
	Kind    ErrorKind
	Message string
}

func errorInfo(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	var ce *ConfigError
	if errors.As(err, &ce) {
		return &ErrorInfo{Kind: KindConfiguration, Message: ce.Error()}
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		if fe.Panic != nil || fe.Err == nil {
			return &ErrorInfo{Kind: KindProducer, Message: fe.Error()}
		}
		return &ErrorInfo{Kind: KindProducer, Message: fe.Err.Error()}
	}
	return &ErrorInfo{Kind: KindProducer, Message: err.Error()}
}
