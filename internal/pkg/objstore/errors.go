package objstore

import (
	"context"
	"errors"
	"fmt"
	"net"

	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// Kind classifies a storage failure so retry policy never depends on
// parsing error messages.
type Kind int

const (
	// KindUnknown covers unclassified failures. Retried by default.
	KindUnknown Kind = iota
	// KindNotFound means the object does not exist. Never retried.
	KindNotFound
	// KindTransient covers network errors, timeouts and 5xx responses.
	KindTransient
	// KindPresign means a signed URL could not be produced. This is a
	// configuration problem, not a caller error, and is never retried.
	KindPresign
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	case KindPresign:
		return "presign"
	default:
		return "unknown"
	}
}

// Error is the typed failure returned by all Client operations.
type Error struct {
	Kind Kind
	Op   string
	Key  string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("objstore %s %q: %s: %v", e.Op, e.Key, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether a later attempt may succeed. Unknown
// failures are retried as a conservative default.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransient || e.Kind == KindUnknown
}

// IsNotFound reports whether err is a storage not-found failure.
func IsNotFound(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == KindNotFound
}

func retryable(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}

func classify(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}

	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return KindTransient
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return KindNotFound
		}
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		status := respErr.HTTPStatusCode()
		switch {
		case status == 404:
			return KindNotFound
		case status >= 500:
			return KindTransient
		}
	}

	return KindUnknown
}

func wrap(op, key string, err error) *Error {
	return &Error{Kind: classify(err), Op: op, Key: key, Err: err}
}
