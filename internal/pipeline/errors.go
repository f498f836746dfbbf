package pipeline

import (
	"context"
	"errors"

	"github.com/joescharf/prreview/internal/github"
	"github.com/joescharf/prreview/internal/review"
)

var (
	// ErrValidation rejects a submission before any task is created.
	ErrValidation = errors.New("validation error")
	// ErrInternal marks unexpected failures, including recovered panics.
	ErrInternal = errors.New("internal error")
	// ErrCancelled is recorded when the run's context ends before completion.
	ErrCancelled = errors.New("review cancelled")
)

// Error kinds as recorded in failure messages and logs.
const (
	KindNotFound            = "NotFound"
	KindUnauthorized        = "Unauthorized"
	KindUpstreamUnavailable = "UpstreamUnavailable"
	KindModelUnreachable    = "ModelUnreachable"
	KindModelOutputInvalid  = "ModelOutputInvalid"
	KindModelRejected       = "ModelRejected"
	KindValidation          = "ValidationError"
	KindCancelled           = "Cancelled"
	KindInternal            = "InternalError"
)

// Kind classifies err into one of the error kinds.
func Kind(err error) string {
	switch {
	case errors.Is(err, github.ErrNotFound):
		return KindNotFound
	case errors.Is(err, github.ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, github.ErrUpstreamUnavailable):
		return KindUpstreamUnavailable
	case errors.Is(err, review.ErrModelUnreachable):
		return KindModelUnreachable
	case errors.Is(err, review.ErrModelOutputInvalid):
		return KindModelOutputInvalid
	case errors.Is(err, review.ErrModelRejected):
		return KindModelRejected
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	default:
		return KindInternal
	}
}

var failureMessages = map[string]string{
	KindNotFound:            "repository or pull request not found",
	KindUnauthorized:        "GitHub rejected the credential or it is missing for a private repository",
	KindUpstreamUnavailable: "GitHub could not be reached",
	KindModelUnreachable:    "the review model could not be reached",
	KindModelOutputInvalid:  "the review model did not return valid output",
	KindModelRejected:       "the review model rejected the request",
	KindValidation:          "invalid submission",
	KindCancelled:           "review cancelled before completion",
	KindInternal:            "unexpected internal error",
}

// FailureMessage returns the message stored on a failed task. It is derived
// from the error kind only, so upstream bodies and credentials never reach it.
func FailureMessage(err error) string {
	kind := Kind(err)
	return kind + ": " + failureMessages[kind]
}
