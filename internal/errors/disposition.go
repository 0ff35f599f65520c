package errors

import (
	"context"
	stdErrors "errors"
)

// Disposition tells a consumer what to do with a message whose handler failed.
type Disposition int

const (
	// Ack commits the message; the failure is logged and the message is not redelivered.
	Ack Disposition = iota
	// Retry redelivers the message with backoff.
	Retry
	// DeadLetter parks the message on the dead-letter topic.
	DeadLetter
)

func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case Retry:
		return "retry"
	case DeadLetter:
		return "dead_letter"
	default:
		return "unknown"
	}
}

func DispositionOf(err error) Disposition {
	if err == nil {
		return Ack
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return Retry
	}
	switch CodeOf(err) {
	case CodeValidation, CodeNotFound, CodeConflict, CodeStateConflict:
		return Ack
	case CodeFatal:
		return DeadLetter
	default:
		return Retry
	}
}
