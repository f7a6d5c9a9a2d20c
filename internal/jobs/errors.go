package jobs

import "errors"

var (
	// ErrJobNotFound is returned when a job id does not exist.
	ErrJobNotFound = errors.New("job not found")
	// ErrDeadLetterProtected is returned when clearing the dead-letter queue.
	ErrDeadLetterProtected = errors.New("dead-letter queue cannot be cleared")
	// ErrNotDeadLetter is returned when retrying a job that is not a pending dead letter.
	ErrNotDeadLetter = errors.New("job is not a pending dead letter")
	// ErrNoHandler is returned by Worker.Run when no handler is registered.
	ErrNoHandler = errors.New("no handler registered")
)

// ErrorKindPermanent marks a failure that retrying will not fix.
const ErrorKindPermanent = "permanent"

// ErrorClassifier allows handler errors to declare their classification.
// A kind of ErrorKindPermanent skips the remaining attempts.
type ErrorClassifier interface {
	ErrorKind() string
}

type permanentError struct{ err error }

func (e *permanentError) Error() string     { return e.err.Error() }
func (e *permanentError) Unwrap() error     { return e.err }
func (e *permanentError) ErrorKind() string { return ErrorKindPermanent }

// Permanent wraps err so the job goes straight to the dead-letter queue.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether any error in the chain is classified permanent.
func IsPermanent(err error) bool {
	var classifier ErrorClassifier
	if errors.As(err, &classifier) {
		return classifier.ErrorKind() == ErrorKindPermanent
	}
	return false
}
