package experiment

import "errors"

type ErrorCode string

const (
	ErrorInvalid       ErrorCode = "invalid"
	ErrorConflict      ErrorCode = "conflict"
	ErrorNotFound      ErrorCode = "not_found"
	ErrorConfiguration ErrorCode = "configuration"
	ErrorUnavailable   ErrorCode = "unavailable"
	ErrorUnauthorized  ErrorCode = "unauthorized"
)

// ServiceError carries a machine-readable code alongside a participant-safe
// message. Configuration faults keep their diagnostics in the server log,
// never in the message shown to the participant.
type ServiceError struct {
	Code    ErrorCode
	Message string
}

func (e *ServiceError) Error() string { return e.Message }

func NewInvalidError(msg string) error  { return &ServiceError{Code: ErrorInvalid, Message: msg} }
func NewConflictError(msg string) error { return &ServiceError{Code: ErrorConflict, Message: msg} }
func NewNotFoundError(msg string) error { return &ServiceError{Code: ErrorNotFound, Message: msg} }
func NewConfigurationError(msg string) error {
	return &ServiceError{Code: ErrorConfiguration, Message: msg}
}
func NewUnavailableError(msg string) error {
	return &ServiceError{Code: ErrorUnavailable, Message: msg}
}
func NewUnauthorizedError(msg string) error {
	return &ServiceError{Code: ErrorUnauthorized, Message: msg}
}

func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

var (
	// ErrEmptyArmSet indicates the randomizer was configured without arms.
	ErrEmptyArmSet = errors.New("treatment arm set is empty")
	// ErrUnansweredQuestion rejects advancing past an unanswered question.
	ErrUnansweredQuestion = errors.New("current question is unanswered")
	// ErrIncompleteResponses rejects submission with unanswered questions.
	ErrIncompleteResponses = errors.New("not every question has an answer")
	// ErrValueOutOfScale rejects Likert values outside the scale range.
	ErrValueOutOfScale = errors.New("value outside the Likert scale range")
	// ErrUnresolvableVideo indicates the video reference yielded no playable ID.
	ErrUnresolvableVideo = errors.New("video reference cannot be resolved")
	// ErrPlayerNotReady indicates the playback runtime never signalled readiness.
	ErrPlayerNotReady = errors.New("playback runtime did not become ready")
)
