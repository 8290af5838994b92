package fault

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

var (
	ErrNotFound            = errors.New("resource not found")
	ErrUniqueViolation     = errors.New("unique violation")
	ErrForeignKeyViolation = errors.New("restricted for deletion")
)

type ErrorType int

const (
	ErrClient ErrorType = iota
	ErrInternal
)

// Kind classifies a Fault within the ingestion and form design domain.
type Kind int

const (
	KindUnspecified Kind = iota
	KindMalformedSubmission
	KindUnknownForm
	KindIncompleteResponse
	KindRankIntegrityViolation
	KindValidationFailed
)

func (k Kind) String() string {
	switch k {
	case KindMalformedSubmission:
		return "MalformedSubmission"
	case KindUnknownForm:
		return "UnknownForm"
	case KindIncompleteResponse:
		return "IncompleteResponse"
	case KindRankIntegrityViolation:
		return "RankIntegrityViolation"
	case KindValidationFailed:
		return "ValidationFailed"
	default:
		return "Unspecified"
	}
}

// Invariant names the rank rule a move would have broken.
type Invariant string

const (
	InvariantGap       Invariant = "gap"
	InvariantDuplicate Invariant = "duplicate"
)

type Fault struct {
	Type    ErrorType
	Kind    Kind
	Message string
	Err     error

	// Set for KindRankIntegrityViolation only.
	Invariant Invariant
}

func (e *Fault) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.typeString(), e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.typeString(), e.Message)
}

// Unwrap allows errors.Is and errors.As to work.
func (e *Fault) Unwrap() error {
	return e.Err
}

// typeString returns a human-readable representation of the error type.
func (e *Fault) typeString() string {
	switch e.Type {
	case ErrClient:
		return "ClientError"
	case ErrInternal:
		return "InternalError"
	default:
		return "UnknownError"
	}
}

// NewClientError creates a new client error.
func NewClientError(msg string, err error) error {
	return &Fault{
		Type:    ErrClient,
		Message: msg,
		Err:     err,
	}
}

// NewInternalError creates a new internal server error.
func NewInternalError(msg string, err error) error {
	return &Fault{
		Type:    ErrInternal,
		Message: msg,
		Err:     err,
	}
}

// MalformedSubmission reports a payload that could not be parsed or carries no form id.
func MalformedSubmission(msg string, err error) error {
	return &Fault{Type: ErrClient, Kind: KindMalformedSubmission, Message: msg, Err: err}
}

// UnknownForm reports a submission for a form that does not exist in scope.
func UnknownForm(formID int) error {
	return &Fault{Type: ErrClient, Kind: KindUnknownForm, Message: fmt.Sprintf("form %d not found", formID), Err: ErrNotFound}
}

// IncompleteResponse reports every visible question lacking an answer as a single error.
func IncompleteResponse(missing []string) error {
	msg := "not all questions have answers"
	if len(missing) > 0 {
		msg = fmt.Sprintf("%s (missing: %s)", msg, strings.Join(missing, ", "))
	}
	return &Fault{Type: ErrClient, Kind: KindIncompleteResponse, Message: msg}
}

// RankIntegrityViolation reports a move that would break sibling rank ordering.
func RankIntegrityViolation(inv Invariant) error {
	var msg string
	switch inv {
	case InvariantGap:
		msg = "that update would have caused gaps in ranks"
	case InvariantDuplicate:
		msg = "that update would have caused duplicate ranks"
	default:
		msg = "that update would have broken rank integrity"
	}
	return &Fault{Type: ErrClient, Kind: KindRankIntegrityViolation, Message: msg, Invariant: inv}
}

// FieldError is a single field-level validation failure.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Field + " " + e.Message
}

// Field builds a FieldError.
func Field(field, msg string) error {
	return &FieldError{Field: field, Message: msg}
}

// ValidationFailed aggregates field errors into one client error.
// It returns nil when errs carries no error.
func ValidationFailed(errs ...error) error {
	combined := multierr.Combine(errs...)
	if combined == nil {
		return nil
	}
	return &Fault{Type: ErrClient, Kind: KindValidationFailed, Message: "validation failed", Err: combined}
}

// FieldErrors returns the individual field errors carried by a ValidationFailed fault.
func FieldErrors(err error) []*FieldError {
	var f *Fault
	if !errors.As(err, &f) || f.Kind != KindValidationFailed {
		return nil
	}
	var out []*FieldError
	for _, e := range multierr.Errors(f.Err) {
		var fe *FieldError
		if errors.As(e, &fe) {
			out = append(out, fe)
		}
	}
	return out
}

// KindOf returns the Kind of the first Fault in err's chain.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindUnspecified
}

// IsClientError checks if an error is a client error.
func IsClientError(err error) bool {
	var ce *Fault
	if errors.As(err, &ce) {
		return ce.Type == ErrClient
	}
	return false
}

// IsInternalError checks if an error is an internal error.
func IsInternalError(err error) bool {
	var ce *Fault
	if errors.As(err, &ce) {
		return ce.Type == ErrInternal
	}
	return false
}
