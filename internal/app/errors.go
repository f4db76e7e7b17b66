package app

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/orion-services/activity/internal/step"
	"github.com/orion-services/activity/internal/store"
)

// Error kinds. A DomainError unwraps to exactly one of these, or to
// store.ErrNotFound for missing entities.
var (
	ErrIncompleteWorkflow    = errors.New("incomplete workflow")
	ErrInvalidGroupOperation = errors.New("invalid group operation")
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrUnimplemented         = errors.New("unimplemented")
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
	Kind    error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Kind
}

func domainError(kind error, status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
		Kind:    kind,
	}
}

func notFound(format string, args ...any) *DomainError {
	return domainError(store.ErrNotFound, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf(format, args...), nil)
}

func incompleteWorkflow(format string, args ...any) *DomainError {
	return domainError(ErrIncompleteWorkflow, http.StatusConflict, "INCOMPLETE_WORKFLOW", fmt.Sprintf(format, args...), nil)
}

func invalidArgument(format string, args ...any) *DomainError {
	return domainError(ErrInvalidArgument, http.StatusBadRequest, "INVALID_ARGUMENT", fmt.Sprintf(format, args...), nil)
}

// invalidGroupOperation joins every violation into one message and keeps the
// individual messages as details.
func invalidGroupOperation(violations []string) *DomainError {
	return domainError(ErrInvalidGroupOperation, http.StatusConflict, "INVALID_GROUP_OPERATION", strings.Join(violations, "; "), violations)
}

// ValidationFailure carries every step violation collected while validating
// one stage. When it is returned no step of the stage was executed.
type ValidationFailure struct {
	Violations []*step.Violation
}

func (e *ValidationFailure) Error() string {
	messages := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		messages = append(messages, v.Error())
	}
	return fmt.Sprintf("%d step violation(s): %s", len(e.Violations), strings.Join(messages, "; "))
}

func (e *ValidationFailure) Unwrap() []error {
	errs := make([]error, 0, len(e.Violations))
	for _, v := range e.Violations {
		errs = append(errs, v)
	}
	return errs
}

// lookup turns a store miss into a NotFound domain error naming the entity.
func lookup(err error, entity, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return notFound("%s %s not found", entity, id)
	}
	return fmt.Errorf("load %s %s: %w", strings.ToLower(entity), id, err)
}
