package app

import (
	"errors"
	"fmt"
	"net/http"

	"kanban/api/internal/auth"
	"kanban/api/internal/authpw"
	"kanban/api/internal/export"
	"kanban/api/internal/position"
	"kanban/api/internal/rbac"
	"kanban/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func notFound(what string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", what+" not found", nil)
}

func forbidden(message string) *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", message, nil)
}

func validationFailed(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, details)
}

func conflict(message string) *DomainError {
	return domainError(http.StatusConflict, "CONFLICT", message, nil)
}

func unauthorized() *DomainError {
	return domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
}

// translate folds package sentinels into the domain taxonomy. what names the
// entity for not-found messages. Unknown errors pass through unchanged.
func translate(err error, what string) error {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	switch {
	case errors.As(err, &domainErr):
		return domainErr
	case errors.Is(err, rbac.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return notFound(what)
	case errors.Is(err, rbac.ErrForbidden):
		return forbidden("Insufficient board role")
	case errors.Is(err, store.ErrConflict):
		return conflict(what + " already exists")
	case errors.Is(err, store.ErrArchived):
		return conflict("Card is archived")
	case errors.Is(err, position.ErrInvalidPosition):
		return validationFailed("Position must not be negative", map[string]string{"position": "must be >= 0"})
	case errors.Is(err, position.ErrIncompleteOrder):
		return validationFailed("Order must list every column exactly once", map[string]string{"columnIds": "incomplete or duplicated"})
	case errors.Is(err, position.ErrUnknownItem):
		return notFound(what)
	case errors.Is(err, authpw.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return unauthorized()
	case errors.Is(err, authpw.ErrWeakPassword):
		return validationFailed(err.Error(), map[string]string{"password": err.Error()})
	case errors.Is(err, export.ErrUnsupportedFormat):
		return validationFailed("Unsupported export format", map[string]string{"format": "must be json, pdf or docx"})
	case errors.Is(err, export.ErrArchiveDisabled):
		return domainError(http.StatusServiceUnavailable, "EXPORT_ARCHIVE_UNAVAILABLE", "Export archiving is not configured", nil)
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export renderer is not installed", nil)
	}
	return err
}
