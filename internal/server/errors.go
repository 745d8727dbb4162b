package server

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"pmboard/internal/service"
)

// APIError is the JSON body of every non-2xx response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *APIError) Unwrap() error { return e.Err }

// FieldError describes one rejected request parameter.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func badRequest(message string, details any) *APIError {
	return &APIError{Code: "ERR_BAD_REQUEST", Message: message, Details: details, Status: http.StatusBadRequest}
}

func unavailable(err error) *APIError {
	return &APIError{
		Code:    "ERR_DATA_UNAVAILABLE",
		Message: "market data is not available yet",
		Status:  http.StatusServiceUnavailable,
		Err:     err,
	}
}

func internal(err error) *APIError {
	return &APIError{Code: "ERR_INTERNAL", Message: "internal server error", Status: http.StatusInternalServerError, Err: err}
}

// snapshotError maps coordinator failures onto HTTP responses.
func snapshotError(err error) *APIError {
	if errors.Is(err, service.ErrNoDataAvailable) {
		return unavailable(err)
	}
	return internal(err)
}

func writeError(c echo.Context, e *APIError) error {
	return c.JSON(e.Status, e)
}

// errorHandler replaces echo's default so framework errors share the APIError shape.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		_ = writeError(c, apiErr)
		return
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		_ = writeError(c, &APIError{
			Code:    "ERR_" + strings.ToUpper(strings.ReplaceAll(http.StatusText(he.Code), " ", "_")),
			Message: fmt.Sprint(he.Message),
			Status:  he.Code,
		})
		return
	}
	_ = writeError(c, internal(err))
}

func validationDetails(err error) []FieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Code: "ERR_UNKNOWN", Message: err.Error()}}
	}
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{
			Field:   fe.Field(),
			Code:    "ERR_" + strings.ToUpper(fe.Tag()),
			Message: fieldMessage(fe),
		})
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "min", "gte":
		if fe.Type().Kind() == reflect.String {
			return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max", "lte":
		if fe.Type().Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	default:
		return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
	}
}
