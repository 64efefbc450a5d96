package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"ledger/internal/core"
	"ledger/internal/log"
)

// JSONResponseBuilder provides a fluent API for JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	headers    map[string]string
	data       any
}

func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

func (b *JSONResponseBuilder) Data(v any) *JSONResponseBuilder {
	b.data = v
	return b
}

func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.statusCode == http.StatusNoContent {
		w.WriteHeader(b.statusCode)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(b.statusCode)
	if b.data != nil {
		_ = json.NewEncoder(w).Encode(b.data)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func ErrorResponse(statusCode int, message string) *JSONResponseBuilder {
	return NewJSONResponse().Status(statusCode).Data(errorBody{Error: message})
}

func BadRequestError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, message)
}

func UnprocessableEntityError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusUnprocessableEntity, message)
}

func NotFoundError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusNotFound, message)
}

var validationErrors = []error{
	core.ErrInvalidAmount,
	core.ErrEmptyDescription,
	core.ErrDescriptionLong,
	core.ErrInvalidCategory,
	core.ErrInvalidRange,
	core.ErrInvalidCurrency,
	core.ErrInvalidTheme,
	core.ErrInvalidLanguage,
}

// decodeError writes a body decode failure. A malformed amount is a
// validation failure rather than bad syntax.
func decodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, core.ErrInvalidAmount) {
		UnprocessableEntityError(err.Error()).Write(w)
		return
	}
	BadRequestError(err.Error()).Write(w)
}

// errorStatus maps domain errors to status codes. Anything unrecognised
// comes from a backing store.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrEmptyPatch):
		return http.StatusBadRequest
	}
	for _, v := range validationErrors {
		if errors.Is(err, v) {
			return http.StatusUnprocessableEntity
		}
	}
	return http.StatusBadGateway
}

// writeError logs store failures and writes the mapped error. Store
// error details are not echoed to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	msg := err.Error()
	if status == http.StatusBadGateway {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Store request failed",
			log.FieldPath, r.URL.Path, log.FieldError, err.Error())
		msg = "storage unavailable, please retry"
	}
	ErrorResponse(status, msg).Write(w)
}
