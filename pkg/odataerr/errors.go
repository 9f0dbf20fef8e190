// Package odataerr builds and writes protocol error responses:
//
//	{"error": {"code": "...", "message": "...", "target": "...", "details": [...]}}
package odataerr

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ContentType is the media type of error responses.
const ContentType = "application/json; odata.metadata=minimal"

// Error is the body of the "error" member.
type Error struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Target     string         `json:"target,omitempty"`
	Details    []Detail       `json:"details,omitempty"`
	InnerError map[string]any `json:"innererror,omitempty"`

	status int
}

// Detail is one entry of Error.Details.
type Detail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Target  string `json:"target,omitempty"`
}

// Status returns the HTTP status the error is written with.
func (e Error) Status() int {
	if e.status == 0 {
		return http.StatusInternalServerError
	}
	return e.status
}

func (e Error) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Target)
	}
	return e.Code + ": " + e.Message
}

// Builder provides a fluent API for building Error values.
type Builder struct {
	err Error
}

// New creates a Builder with the given status, code and message.
func New(status int, code, message string) *Builder {
	return &Builder{err: Error{Code: code, Message: message, status: status}}
}

// Newf is New with a formatted message.
func Newf(status int, code, format string, args ...any) *Builder {
	return New(status, code, fmt.Sprintf(format, args...))
}

// Target sets the element the error applies to, such as a parameter name.
func (b *Builder) Target(target string) *Builder {
	b.err.Target = target
	return b
}

// Detail appends a detail entry.
func (b *Builder) Detail(code, message, target string) *Builder {
	b.err.Details = append(b.err.Details, Detail{Code: code, Message: message, Target: target})
	return b
}

// Inner sets a key of the innererror object.
func (b *Builder) Inner(key string, value any) *Builder {
	if b.err.InnerError == nil {
		b.err.InnerError = make(map[string]any)
	}
	b.err.InnerError[key] = value
	return b
}

// Build returns the constructed Error.
func (b *Builder) Build() Error {
	return b.err
}

// BadRequest creates a 400 error.
func BadRequest(message string) Error {
	return New(http.StatusBadRequest, "BadRequest", message).Build()
}

// InvalidParameter creates a 400 error targeting a route or body parameter.
func InvalidParameter(name, message string) Error {
	return New(http.StatusBadRequest, "InvalidParameter", message).Target(name).Build()
}

// NotFound creates a 404 error.
func NotFound(resource string) Error {
	return Newf(http.StatusNotFound, "NotFound", "The requested %s was not found.", resource).Build()
}

// MethodNotAllowed creates a 405 error.
func MethodNotAllowed(method string) Error {
	return Newf(http.StatusMethodNotAllowed, "MethodNotAllowed", "The %s method is not allowed for this resource.", method).Build()
}

// NotAcceptable creates a 406 error.
func NotAcceptable(message string) Error {
	return New(http.StatusNotAcceptable, "NotAcceptable", message).Build()
}

// Conflict creates a 409 error.
func Conflict(message string) Error {
	return New(http.StatusConflict, "Conflict", message).Build()
}

// Internal creates a 500 error.
func Internal(message string) Error {
	if message == "" {
		message = "An internal error occurred."
	}
	return New(http.StatusInternalServerError, "InternalError", message).Build()
}

// NotImplemented creates a 501 error.
func NotImplemented(feature string) Error {
	return Newf(http.StatusNotImplemented, "NotImplemented", "%s is not implemented.", feature).Build()
}

type envelope struct {
	Error Error `json:"error"`
}

// Write writes e with its status.
func Write(w http.ResponseWriter, e Error) {
	w.Header().Set("Content-Type", ContentType)
	w.Header().Set("OData-Version", "4.0")
	w.WriteHeader(e.Status())
	json.NewEncoder(w).Encode(envelope{Error: e})
}

// Decode reads an error response body.
func Decode(data []byte) (Error, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Error{}, fmt.Errorf("decode error body: %w", err)
	}
	return env.Error, nil
}
