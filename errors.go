package kolog

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Layer identifies where in the system an error originated.
type Layer string

// Error layers, answering "where did it happen?".
const (
	LayerConfiguration Layer = "CONFIGURATION"
	LayerFactory       Layer = "FACTORY"
	LayerDispatch      Layer = "DISPATCH"
	LayerHandler       Layer = "HANDLER"
	LayerProcessor     Layer = "PROCESSOR"
	LayerUnknown       Layer = "UNKNOWN"
)

// Category classifies the kind of problem, answering "what went wrong?".
type Category string

// Error categories.
const (
	CategoryConfiguration Category = "CONFIGURATION"
	CategoryFormatting    Category = "FORMATTING"
	CategoryRouting       Category = "ROUTING"
	CategoryValidation    Category = "VALIDATION"
	CategoryIO            Category = "IO"
	CategoryUnexpected    Category = "UNEXPECTED"
	CategoryUnknown       Category = "UNKNOWN"
)

// Severity grades how serious an error is.
type Severity string

// Error severities.
const (
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// Error is the structured error carried across every kolog boundary. The
// machine-parseable code it renders is the only wire format the core exposes
// to callers.
type Error struct {
	Layer       Layer
	Service     string
	Category    Category
	Severity    Severity
	Recoverable bool
	Msg         string
	Err         error
	Time        time.Time
	Context     map[string]any
}

// newError fills the generic fields shared by all layer constructors.
func newError(layer Layer, category Category, msg, service string, cause error) *Error {
	if service == "" {
		service = "unknown"
	}
	return &Error{
		Layer:    layer,
		Service:  service,
		Category: category,
		Severity: SeverityError,
		Msg:      strings.TrimSpace(msg),
		Err:      cause,
		Time:     time.Now().UTC(),
	}
}

// Code renders the LAYER::SERVICE::CATEGORY::SEVERITY[::RECOVERABLE] code.
// The service segment keeps its original casing so camelCase names stay
// readable.
func (e *Error) Code() string {
	code := fmt.Sprintf("%s::%s::%s::%s", e.Layer, e.Service, e.Category, e.Severity)
	if e.Recoverable {
		return code + "::RECOVERABLE"
	}
	return code
}

// Error implements the error interface: human message followed by the code.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s\n>> %s", e.Msg, e.Code())
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches two kolog errors by layer and category, or falls through to the
// wrapped cause.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Layer == te.Layer && e.Category == te.Category
	}
	return e.Err != nil && errors.Is(e.Err, target)
}

// WithContext attaches a key/value pair to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithSeverity overrides the default ERROR severity.
func (e *Error) WithSeverity(sev Severity) *Error {
	e.Severity = sev
	return e
}

// WithCategory overrides the constructor's default category.
func (e *Error) WithCategory(cat Category) *Error {
	e.Category = cat
	return e
}

// NewConfigurationError reports invalid or mismatched configuration.
func NewConfigurationError(msg, service string, cause error) *Error {
	return newError(LayerConfiguration, CategoryValidation, msg, service, cause)
}

// NewFactoryError reports a failure assembling loggers or handlers.
func NewFactoryError(msg, service string, cause error) *Error {
	return newError(LayerFactory, CategoryConfiguration, msg, service, cause)
}

// NewLoggerError reports a failure in a logger-level processor chain.
func NewLoggerError(msg, service string, cause error) *Error {
	return newError(LayerProcessor, CategoryConfiguration, msg, service, cause)
}

// NewProcessorError reports a failure inside a processor or renderer.
func NewProcessorError(msg, service string, cause error) *Error {
	return newError(LayerProcessor, CategoryFormatting, msg, service, cause)
}

// NewHandlerError reports an I/O failure at a destination.
func NewHandlerError(msg, service string, cause error) *Error {
	return newError(LayerHandler, CategoryIO, msg, service, cause)
}

// NewDispatchError reports a routing failure in the queue manager.
func NewDispatchError(msg, service string, cause error) *Error {
	return newError(LayerDispatch, CategoryRouting, msg, service, cause)
}

// AsError extracts a *Error from err's chain, if present.
func AsError(err error) (*Error, bool) {
	var ke *Error
	if errors.As(err, &ke) {
		return ke, true
	}
	return nil, false
}

// ErrorCode extracts the structured code from an error, or the UNKNOWN code
// when the error did not originate in kolog.
func ErrorCode(err error) string {
	if ke, ok := AsError(err); ok {
		return ke.Code()
	}
	return fmt.Sprintf("%s::unknown::%s::%s", LayerUnknown, CategoryUnknown, SeverityError)
}
