// Package apperr defines the error kinds recorded on rulebook and queue rows.
package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/MimeLyc/rulebook-translator/pkg/log"
)

type Kind int

const (
	KindUnknown Kind = iota
	// KindAcquisition covers fetch, navigation and download failures.
	KindAcquisition
	// KindExtraction covers corrupt, unsupported or near-empty documents.
	KindExtraction
	// KindTranslation covers provider, timeout and rate limit failures.
	KindTranslation
	// KindPersistence covers an unavailable or rejecting store.
	KindPersistence
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindAcquisition:
		return "AcquisitionError"
	case KindExtraction:
		return "ExtractionError"
	case KindTranslation:
		return "TranslationError"
	case KindPersistence:
		return "PersistenceError"
	case KindValidation:
		return "ValidationError"
	default:
		return "UnknownError"
	}
}

type Error struct {
	Kind    Kind
	Message string
	Context map[string]any
	Cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Context: make(map[string]any),
	}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

func Wrap(err error, kind Kind, message string) *Error {
	e := New(kind, message)
	e.Cause = err
	return e
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Kind, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnknown
}

func Is(err error, kind Kind) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// Ensure wraps err as kind unless it already carries a kind.
func Ensure(err error, kind Kind, message string) error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return err
	}
	return Wrap(err, kind, message)
}

// SafeExecute runs fn and converts a panic into a KindUnknown error.
func SafeExecute(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("recovered panic: %v", r)
			err = New(KindUnknown, fmt.Sprintf("runtime error: %v", r))
		}
	}()

	return fn()
}
