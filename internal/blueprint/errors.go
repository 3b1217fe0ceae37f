package blueprint

import (
	"errors"
	"fmt"
)

// ErrorCode classifies structural parse failures so the CLI can map them to
// user messages. Parse errors are fatal at plan entry and never retried.
type ErrorCode string

const (
	CodeInvalidInputFile       ErrorCode = "InvalidInputFile"
	CodeUnknownInput           ErrorCode = "UnknownInput"
	CodeMissingRequiredInput   ErrorCode = "MissingRequiredInput"
	CodeDuplicateInputKey      ErrorCode = "DuplicateInputKey"
	CodeInvalidArtifactOverride ErrorCode = "InvalidArtifactOverride"
	CodeUnknownProducerInModels ErrorCode = "UnknownProducerInModels"
	CodeAmbiguousModelSelection ErrorCode = "AmbiguousModelSelection"
	CodeNoProducerOptions       ErrorCode = "NoProducerOptions"
	CodeInvalidOutputSchemaJSON ErrorCode = "InvalidOutputSchemaJson"
	CodeInvalidBlueprint        ErrorCode = "InvalidBlueprint"
)

// ParseError is a structural error in a blueprint, inputs file, or model
// selection. Subject names the offending key, producer, or file.
type ParseError struct {
	Code    ErrorCode
	Subject string
	Message string
}

func (e *ParseError) Error() string {
	if e.Subject != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Subject, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// parseErrorf builds a ParseError with a formatted message.
func parseErrorf(code ErrorCode, subject, format string, args ...any) *ParseError {
	return &ParseError{Code: code, Subject: subject, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the error code of a ParseError, or empty for other errors.
func CodeOf(err error) ErrorCode {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}
