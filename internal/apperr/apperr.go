// Package apperr defines the application error taxonomy shared by the chat
// service, the inference providers and the transport layers.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindUnavailable
	KindModelNotFound
	KindInference
)

// Error carries a kind for transport mapping plus a human-readable message.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func EmptyField(field string) *Error {
	return &Error{
		Kind: KindValidation,
		Msg:  fmt.Sprintf("field %q cannot be empty", field),
	}
}

func FieldTooLong(field string, maxLength, actualLength int) *Error {
	return &Error{
		Kind: KindValidation,
		Msg:  fmt.Sprintf("field %q exceeds max length of %d (actual: %d)", field, maxLength, actualLength),
	}
}

func ConversationNotFound(id string) *Error {
	return &Error{
		Kind: KindNotFound,
		Msg:  fmt.Sprintf("conversation %q not found", id),
	}
}

func RecordNotFound(entity, id string) *Error {
	return &Error{
		Kind: KindNotFound,
		Msg:  fmt.Sprintf("record not found: %s with id %q", entity, id),
	}
}

func Unavailable(host string, err error) *Error {
	return &Error{
		Kind: KindUnavailable,
		Msg:  fmt.Sprintf("inference service unavailable at %s", host),
		Err:  err,
	}
}

func ModelNotFound(model string) *Error {
	return &Error{
		Kind: KindModelNotFound,
		Msg:  fmt.Sprintf("model %q not found", model),
	}
}

func Inference(err error) *Error {
	return &Error{
		Kind: KindInference,
		Msg:  fmt.Sprintf("inference error: %v", err),
		Err:  err,
	}
}

func Internal(err error) *Error {
	return &Error{
		Kind: KindInternal,
		Msg:  fmt.Sprintf("unexpected error: %v", err),
		Err:  err,
	}
}

func kindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

func IsValidation(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindValidation
}

func IsNotFound(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindNotFound
}

func IsUnavailable(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindUnavailable
}
