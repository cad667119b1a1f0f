package protocol

import (
	"fmt"

	"github.com/facebookgo/stack"
)

// ProtocolException represents an application level exception
type ProtocolException struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	// Cause names a second exception the error also matches, e.g. the
	// malformed varint behind a truncated record.
	Cause string      `json:"cause,omitempty"`
	Stack stack.Stack `json:"stack"`
}

func (e ProtocolException) Error() string {
	return fmt.Sprintf("[%s] %s", e.Name, e.Message)
}

// Is reports whether target is a ProtocolException with the same name or
// cause, so the sentinels below can be matched with errors.Is regardless of
// message or stack.
func (e ProtocolException) Is(target error) bool {
	t, ok := target.(ProtocolException)
	if !ok {
		return false
	}
	return t.Name == e.Name || (e.Cause != "" && t.Name == e.Cause)
}

// NewProtocolException returns a new application level exception
func NewProtocolException(name string, message string, params ...interface{}) error {
	err := ProtocolException{
		Name:    name,
		Message: fmt.Sprintf(message, params...),
		Stack:   stack.Callers(1),
	}
	return err
}

func newUnterminatedVarint(name string, offset int) error {
	return ProtocolException{
		Name:    name,
		Message: fmt.Sprintf("Varint at offset %d runs past the end of the data", offset),
		Cause:   ErrMalformedVarint.Name,
		Stack:   stack.Callers(2),
	}
}

// Malformed input. The buffer that produced one of these is unusable.
var (
	ErrMalformedVarint      = ProtocolException{Name: "malformed_varint"}
	ErrTruncatedRecord      = ProtocolException{Name: "truncated_record"}
	ErrRecordLengthMismatch = ProtocolException{Name: "record_length_mismatch"}
	ErrInvalidSize          = ProtocolException{Name: "invalid_size"}
	ErrTruncatedBatch       = ProtocolException{Name: "truncated_batch"}
	ErrTrailingBytes        = ProtocolException{Name: "message_not_finished"}
	ErrCrcMismatch          = ProtocolException{Name: "crc_mismatch"}
	ErrUnsupportedMagic     = ProtocolException{Name: "unsupported_magic"}
	ErrRecordCountMismatch  = ProtocolException{Name: "record_count_mismatch"}
	ErrInvalidCompression   = ProtocolException{Name: "invalid_compression"}
)

// Input validation, raised before any encoding work.
var (
	ErrEmptyBatch         = ProtocolException{Name: "empty_batch"}
	ErrRecordTooLarge     = ProtocolException{Name: "record_too_large"}
	ErrInvalidOffsetDelta = ProtocolException{Name: "invalid_offset_delta"}
)
