package wire

import "fmt"

// ErrorCode classifies codec-level failures, so the driver can tell
// recoverable framing errors from malformed-payload errors.
type ErrorCode string

const (
	ErrShortRead      ErrorCode = "SHORT_READ"
	ErrInvalidTag     ErrorCode = "INVALID_TAG"
	ErrBadChecksum    ErrorCode = "BAD_CHECKSUM"
	ErrBadMagic       ErrorCode = "BAD_MAGIC"
	ErrBadCommand     ErrorCode = "BAD_COMMAND"
	ErrPayloadTooLong ErrorCode = "PAYLOAD_TOO_LONG"
)

// CodecError is a typed decode/encode failure.
type CodecError struct {
	Code ErrorCode
	Msg  string
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func codecErr(code ErrorCode, msg string) error {
	return &CodecError{Code: code, Msg: msg}
}

// Is supports errors.Is(err, &CodecError{Code: wire.ErrBadChecksum}) style
// dispatch by comparing codes only.
func (e *CodecError) Is(target error) bool {
	other, ok := target.(*CodecError)
	if !ok {
		return false
	}
	return other.Code == e.Code
}
