package common

import (
	"fmt"
)

/*Error type for a core level error carrying a machine readable code */
type Error struct {
	Code       string `json:"code,omitempty"`
	Msg        string `json:"msg"`
	StatusCode int    `json:"status_code,omitempty"`
}

func (err *Error) Error() string {
	return fmt.Sprintf("%s: %s", err.Code, err.Msg)
}

// Is matches on the error code so callers can test against a template error.
func (err *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == err.Code
}

/*NewError - create a new error */
func NewError(code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

/*NewErrorf - create a new error with format */
func NewErrorf(code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

/*NewErrorfWithStatusCode - create a new error that remembers the HTTP status it came from */
func NewErrorfWithStatusCode(statusCode int, errCode, format string, args ...interface{}) *Error {
	return &Error{StatusCode: statusCode, Code: errCode, Msg: fmt.Sprintf(format, args...)}
}

/*InvalidRequest - create error messages that are needed when validating request input */
func InvalidRequest(msg string) error {
	return NewError("invalid_request", fmt.Sprintf("Invalid request (%v)", msg))
}
