package service

import (
	"errors"
	"fmt"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrRoomNotFound         = errors.New("room not found")
	ErrForbidden            = errors.New("forbidden")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrRegistrationFailed   = errors.New("registration failed: username or email already exists")
	ErrInvalidInput         = errors.New("invalid input")
	ErrInternalServer       = errors.New("internal server error")
	// ErrAuthRejected 是所有连接认证拒绝的公共错误，用 errors.Is 判断
	ErrAuthRejected = errors.New("connection authentication rejected")
)

// 连接认证拒绝原因，原样发给客户端
const (
	ReasonNoCredential        = "NO_CREDENTIAL"
	ReasonMalformedCredential = "MALFORMED_CREDENTIAL"
	ReasonUnknownSubject      = "UNKNOWN_SUBJECT"
)

// AuthError 是带原因的认证拒绝
type AuthError struct {
	Reason string
	Err    error // 底层原因，可能为 nil
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth rejected (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("auth rejected (%s)", e.Reason)
}

// Is 让 errors.Is(err, ErrAuthRejected) 对任意原因成立
func (e *AuthError) Is(target error) bool { return target == ErrAuthRejected }

func (e *AuthError) Unwrap() error { return e.Err }

func rejected(reason string, err error) *AuthError {
	return &AuthError{Reason: reason, Err: err}
}

// invalidInput 包装 ErrInvalidInput 并附带说明
func invalidInput(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
