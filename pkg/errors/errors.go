package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrBadRequest         = errors.New("bad request")
	ErrInternalServer     = errors.New("internal server error")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSceneNotFound      = errors.New("scene not found")
	ErrSceneClosed        = errors.New("scene is closed")
	ErrNotParticipant     = errors.New("not a scene participant")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
)

// Коды ошибок чат-протокола, возвращаются отправителю в envelope
const (
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeRateLimited      = "RATE_LIMITED"
	CodeValidation       = "VALIDATION_ERROR"
	CodeNotSubscribed    = "NOT_SUBSCRIBED"
	CodeTransport        = "TRANSPORT_ERROR"
)

// ChatError - ошибка обработки сообщения, сессия остается открытой
type ChatError struct {
	Code       string        `json:"error"`
	Message    string        `json:"message,omitempty"`
	RetryAfter time.Duration `json:"-"`
}

func (e *ChatError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func PermissionDenied(msg string) *ChatError {
	return &ChatError{Code: CodePermissionDenied, Message: msg}
}

func RateLimited(retryAfter time.Duration) *ChatError {
	return &ChatError{Code: CodeRateLimited, Message: "rate limit exceeded", RetryAfter: retryAfter}
}

func Validation(msg string) *ChatError {
	return &ChatError{Code: CodeValidation, Message: msg}
}

func NotSubscribed(msg string) *ChatError {
	return &ChatError{Code: CodeNotSubscribed, Message: msg}
}

// AsChatError возвращает *ChatError если err им является
func AsChatError(err error) (*ChatError, bool) {
	var chatErr *ChatError
	if errors.As(err, &chatErr) {
		return chatErr, true
	}
	return nil, false
}

type APIError struct {
	Message string `json:"error"`
	Code    int    `json:"code"`
}

func (e *APIError) Error() string {
	return e.Message
}

func NewAPIError(message string, code int) *APIError {
	return &APIError{
		Message: message,
		Code:    code,
	}
}

func HTTPStatusFromError(err error) int {
	switch err {
	case ErrNotFound, ErrSceneNotFound:
		return http.StatusNotFound
	case ErrUnauthorized, ErrInvalidCredentials, ErrInvalidToken, ErrTokenExpired:
		return http.StatusUnauthorized
	case ErrForbidden, ErrNotParticipant:
		return http.StatusForbidden
	case ErrBadRequest, ErrSceneClosed:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
