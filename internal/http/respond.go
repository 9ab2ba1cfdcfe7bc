package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/splax/splitter/internal/repository"
	"github.com/splax/splitter/internal/service/auth"
	"github.com/splax/splitter/internal/service/avatar"
	"github.com/splax/splitter/internal/service/expense"
	"github.com/splax/splitter/internal/service/friend"
	"github.com/splax/splitter/internal/service/group"
	"github.com/splax/splitter/internal/service/invite"
)

const maskedServerError = "Internal Server Error"

// errorBody is the single error shape returned by every route.
type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    int    `json:"code"`
}

// httpError carries an explicit status with its client message.
type httpError struct {
	status int
	msg    string
}

func (e *httpError) Error() string   { return e.msg }
func (e *httpError) StatusCode() int { return e.status }

func errorf(status int, format string, args ...any) error {
	return &httpError{status: status, msg: fmt.Sprintf(format, args...)}
}

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Success: false, Error: msg, Code: status})
}

var statusTable = []struct {
	err    error
	status int
}{
	{auth.ErrMissingFields, http.StatusBadRequest},
	{auth.ErrInvalidEmail, http.StatusBadRequest},
	{auth.ErrWeakPassword, http.StatusBadRequest},
	{auth.ErrMissingCredentials, http.StatusBadRequest},
	{auth.ErrInvalidCredentials, http.StatusBadRequest},
	{auth.ErrEmailTaken, http.StatusConflict},
	{auth.ErrUniqueIDExhausted, http.StatusInternalServerError},
	{auth.ErrUserNotFound, http.StatusNotFound},
	{auth.ErrUnauthorized, http.StatusUnauthorized},
	{friend.ErrSelfFriend, http.StatusBadRequest},
	{friend.ErrUserNotFound, http.StatusNotFound},
	{friend.ErrNotFriends, http.StatusNotFound},
	{friend.ErrAlreadyFriends, http.StatusConflict},
	{friend.ErrRequestPending, http.StatusConflict},
	{friend.ErrRequestNotFound, http.StatusNotFound},
	{invite.ErrInviteNotFound, http.StatusNotFound},
	{invite.ErrInviteExpired, http.StatusGone},
	{invite.ErrInvalidKind, http.StatusBadRequest},
	{group.ErrGroupNotFound, http.StatusNotFound},
	{group.ErrOwnerCannotLeave, http.StatusBadRequest},
	{avatar.ErrStorageUnavailable, http.StatusServiceUnavailable},
	{avatar.ErrUnsupportedType, http.StatusUnsupportedMediaType},
	{avatar.ErrTooLarge, http.StatusRequestEntityTooLarge},
	{avatar.ErrEmpty, http.StatusBadRequest},
	{repository.ErrNotFound, http.StatusNotFound},
	{repository.ErrInvalidArgument, http.StatusBadRequest},
}

// statusFor resolves the response status for err.
func statusFor(err error) int {
	var coded interface{ StatusCode() int }
	if errors.As(err, &coded) {
		return coded.StatusCode()
	}
	for _, entry := range statusTable {
		if errors.Is(err, entry.err) {
			return entry.status
		}
	}
	if group.IsValidationError(err) || expense.IsValidationError(err) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// clientMessage returns the message sent to the caller. Server errors in
// production never leak their text.
func (r *Router) clientMessage(err error, status int) string {
	if status >= http.StatusInternalServerError && r.production {
		return maskedServerError
	}
	var coded *httpError
	if errors.As(err, &coded) {
		return coded.msg
	}
	for _, entry := range statusTable {
		if errors.Is(err, entry.err) {
			return entry.err.Error()
		}
	}
	return err.Error()
}
