//go:build (darwin && arm64) || (linux && (arm64 || amd64))

package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Slashx124/NeonShell/pkg/ssh"
	"github.com/sirupsen/logrus"
)

// ErrResponse is the JSON body of every non-2xx answer.
type ErrResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, code int, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if value == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(value); err != nil {
		logrus.Errorf("failed to encode json response: %v", err)
	}
}

// WriteError maps an engine error onto an HTTP status and the stable wire
// code from the error taxonomy.
func WriteError(w http.ResponseWriter, err error) {
	WriteJSON(w, statusFor(err), ErrResponse{
		Error: ssh.SanitizeErrorMessage(err.Error()),
		Code:  ssh.ErrorCode(err),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ssh.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ssh.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, ssh.ErrQueueFull):
		return http.StatusConflict
	case errors.Is(err, ssh.ErrAlreadyStarted):
		return http.StatusConflict
	case errors.Is(err, ssh.ErrSessionClosed):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}
