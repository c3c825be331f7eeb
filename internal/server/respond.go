package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	noterr "github.com/davidzhangbj/smart-notes/internal/errors"
)

// envelope is the uniform response shape: {"success": true, "data": ...} on
// success, {"success": false, "error": {...}} on failure.
type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// respond writes a success envelope.
func respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: true, Data: data}); err != nil {
		slog.Error("encode response", slog.String("error", err.Error()))
	}
}

// respondError maps an error to its HTTP status and writes a failure
// envelope. Error codes are stable API surface; messages are not.
func respondError(w http.ResponseWriter, err error) {
	code := noterr.CodeOf(err)

	body := errorBody{Code: code, Message: err.Error()}
	var ne *noterr.NoteError
	if errors.As(err, &ne) {
		body.Message = ne.Message
		body.Suggestion = ne.Suggestion
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusForCode(code))
	if encErr := json.NewEncoder(w).Encode(envelope{Success: false, Error: &body}); encErr != nil {
		slog.Error("encode error response", slog.String("error", encErr.Error()))
	}
}

func statusForCode(code string) int {
	switch code {
	case noterr.ErrCodeValidation, noterr.ErrCodeInvalidQuery:
		return http.StatusBadRequest
	case noterr.ErrCodeNoteNotFound:
		return http.StatusNotFound
	case noterr.ErrCodeEmbeddingUnavailable:
		return http.StatusServiceUnavailable
	case noterr.ErrCodeDimensionMismatch, noterr.ErrCodeIndexCorruption:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
