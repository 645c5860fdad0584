package json

import (
	"encoding/json"
	"net/http"

	"github.com/dgellow/orgctl/internal/log"
)

// ErrorResponse is the console's JSON error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	// SignIn is set on 401s so a client can send the operator to log in.
	SignIn string `json:"sign_in,omitempty"`
	// Upstream carries the backend's error body when a request was relayed.
	Upstream json.RawMessage `json:"upstream,omitempty"`
}

// WriteResponse writes a JSON response with the given status code
func WriteResponse(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.LogError("Failed to encode JSON response: %v", err)
		return err
	}
	return nil
}

// Write writes a JSON response with 200 OK status
func Write(w http.ResponseWriter, data any) error {
	return WriteResponse(w, http.StatusOK, data)
}

func WriteErrorResponse(w http.ResponseWriter, statusCode int, resp ErrorResponse) {
	if err := WriteResponse(w, statusCode, resp); err != nil {
		http.Error(w, resp.Error+": "+resp.Message, statusCode)
	}
}

// WriteError writes a JSON error response
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	WriteErrorResponse(w, statusCode, ErrorResponse{Error: code, Message: message})
}

// WriteUpstreamError mirrors a failed backend call. body is embedded verbatim
// when it is valid JSON and as a message otherwise.
func WriteUpstreamError(w http.ResponseWriter, statusCode int, body []byte) {
	resp := ErrorResponse{Error: codeFor(statusCode)}
	if len(body) > 0 && json.Valid(body) {
		resp.Upstream = body
	} else {
		resp.Message = string(body)
	}
	WriteErrorResponse(w, statusCode, resp)
}

func codeFor(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "unprocessable_entity"
	}
	if status >= 500 {
		return "upstream_error"
	}
	return "request_failed"
}

// WriteUnauthorized writes a 401 that points at the sign-in page.
func WriteUnauthorized(w http.ResponseWriter, message, signIn string) {
	WriteErrorResponse(w, http.StatusUnauthorized, ErrorResponse{
		Error:   "unauthorized",
		Message: message,
		SignIn:  signIn,
	})
}

func WriteInternalServerError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, "internal_server_error", message)
}

func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "bad_request", message)
}

func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, "not_found", message)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, "forbidden", message)
}

func WriteServiceUnavailable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusServiceUnavailable, "service_unavailable", message)
}
