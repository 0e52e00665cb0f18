package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

// Response represents the unified envelope format.
type Response struct {
	Result        string      `json:"result"`
	Data          interface{} `json:"data,omitempty"`
	Code          string      `json:"code,omitempty"`
	Message       string      `json:"message,omitempty"`
	Details       interface{} `json:"details,omitempty"`
	CorrelationID string      `json:"correlationId"`
}

// SuccessResponse creates a success response.
func SuccessResponse(data interface{}) *Response {
	return &Response{
		Result:        "ok",
		Data:          data,
		CorrelationID: uuid.NewString(),
	}
}

// ErrorResponse creates an error response.
func ErrorResponse(code, message string, details interface{}) *Response {
	return &Response{
		Result:        "error",
		Code:          code,
		Message:       message,
		Details:       details,
		CorrelationID: uuid.NewString(),
	}
}

// WriteSuccess writes a 200 success envelope.
func WriteSuccess(w http.ResponseWriter, data interface{}) {
	writeResponse(w, http.StatusOK, SuccessResponse(data))
}

// WriteError writes an error envelope.
func WriteError(w http.ResponseWriter, statusCode int, code, message string, details interface{}) {
	writeResponse(w, statusCode, ErrorResponse(code, message, details))
}

// writeAPIError writes the envelope ToAPIError builds for err.
func writeAPIError(w http.ResponseWriter, err error) {
	e := ToAPIError(err)
	WriteError(w, e.StatusCode, e.Code, e.Message, e.Details)
}

func writeResponse(w http.ResponseWriter, statusCode int, response *Response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	// Headers are sent; an encode failure only means the client went away.
	_ = json.NewEncoder(w).Encode(response)
}
