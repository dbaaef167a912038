// Package httpx provides the JSON envelope used by every API response.
package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/gridbill/gridbill/internal/shared"
)

// Envelope is the success response body.
type Envelope struct {
	Success bool               `json:"success"`
	Data    any                `json:"data,omitempty"`
	Meta    *shared.Pagination `json:"meta,omitempty"`
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	Retryable bool              `json:"retryable,omitempty"`
}

// ErrorEnvelope is the failure response body.
type ErrorEnvelope struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// OK writes a 200 envelope.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, Envelope{Success: true, Data: data})
}

// Created writes a 201 envelope.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, Envelope{Success: true, Data: data})
}

// Page writes a paginated 200 envelope.
func Page(w http.ResponseWriter, data any, meta shared.Pagination) {
	JSON(w, http.StatusOK, Envelope{Success: true, Data: data, Meta: &meta})
}
