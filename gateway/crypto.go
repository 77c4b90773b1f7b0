package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Operation names a crypto operation supported by the remote service.
type Operation string

const (
	OpRandomHex    Operation = "random_hex"
	OpRandomBase64 Operation = "random_base64"
	OpSHA256       Operation = "sha256"
	OpToken        Operation = "token"
)

// Semantic failures of a parsed crypto response.
var (
	ErrOperationFailed = errors.New("crypto operation reported failure")
	ErrMissingData     = errors.New("crypto response has no data")
	ErrInvalidResult   = errors.New("crypto result has an invalid format")
)

// CryptoRequest is the JSON body of POST /crypto.
type CryptoRequest struct {
	Operation Operation `json:"operation"`
	Data      string    `json:"data,omitempty"`
	Length    int       `json:"length,omitempty"`
}

// NewCryptoRequest builds a request; empty data and length <= 0 are left out of the payload.
func NewCryptoRequest(op Operation, data string, length int) CryptoRequest {
	if length < 0 {
		length = 0
	}
	return CryptoRequest{Operation: op, Data: data, Length: length}
}

// Payload serializes the request.
func (r CryptoRequest) Payload() ([]byte, error) {
	return json.Marshal(r)
}

// CryptoResult is the data member of a successful crypto response.
type CryptoResult struct {
	Result    json.RawMessage `json:"result"`
	Operation string          `json:"operation,omitempty"`
}

// CryptoResponse is a POST /crypto response. Members are kept raw so that a
// well-formed body of any shape reaches the caller and Result can classify it.
type CryptoResponse struct {
	Success json.RawMessage `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   json.RawMessage `json:"error"`
}

// ParseCryptoResponse decodes a crypto response body.
// Only a body that is not valid JSON is an error; a non-object yields an empty response.
func ParseCryptoResponse(body []byte) (*CryptoResponse, error) {
	if !json.Valid(body) {
		return nil, errors.New("crypto response is not valid JSON")
	}
	var resp CryptoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return &CryptoResponse{}, nil
	}
	return &resp, nil
}

// Succeeded reports whether success is the JSON literal true.
func (r *CryptoResponse) Succeeded() bool {
	return string(r.Success) == "true"
}

// Message returns the error member when it is a string.
func (r *CryptoResponse) Message() string {
	var message string
	if json.Unmarshal(r.Error, &message) != nil {
		return ""
	}
	return message
}

// Operation returns data.operation when present.
func (r *CryptoResponse) Operation() string {
	var data CryptoResult
	if json.Unmarshal(r.Data, &data) != nil {
		return ""
	}
	return data.Operation
}

// Result extracts data.result as a string, classifying semantic failures.
func (r *CryptoResponse) Result() (string, error) {
	if !r.Succeeded() {
		if message := r.Message(); message != "" {
			return "", fmt.Errorf("%w: %s", ErrOperationFailed, message)
		}
		return "", ErrOperationFailed
	}
	if len(r.Data) == 0 || string(r.Data) == "null" {
		return "", ErrMissingData
	}

	var data CryptoResult
	if err := json.Unmarshal(r.Data, &data); err != nil {
		return "", fmt.Errorf("%w: data is %s", ErrInvalidResult, r.Data)
	}
	if len(data.Result) == 0 || string(data.Result) == "null" {
		return "", ErrMissingData
	}

	var result string
	if err := json.Unmarshal(data.Result, &result); err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidResult, data.Result)
	}
	return result, nil
}

// CryptoOperation posts a crypto request and parses the response.
// It returns nil on transport failure, non-200 status, empty body or invalid JSON.
// Any other body is returned for the caller to interpret, whatever its shape.
func (g *Gateway) CryptoOperation(ctx context.Context, op Operation, data string, length int) *CryptoResponse {
	payload, err := NewCryptoRequest(op, data, length).Payload()
	if err != nil {
		g.logs.Error("Failed to encode crypto request", map[string]interface{}{
			"operation": string(op),
			"error":     err.Error(),
		})
		return nil
	}

	body, err := g.send(ctx, "crypto", http.MethodPost, "/crypto", "application/json", payload)
	if err != nil {
		return nil
	}

	if len(body) == 0 {
		g.logs.Warn("Crypto response was empty", map[string]interface{}{
			"operation": string(op),
		})
		return nil
	}

	resp, err := ParseCryptoResponse(body)
	if err != nil {
		g.logs.Warn("Crypto response parse failed", map[string]interface{}{
			"operation": string(op),
			"error":     err.Error(),
		})
		return nil
	}

	g.logs.Debug("Crypto response parsed", map[string]interface{}{
		"operation": string(op),
		"success":   resp.Succeeded(),
	})

	return resp
}
