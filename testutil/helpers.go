package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewJSONRequest creates an *http.Request with JSON body and Content-Type header.
func NewJSONRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		err := json.NewEncoder(&buf).Encode(body)
		require.NoError(t, err, "failed to encode request body")
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithSecretHeader adds the X-Optimist-Secret header to a request.
func WithSecretHeader(req *http.Request, secret string) *http.Request {
	req.Header.Set("X-Optimist-Secret", secret)
	return req
}

// AssertJSONResponse reads the response body as JSON, asserts the status code,
// and unmarshals into the provided target. Returns the raw body bytes.
func AssertJSONResponse(t *testing.T, rec *httptest.ResponseRecorder, expectedStatus int, target any) []byte {
	t.Helper()
	assert.Equal(t, expectedStatus, rec.Code, "unexpected status code: %s", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	body := rec.Body.Bytes()
	if target != nil {
		err := json.Unmarshal(body, target)
		require.NoError(t, err, "failed to unmarshal response body: %s", string(body))
	}
	return body
}

// ErrorBody is the JSON error shape returned by the API.
type ErrorBody struct {
	Error   string `json:"error"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Fields  []struct {
		Field  string `json:"field"`
		Reason string `json:"reason"`
	} `json:"fields"`
	RetryAfterSeconds int `json:"retry_after_seconds"`
}

// AssertJSONError asserts the status code and error kind of an error response.
func AssertJSONError(t *testing.T, rec *httptest.ResponseRecorder, expectedStatus int, expectedKind string) ErrorBody {
	t.Helper()
	var resp ErrorBody
	AssertJSONResponse(t, rec, expectedStatus, &resp)
	assert.Equal(t, expectedKind, resp.Kind, "unexpected error kind")
	return resp
}
