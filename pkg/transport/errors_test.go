package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rhuss/codegate/pkg/api"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) *api.APIError {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body api.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body %q: %v", rec.Body.String(), err)
	}
	if body.Error == nil {
		t.Fatalf("body %q has no error object", rec.Body.String())
	}
	return body.Error
}

func TestHTTPStatusFromError(t *testing.T) {
	want := map[api.ErrorType]int{
		api.ErrorTypeInvalidRequest:    400,
		api.ErrorTypeRejectedProposal:  400,
		api.ErrorTypeForbidden:         403,
		api.ErrorTypeNotFound:          404,
		api.ErrorTypeInvalidTransition: 409,
		api.ErrorTypeHarnessFault:      502,
		api.ErrorTypeServerError:       500,
		"something_new":                500,
	}
	for typ, status := range want {
		if got := HTTPStatusFromError(&api.APIError{Type: typ}); got != status {
			t.Errorf("%s: got %d, want %d", typ, got, status)
		}
	}
}

func TestWriteErrorResponseKeepsStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErrorResponse(rec, api.NewInvalidRequestError("body", "request body too large"), http.StatusRequestEntityTooLarge)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d", rec.Code)
	}
	if got := decodeError(t, rec); got.Param != "body" || got.Type != api.ErrorTypeInvalidRequest {
		t.Errorf("error = %+v", got)
	}
}

func TestWriteAPIError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		typ      api.ErrorType
		contains string
		hidden   string
	}{
		{
			name:     "wrapped transition error",
			err:      fmt.Errorf("approve: %w", api.NewInvalidTransitionError(api.StateIdle, "approve")),
			status:   http.StatusConflict,
			typ:      api.ErrorTypeInvalidTransition,
			contains: "cannot approve while session is idle",
		},
		{
			name:   "plain error",
			err:    errors.New("pq: password authentication failed"),
			status: http.StatusInternalServerError,
			typ:    api.ErrorTypeServerError,
			hidden: "password",
		},
		{
			name:   "harness fault",
			err:    api.NewHarnessFaultError(errors.New("fork/exec /usr/bin/python3: no such file")),
			status: http.StatusBadGateway,
			typ:    api.ErrorTypeHarnessFault,
			hidden: "fork/exec",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteAPIError(rec, tt.err)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if got := decodeError(t, rec); got.Type != tt.typ {
				t.Errorf("type = %q, want %q", got.Type, tt.typ)
			}
			body := rec.Body.String()
			if tt.contains != "" && !strings.Contains(body, tt.contains) {
				t.Errorf("body %s lacks %q", body, tt.contains)
			}
			if tt.hidden != "" && strings.Contains(body, tt.hidden) {
				t.Errorf("body %s leaks %q", body, tt.hidden)
			}
		})
	}
}
