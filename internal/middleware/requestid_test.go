package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestID_GeneratesWhenAbsent(t *testing.T) {
	var inContext string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inContext = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/events", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if inContext == "" {
		t.Error("expected a generated request ID in context")
	}
	if got := rr.Header().Get(RequestIDHeader); got != inContext {
		t.Errorf("expected response header to echo %q, got %q", inContext, got)
	}
}

func TestRequestID_HonorsCallerID(t *testing.T) {
	const callerID = "producer-req-42"

	var inContext string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inContext = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/events", nil)
	req.Header.Set(RequestIDHeader, callerID)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if inContext != callerID {
		t.Errorf("expected caller's ID %q in context, got %q", callerID, inContext)
	}
	if got := rr.Header().Get(RequestIDHeader); got != callerID {
		t.Errorf("expected response header %q, got %q", callerID, got)
	}
}

func TestGetRequestID_AbsentIsEmpty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	if got := GetRequestID(req.Context()); got != "" {
		t.Errorf("expected empty request ID, got %q", got)
	}
}
