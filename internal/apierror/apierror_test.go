package apierror

import (
	"net/http"
	"strings"
	"testing"
)

func TestInternalServerErrorKinds(t *testing.T) {
	tests := []struct {
		name string
		err  *APIError
	}{
		{"database", Database(errFixture("db error"))},
		{"io", IO(errFixture("io error"))},
		{"unexpected", Unexpected("unexpected error")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.HTTPStatus() != http.StatusInternalServerError {
				t.Errorf("expected 500, got %d", tt.err.HTTPStatus())
			}
			resp := tt.err.ToResponse()
			if resp.Code != 500 {
				t.Errorf("expected code 500, got %d", resp.Code)
			}
			if !tt.err.IsInternal() {
				t.Errorf("expected IsInternal() true")
			}
		})
	}
}

func TestBadRequestKinds(t *testing.T) {
	tests := []struct {
		err      *APIError
		wantName string
		wantMsg  string
	}{
		{FileNotFound(), "FileNotFound", "file not found"},
		{InvalidCount(), "InvalidCount", "invalid count: must be greater than 0"},
		{InvalidOperationType(99), "InvalidOperationType", "invalid operation type: 99"},
		{OperationNotFound(), "OperationNotFound", "operation not found"},
	}
	for _, tt := range tests {
		resp := tt.err.ToResponse()
		if resp.Code != 400 {
			t.Errorf("%s: expected code 400, got %d", tt.wantName, resp.Code)
		}
		if resp.Name != tt.wantName {
			t.Errorf("expected name %s, got %s", tt.wantName, resp.Name)
		}
		if resp.Error != tt.wantMsg {
			t.Errorf("expected message %q, got %q", tt.wantMsg, resp.Error)
		}
	}
}

func TestForbiddenStateMachineKinds(t *testing.T) {
	tests := []struct {
		err      *APIError
		wantName string
	}{
		{CannotMarkOperationProcessed("not allowed"), "CannotMarkOperationProcessed"},
		{CannotPostNewOperation("pending operation"), "CannotPostNewOperation"},
		{CannotRespondToOperation("already responded"), "CannotRespondToOperation"},
	}
	for _, tt := range tests {
		resp := tt.err.ToResponse()
		if resp.Code != 403 {
			t.Errorf("%s: expected code 403, got %d", tt.wantName, resp.Code)
		}
		if resp.Name != tt.wantName {
			t.Errorf("expected name %s, got %s", tt.wantName, resp.Name)
		}
	}
}

func TestNewlineCollapsedToSpace(t *testing.T) {
	err := InvalidRequest("error with\nnewline\ncharacters")
	collapsed := err.CollapsedMessage()

	if strings.Contains(collapsed, "\n") {
		t.Errorf("expected no newlines in collapsed message, got %q", collapsed)
	}
	if !strings.Contains(collapsed, "error with newline characters") {
		t.Errorf("unexpected collapsed message: %q", collapsed)
	}
}

func TestAuthKindsHaveFixedBodies(t *testing.T) {
	unauthorized := Unauthorized().ToResponse()
	if unauthorized.Code != 401 || unauthorized.Name != "Unauthorized" || unauthorized.Error != "missing or invalid credentials" {
		t.Errorf("unexpected Unauthorized response: %+v", unauthorized)
	}

	forbidden := Forbidden().ToResponse()
	if forbidden.Code != 403 || forbidden.Name != "Forbidden" || forbidden.Error != "you don't have access to this resource" {
		t.Errorf("unexpected Forbidden response: %+v", forbidden)
	}
}

type errFixture string

func (e errFixture) Error() string { return string(e) }
